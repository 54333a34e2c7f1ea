package models

import "time"

// Capture represents one uploaded photograph stored in the gallery ledger
type Capture struct {
	ID             string     `json:"id"`
	Locator        string     `json:"url"`
	StoredFilename string     `json:"filename"`
	CapturedAt     int64      `json:"timestamp"`
	DeviceID       *string    `json:"cameraId"`
	DeviceName     *string    `json:"camera"`
	DeviceLocation *string    `json:"cameraLocation"`
	Exported       bool       `json:"uploaded"`
	ExportedAt     *time.Time `json:"uploadedAt"`
	SizeBytes      int64      `json:"size,omitempty"`
	SHA256         string     `json:"sha256,omitempty"`
	ContentType    string     `json:"contentType,omitempty"`
}

// UnknownDevice is the attribution label used in logs for captures without a device
const UnknownDevice = "Unknown"

// Attributed reports whether the capture was matched to a registered device
func (c *Capture) Attributed() bool {
	return c.DeviceName != nil
}

// CameraName returns the attributed device name or UnknownDevice
func (c *Capture) CameraName() string {
	if c.DeviceName == nil {
		return UnknownDevice
	}
	return *c.DeviceName
}

// Device represents a registered capture endpoint
type Device struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Location      string     `json:"location"`
	Credential    string     `json:"apiKey"`
	Active        bool       `json:"active"`
	CaptureCount  int64      `json:"captureCount"`
	LastCaptureAt *time.Time `json:"lastCapture"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// BlobInfo describes an object held by a blob store
type BlobInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
}
