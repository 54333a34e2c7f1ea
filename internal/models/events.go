package models

import json "github.com/goccy/go-json"

// Push channel event names
const (
	EventInitialCount = "initial_count"
	EventNewSmile     = "new_smile"
	EventWallCleared  = "wall_cleared"
)

// CameraInfo is the attribution block carried by new_smile
type CameraInfo struct {
	Name     string `json:"name"`
	Location string `json:"location"`
}

// Event is one frame pushed to wall sessions. Image and Camera are only
// meaningful for new_smile.
type Event struct {
	Event      string
	Image      string
	TotalCount int
	Camera     *CameraInfo
}

// MarshalJSON writes the flat wire shape. new_smile always carries the
// camera key (null when unattributed); the other events carry only the count.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Event == EventNewSmile {
		return json.Marshal(struct {
			Event      string      `json:"event"`
			Image      string      `json:"image"`
			TotalCount int         `json:"total_count"`
			Camera     *CameraInfo `json:"camera"`
		}{e.Event, e.Image, e.TotalCount, e.Camera})
	}
	return json.Marshal(struct {
		Event      string `json:"event"`
		TotalCount int    `json:"total_count"`
	}{e.Event, e.TotalCount})
}

// UnmarshalJSON is the inverse of MarshalJSON, used by wall clients and tests
func (e *Event) UnmarshalJSON(data []byte) error {
	var wire struct {
		Event      string      `json:"event"`
		Image      string      `json:"image"`
		TotalCount int         `json:"total_count"`
		Camera     *CameraInfo `json:"camera"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*e = Event{Event: wire.Event, Image: wire.Image, TotalCount: wire.TotalCount, Camera: wire.Camera}
	return nil
}

// NewInitialCount builds the private greeting sent to a freshly joined session
func NewInitialCount(total int) Event {
	return Event{Event: EventInitialCount, TotalCount: total}
}

// NewSmile builds the broadcast emitted after a completed ingestion
func NewSmile(image string, total int, camera *CameraInfo) Event {
	return Event{Event: EventNewSmile, Image: image, TotalCount: total, Camera: camera}
}

// NewWallCleared builds the hard-reset broadcast
func NewWallCleared() Event {
	return Event{Event: EventWallCleared, TotalCount: 0}
}
