// Package ingest owns the application state and runs the capture pipeline
// plus the admin operations over it.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maneesh/smilewall/internal/devices"
	"github.com/maneesh/smilewall/internal/gallery"
	"github.com/maneesh/smilewall/internal/metrics"
	"github.com/maneesh/smilewall/internal/models"
	"github.com/maneesh/smilewall/internal/payload"
	"github.com/maneesh/smilewall/internal/storage"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("smilewall-ingest")

// Broadcaster delivers push events to connected walls
type Broadcaster interface {
	Broadcast(e models.Event)
}

// Upload is one photo as received from a device
type Upload struct {
	Body         io.Reader
	FilenameHint string
	Credential   string
}

// Result is a committed ingestion
type Result struct {
	Capture models.Capture
	Total   int
}

// Options configures the coordinator
type Options struct {
	PublicBaseURL  string
	MaxUploadBytes int64
}

// Coordinator ties the blob store, registry, ledger and hub together.
// Total is ledger.Count() plus synthetic test smiles, which are kept only in
// memory and reset by Clear.
//
// commitMu orders commits against Clear: ingests and test smiles share it,
// Clear holds it exclusively, so a capture is either fully committed and
// announced before wall_cleared or started after it.
type Coordinator struct {
	commitMu sync.RWMutex

	blobs    storage.BlobStore
	ledger   *gallery.Ledger
	registry *devices.Registry
	hub      Broadcaster
	cache    storage.SnapshotCache
	reader   *payload.Reader

	synthetic  atomic.Int64
	generation atomic.Uint64

	baseURL string
	metrics metrics.Provider
	logger  zerolog.Logger
}

// NewCoordinator wires the components
func NewCoordinator(
	blobs storage.BlobStore,
	ledger *gallery.Ledger,
	registry *devices.Registry,
	hub Broadcaster,
	cache storage.SnapshotCache,
	opts Options,
	m metrics.Provider,
	logger zerolog.Logger,
) *Coordinator {
	if cache == nil {
		cache = storage.NoopCache{}
	}
	return &Coordinator{
		blobs:    blobs,
		ledger:   ledger,
		registry: registry,
		hub:      hub,
		cache:    cache,
		reader:   payload.NewReader(opts.MaxUploadBytes),
		baseURL:  opts.PublicBaseURL,
		metrics:  m,
		logger:   logger.With().Str("component", "ingest").Logger(),
	}
}

// ImageURL returns the public locator for a stored blob
func (c *Coordinator) ImageURL(name string) string {
	return c.baseURL + "/images/" + name
}

// Ingest stores the photo, attributes it, appends it to the ledger and
// broadcasts new_smile. It runs to completion even if ctx is cancelled so a
// disconnecting client never leaves a partial capture.
func (c *Coordinator) Ingest(ctx context.Context, u Upload) (*Result, error) {
	ctx, span := tracer.Start(context.WithoutCancel(ctx), "ingest.ingest",
		trace.WithAttributes(attribute.String("filename_hint", u.FilenameHint)),
	)
	defer span.End()

	// Received
	photo, err := c.reader.Read(u.Body, u.FilenameHint)
	if err != nil {
		if !errors.Is(err, models.ErrValidation) {
			err = fmt.Errorf("%w: %w", models.ErrValidation, err)
		}
		c.fail(span, "received", err)
		return nil, err
	}
	span.SetAttributes(
		attribute.Int64("size_bytes", photo.Size),
		attribute.String("content_type", photo.ContentType),
		attribute.String("sha256", photo.SHA256),
	)

	c.commitMu.RLock()
	defer c.commitMu.RUnlock()

	// Stored
	name, err := c.blobs.Store(ctx, photo.Data, photo.Extension)
	if err != nil {
		err = fmt.Errorf("%w: failed to store photo: %w", models.ErrStorage, err)
		c.fail(span, "store", err)
		return nil, err
	}
	span.SetAttributes(attribute.String("capture_id", name))

	// Attributed
	capture := models.Capture{
		ID:             name,
		Locator:        c.ImageURL(name),
		StoredFilename: name,
		CapturedAt:     time.Now().UnixMilli(),
		SizeBytes:      photo.Size,
		SHA256:         photo.SHA256,
		ContentType:    photo.ContentType,
	}
	device, attributed := c.registry.Lookup(u.Credential)
	if attributed {
		capture.DeviceID = &device.ID
		capture.DeviceName = &device.Name
		capture.DeviceLocation = &device.Location
		if !device.Active {
			c.logger.Warn().Str("camera", device.Name).Msg("Upload from inactive camera accepted")
		}
	} else if u.Credential != "" {
		c.logger.Warn().Err(models.ErrAttributionMiss).Str("filename", name).Msg("Unknown credential, capture attributed to Unknown")
	}
	span.SetAttributes(attribute.String("camera", capture.CameraName()))

	// Appended
	if err := c.ledger.Append(ctx, capture); err != nil {
		if delErr := c.blobs.Delete(ctx, name); delErr != nil {
			c.logger.Error().Err(delErr).Str("filename", name).Msg("Failed to remove blob after ledger failure")
		}
		c.fail(span, "append", err)
		return nil, err
	}

	if attributed {
		if _, err := c.registry.RecordCapture(ctx, device.ID); err != nil {
			c.logger.Warn().Err(err).Str("camera", device.Name).Msg("Failed to update camera stats")
		}
	}

	// Broadcast
	total := c.Total()
	c.invalidate(ctx)
	c.hub.Broadcast(models.NewSmile(capture.Locator, total, cameraInfo(capture)))
	c.metrics.IncCaptures(attributed)

	event := c.logger.Info().Str("filename", name).Int("total", total).Str("camera", capture.CameraName())
	if attributed {
		event = event.Str("location", device.Location)
	}
	event.Msg("New smile uploaded")

	return &Result{Capture: capture, Total: total}, nil
}

// TestSmile broadcasts a synthetic new_smile without storing anything and
// returns the new total
func (c *Coordinator) TestSmile(ctx context.Context) int {
	c.commitMu.RLock()
	defer c.commitMu.RUnlock()

	total := c.ledger.Count() + int(c.synthetic.Add(1))
	image := fmt.Sprintf("%s/images/test-%d.jpg", c.baseURL, total)

	c.invalidate(ctx)
	c.hub.Broadcast(models.NewSmile(image, total, nil))
	c.logger.Info().Int("total", total).Msg("Test smile triggered")
	return total
}

// Total is the wall counter
func (c *Coordinator) Total() int {
	return c.ledger.Count() + int(c.synthetic.Load())
}

// Gallery returns every capture, newest first
func (c *Coordinator) Gallery() []models.Capture {
	return c.ledger.List()
}

// Recent returns the locators of the newest capture blobs by modification time
func (c *Coordinator) Recent(ctx context.Context, limit int) ([]string, error) {
	ctx, span := tracer.Start(ctx, "ingest.recent")
	defer span.End()

	infos, err := c.blobs.List(ctx)
	if err != nil {
		span.RecordError(err)
		return []string{}, fmt.Errorf("%w: failed to list images: %w", models.ErrStorage, err)
	}

	captures := infos[:0:0]
	for _, info := range infos {
		if storage.IsCaptureName(info.Name) {
			captures = append(captures, info)
		}
	}
	sort.Slice(captures, func(i, j int) bool {
		if captures[i].ModTime.Equal(captures[j].ModTime) {
			return captures[i].Name > captures[j].Name
		}
		return captures[i].ModTime.After(captures[j].ModTime)
	})
	if limit > 0 && len(captures) > limit {
		captures = captures[:limit]
	}

	urls := make([]string, len(captures))
	for i, info := range captures {
		urls[i] = c.ImageURL(info.Name)
	}
	return urls, nil
}

// Delete removes the given captures and their blobs
func (c *Coordinator) Delete(ctx context.Context, ids []string) (int, error) {
	n, err := c.ledger.Remove(ctx, ids)
	if n > 0 {
		c.invalidate(ctx)
	}
	c.logger.Info().Int("deleted", n).Msg("Deleted images from gallery")
	return n, err
}

// Export marks the given captures as exported
func (c *Coordinator) Export(ctx context.Context, ids []string) (int, error) {
	n, err := c.ledger.MarkExported(ctx, ids)
	if n > 0 {
		c.invalidate(ctx)
	}
	c.logger.Info().Int("uploaded", n).Msg("Marked images as exported")
	return n, err
}

// Clear wipes the ledger and capture blobs, resets the counter and
// broadcasts wall_cleared
func (c *Coordinator) Clear(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "ingest.clear")
	defer span.End()

	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	deleted, err := c.ledger.ClearAll(ctx)
	c.synthetic.Store(0)
	c.invalidate(ctx)
	c.hub.Broadcast(models.NewWallCleared())

	span.SetAttributes(attribute.Int("deleted", deleted))
	if err != nil {
		span.RecordError(err)
		return deleted, err
	}
	c.logger.Info().Int("deleted", deleted).Msg("Cleared images, counter reset")
	return deleted, nil
}

// Devices returns registered cameras
func (c *Coordinator) Devices() []models.Device {
	return c.registry.List()
}

// RegisterDevice adds a camera
func (c *Coordinator) RegisterDevice(ctx context.Context, name, location, credential string) (models.Device, error) {
	return c.registry.Register(ctx, name, location, credential)
}

// RemoveDevice deletes a camera. Past captures keep their attribution.
func (c *Coordinator) RemoveDevice(ctx context.Context, id string) error {
	return c.registry.Remove(ctx, id)
}

// SetDeviceActive toggles a camera
func (c *Coordinator) SetDeviceActive(ctx context.Context, id string, active bool) (models.Device, error) {
	return c.registry.SetActive(ctx, id, active)
}

// OpenImage opens a stored capture for reading
func (c *Coordinator) OpenImage(ctx context.Context, name string) (*storage.Blob, error) {
	if !storage.ValidName(name) {
		return nil, fmt.Errorf("%w: image %s", models.ErrNotFound, name)
	}
	blob, err := c.blobs.Open(ctx, name)
	if errors.Is(err, storage.ErrBlobNotFound) {
		return nil, fmt.Errorf("%w: image %s", models.ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open image: %w", models.ErrStorage, err)
	}
	return blob, nil
}

// CacheGeneration changes whenever state the snapshots render has changed.
// A snapshot computed under one generation must not be cached under another.
func (c *Coordinator) CacheGeneration() uint64 {
	return c.generation.Load()
}

func (c *Coordinator) invalidate(ctx context.Context) {
	c.generation.Add(1)
	if err := c.cache.Invalidate(ctx, storage.GalleryCacheKey, storage.RecentCacheKey); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to invalidate snapshot cache")
	}
}

func (c *Coordinator) fail(span trace.Span, stage string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, stage)
	c.metrics.IncIngestFailures(stage)
	c.logger.Error().Err(err).Str("stage", stage).Msg("Upload failed")
}

func cameraInfo(c models.Capture) *models.CameraInfo {
	if !c.Attributed() {
		return nil
	}
	info := &models.CameraInfo{Name: *c.DeviceName}
	if c.DeviceLocation != nil {
		info.Location = *c.DeviceLocation
	}
	return info
}
