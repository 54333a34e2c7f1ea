// Package devices maps upload credentials to registered capture devices.
package devices

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/maneesh/smilewall/internal/metrics"
	"github.com/maneesh/smilewall/internal/models"
	"github.com/maneesh/smilewall/internal/storage"
	"github.com/rs/zerolog"
)

type document struct {
	Cameras []models.Device `json:"cameras"`
}

// Registry holds devices in registration order with a credential index.
// A credential shared by several devices resolves to the first one.
type Registry struct {
	mu           sync.RWMutex
	devices      []models.Device
	byCredential map[string]int

	saveMu sync.Mutex

	docs    storage.DocumentStore
	metrics metrics.Provider
	logger  zerolog.Logger
	now     func() time.Time
	newID   func() string
}

// NewRegistry creates an empty registry; call Load to restore persisted state
func NewRegistry(docs storage.DocumentStore, m metrics.Provider, logger zerolog.Logger) *Registry {
	return &Registry{
		byCredential: make(map[string]int),
		docs:         docs,
		metrics:      m,
		logger:       logger.With().Str("component", "devices").Logger(),
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

// Load replaces the registry with the persisted document
func (r *Registry) Load(ctx context.Context) error {
	data, err := r.docs.Load(ctx, storage.DevicesDocument)
	if err != nil {
		return fmt.Errorf("%w: failed to load cameras: %w", models.ErrStorage, err)
	}

	var doc document
	if len(data) > 0 {
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("%w: failed to decode cameras: %w", models.ErrStorage, err)
		}
	}

	r.mu.Lock()
	r.devices = doc.Cameras
	r.reindexLocked()
	count := len(r.devices)
	r.mu.Unlock()

	r.logger.Info().Int("cameras", count).Msg("Cameras loaded")
	return nil
}

// Lookup resolves a credential. Empty or unknown credentials return false.
func (r *Registry) Lookup(credential string) (models.Device, bool) {
	if credential == "" {
		return models.Device{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	idx, ok := r.byCredential[credential]
	if !ok {
		return models.Device{}, false
	}
	return r.devices[idx], true
}

// Register adds an active device with zero captures
func (r *Registry) Register(ctx context.Context, name, location, credential string) (models.Device, error) {
	name = strings.TrimSpace(name)
	location = strings.TrimSpace(location)
	if name == "" || location == "" || credential == "" {
		return models.Device{}, fmt.Errorf("%w: missing required fields", models.ErrValidation)
	}

	device := models.Device{
		ID:         r.newID(),
		Name:       name,
		Location:   location,
		Credential: credential,
		Active:     true,
		CreatedAt:  r.now().UTC(),
	}

	r.mu.Lock()
	if idx, dup := r.byCredential[credential]; dup {
		r.logger.Warn().
			Str("camera", name).
			Str("shadowed_by", r.devices[idx].Name).
			Msg("Credential already registered, uploads keep attributing to the first camera")
	}
	r.devices = append(r.devices, device)
	r.reindexLocked()
	r.mu.Unlock()

	if err := r.persist(ctx); err != nil {
		r.mu.Lock()
		if idx := r.indexLocked(device.ID); idx >= 0 {
			r.devices = append(r.devices[:idx:idx], r.devices[idx+1:]...)
			r.reindexLocked()
		}
		r.mu.Unlock()
		return models.Device{}, err
	}

	r.logger.Info().Str("camera", name).Str("location", location).Msg("New camera added")
	return device, nil
}

// Remove deletes a device. Existing captures keep their attribution.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	idx := r.indexLocked(id)
	if idx < 0 {
		r.mu.Unlock()
		return fmt.Errorf("%w: camera %s", models.ErrNotFound, id)
	}
	removed := r.devices[idx]
	r.devices = append(r.devices[:idx:idx], r.devices[idx+1:]...)
	r.reindexLocked()
	r.mu.Unlock()

	if err := r.persist(ctx); err != nil {
		return err
	}

	r.logger.Info().Str("camera", removed.Name).Msg("Camera deleted")
	return nil
}

// SetActive toggles a device
func (r *Registry) SetActive(ctx context.Context, id string, active bool) (models.Device, error) {
	r.mu.Lock()
	idx := r.indexLocked(id)
	if idx < 0 {
		r.mu.Unlock()
		return models.Device{}, fmt.Errorf("%w: camera %s", models.ErrNotFound, id)
	}
	r.devices[idx].Active = active
	device := r.devices[idx]
	r.mu.Unlock()

	if err := r.persist(ctx); err != nil {
		return device, err
	}

	state := "disabled"
	if active {
		state = "enabled"
	}
	r.logger.Info().Str("camera", device.Name).Str("state", state).Msg("Camera toggled")
	return device, nil
}

// RecordCapture increments the capture counter and sets lastCapture
func (r *Registry) RecordCapture(ctx context.Context, id string) (models.Device, error) {
	now := r.now().UTC()

	r.mu.Lock()
	idx := r.indexLocked(id)
	if idx < 0 {
		r.mu.Unlock()
		return models.Device{}, fmt.Errorf("%w: camera %s", models.ErrNotFound, id)
	}
	r.devices[idx].CaptureCount++
	r.devices[idx].LastCaptureAt = &now
	device := r.devices[idx]
	r.mu.Unlock()

	return device, r.persist(ctx)
}

// List returns devices in registration order
func (r *Registry) List() []models.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Device, len(r.devices))
	copy(out, r.devices)
	return out
}

func (r *Registry) indexLocked(id string) int {
	for i := range r.devices {
		if r.devices[i].ID == id {
			return i
		}
	}
	return -1
}

func (r *Registry) reindexLocked() {
	r.byCredential = make(map[string]int, len(r.devices))
	for i, d := range r.devices {
		if d.Credential == "" {
			continue
		}
		if _, seen := r.byCredential[d.Credential]; !seen {
			r.byCredential[d.Credential] = i
		}
	}
}

func (r *Registry) persist(ctx context.Context) error {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	start := time.Now()
	defer func() {
		r.metrics.ObservePersistenceDuration(storage.DevicesDocument, time.Since(start))
	}()

	data, err := json.Marshal(document{Cameras: r.List()})
	if err != nil {
		return fmt.Errorf("%w: failed to encode cameras: %w", models.ErrStorage, err)
	}
	if err := r.docs.Save(ctx, storage.DevicesDocument, data); err != nil {
		r.logger.Error().Err(err).Msg("Failed to persist cameras")
		return fmt.Errorf("%w: failed to persist cameras: %w", models.ErrStorage, err)
	}
	return nil
}
