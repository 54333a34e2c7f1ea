// Package gallery holds the durable newest-first record of captures.
package gallery

import (
	"context"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/maneesh/smilewall/internal/metrics"
	"github.com/maneesh/smilewall/internal/models"
	"github.com/maneesh/smilewall/internal/storage"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("smilewall-gallery")

type document struct {
	Gallery []models.Capture `json:"gallery"`
}

// Ledger is the ordered capture list. The mutex guards only memory; saves
// are serialized by saveMu and always snapshot the newest state.
type Ledger struct {
	mu      sync.RWMutex
	entries []models.Capture

	saveMu sync.Mutex

	docs    storage.DocumentStore
	blobs   storage.BlobStore
	metrics metrics.Provider
	logger  zerolog.Logger
	now     func() time.Time
}

// NewLedger creates an empty ledger; call Load to restore persisted state
func NewLedger(docs storage.DocumentStore, blobs storage.BlobStore, m metrics.Provider, logger zerolog.Logger) *Ledger {
	return &Ledger{
		docs:    docs,
		blobs:   blobs,
		metrics: m,
		logger:  logger.With().Str("component", "gallery").Logger(),
		now:     time.Now,
	}
}

// Load replaces the in-memory ledger with the persisted document
func (l *Ledger) Load(ctx context.Context) error {
	data, err := l.docs.Load(ctx, storage.GalleryDocument)
	if err != nil {
		return fmt.Errorf("%w: failed to load gallery: %w", models.ErrStorage, err)
	}

	var doc document
	if len(data) > 0 {
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("%w: failed to decode gallery: %w", models.ErrStorage, err)
		}
	}

	l.mu.Lock()
	l.entries = doc.Gallery
	count := len(l.entries)
	l.mu.Unlock()

	l.metrics.SetLedgerSize(count)
	l.logger.Info().Int("captures", count).Msg("Gallery loaded")
	return nil
}

// Append inserts c at the head and persists. On persist failure the insert
// is rolled back.
func (l *Ledger) Append(ctx context.Context, c models.Capture) error {
	ctx, span := tracer.Start(ctx, "gallery.append",
		trace.WithAttributes(attribute.String("capture_id", c.ID)),
	)
	defer span.End()

	l.mu.Lock()
	l.entries = append([]models.Capture{c}, l.entries...)
	l.mu.Unlock()

	if err := l.persist(ctx); err != nil {
		l.mu.Lock()
		l.removeLocked(map[string]struct{}{c.ID: {}})
		l.mu.Unlock()
		span.RecordError(err)
		return err
	}

	l.metrics.SetLedgerSize(l.Count())
	return nil
}

// List returns a newest-first copy
func (l *Ledger) List() []models.Capture {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.Capture, len(l.entries))
	copy(out, l.entries)
	return out
}

// Get returns the capture with the given id
func (l *Ledger) Get(id string) (models.Capture, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, c := range l.entries {
		if c.ID == id {
			return c, true
		}
	}
	return models.Capture{}, false
}

// Count is always len(List())
func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Remove drops every matching entry and deletes its blob. Unknown ids are
// skipped; a failed blob delete is logged and the entry is still removed.
func (l *Ledger) Remove(ctx context.Context, ids []string) (int, error) {
	ctx, span := tracer.Start(ctx, "gallery.remove",
		trace.WithAttributes(attribute.Int("requested", len(ids))),
	)
	defer span.End()

	l.mu.Lock()
	removed := l.removeLocked(toSet(ids))
	l.mu.Unlock()

	span.SetAttributes(attribute.Int("removed", len(removed)))
	if len(removed) == 0 {
		return 0, nil
	}

	for _, c := range removed {
		if err := l.blobs.Delete(ctx, c.StoredFilename); err != nil {
			l.logger.Error().Err(err).Str("filename", c.StoredFilename).Msg("Failed to delete blob")
		}
	}

	l.metrics.SetLedgerSize(l.Count())
	if err := l.persist(ctx); err != nil {
		span.RecordError(err)
		return len(removed), err
	}
	return len(removed), nil
}

// MarkExported flags every matching entry as exported with a fresh timestamp.
// Already exported entries are marked again and counted.
func (l *Ledger) MarkExported(ctx context.Context, ids []string) (int, error) {
	ctx, span := tracer.Start(ctx, "gallery.mark_exported",
		trace.WithAttributes(attribute.Int("requested", len(ids))),
	)
	defer span.End()

	wanted := toSet(ids)
	now := l.now().UTC()

	l.mu.Lock()
	updated := 0
	for i := range l.entries {
		if _, ok := wanted[l.entries[i].ID]; !ok {
			continue
		}
		at := now
		l.entries[i].Exported = true
		l.entries[i].ExportedAt = &at
		updated++
	}
	l.mu.Unlock()

	span.SetAttributes(attribute.Int("updated", updated))
	if updated == 0 {
		return 0, nil
	}
	if err := l.persist(ctx); err != nil {
		span.RecordError(err)
		return updated, err
	}
	return updated, nil
}

// ClearAll empties the ledger and deletes the blob of every entry plus any
// orphan capture blob left in the store. It returns the number of distinct
// existing blobs deleted.
func (l *Ledger) ClearAll(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "gallery.clear_all")
	defer span.End()

	l.mu.Lock()
	cleared := l.entries
	l.entries = nil
	l.mu.Unlock()

	l.metrics.SetLedgerSize(0)
	persistErr := l.persist(ctx)

	listed, err := l.blobs.List(ctx)
	listOK := err == nil
	if !listOK {
		l.logger.Error().Err(err).Msg("Failed to list blobs, clearing ledger blobs only")
	}
	existing := make(map[string]bool, len(listed))
	for _, info := range listed {
		existing[info.Name] = true
	}

	targets := make(map[string]struct{}, len(cleared)+len(listed))
	for _, c := range cleared {
		targets[c.StoredFilename] = struct{}{}
	}
	for _, info := range listed {
		if storage.IsCaptureName(info.Name) {
			targets[info.Name] = struct{}{}
		}
	}

	deleted := 0
	for name := range targets {
		if err := l.blobs.Delete(ctx, name); err != nil {
			l.logger.Error().Err(err).Str("filename", name).Msg("Failed to delete blob")
			continue
		}
		// Without a listing every successful delete counts
		if existing[name] || !listOK {
			deleted++
		}
	}

	span.SetAttributes(
		attribute.Int("cleared_entries", len(cleared)),
		attribute.Int("deleted_blobs", deleted),
	)
	if persistErr != nil {
		span.RecordError(persistErr)
		return deleted, persistErr
	}
	return deleted, nil
}

func (l *Ledger) removeLocked(ids map[string]struct{}) []models.Capture {
	var removed []models.Capture
	kept := l.entries[:0:0]
	for _, c := range l.entries {
		if _, ok := ids[c.ID]; ok {
			removed = append(removed, c)
			continue
		}
		kept = append(kept, c)
	}
	l.entries = kept
	return removed
}

func (l *Ledger) persist(ctx context.Context) error {
	l.saveMu.Lock()
	defer l.saveMu.Unlock()

	start := time.Now()
	defer func() {
		l.metrics.ObservePersistenceDuration(storage.GalleryDocument, time.Since(start))
	}()

	data, err := json.Marshal(document{Gallery: l.List()})
	if err != nil {
		return fmt.Errorf("%w: failed to encode gallery: %w", models.ErrStorage, err)
	}
	if err := l.docs.Save(ctx, storage.GalleryDocument, data); err != nil {
		l.logger.Error().Err(err).Msg("Failed to persist gallery")
		return fmt.Errorf("%w: failed to persist gallery: %w", models.ErrStorage, err)
	}
	return nil
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
