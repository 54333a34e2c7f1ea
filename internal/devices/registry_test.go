package devices

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/maneesh/smilewall/internal/metrics"
	"github.com/maneesh/smilewall/internal/models"
	"github.com/maneesh/smilewall/internal/storage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memDocs struct {
	mu   sync.Mutex
	data map[string][]byte
	fail bool
}

func (m *memDocs) Load(_ context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[name], nil
}

func (m *memDocs) Save(_ context.Context, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("read-only filesystem")
	}
	m.data[name] = append([]byte(nil), data...)
	return nil
}

func (m *memDocs) Close() error { return nil }

func newTestRegistry() (*Registry, *memDocs) {
	docs := &memDocs{data: make(map[string][]byte)}
	return NewRegistry(docs, metrics.Noop(), zerolog.Nop()), docs
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r, docs := newTestRegistry()
	ctx := context.Background()

	lobby, err := r.Register(ctx, " Lobby ", "Floor 1", "cam_abc")
	require.NoError(t, err)
	assert.NotEmpty(t, lobby.ID)
	assert.Equal(t, "Lobby", lobby.Name)
	assert.True(t, lobby.Active)
	assert.Zero(t, lobby.CaptureCount)
	assert.Nil(t, lobby.LastCaptureAt)
	assert.False(t, lobby.CreatedAt.IsZero())

	got, ok := r.Lookup("cam_abc")
	require.True(t, ok)
	assert.Equal(t, lobby.ID, got.ID)

	_, ok = r.Lookup("")
	assert.False(t, ok)
	_, ok = r.Lookup("cam_nope")
	assert.False(t, ok)

	assert.Contains(t, string(docs.data[storage.DevicesDocument]), `"apiKey":"cam_abc"`)
}

func TestRegistry_RegisterValidation(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	for _, tc := range [][3]string{
		{"", "Floor 1", "k"},
		{"Lobby", "  ", "k"},
		{"Lobby", "Floor 1", ""},
	} {
		_, err := r.Register(ctx, tc[0], tc[1], tc[2])
		assert.ErrorIs(t, err, models.ErrValidation)
	}
	assert.Empty(t, r.List())
}

func TestRegistry_DuplicateCredentialAttributesToFirst(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	first, err := r.Register(ctx, "Lobby", "Floor 1", "shared")
	require.NoError(t, err)
	_, err = r.Register(ctx, "Roof", "Floor 9", "shared")
	require.NoError(t, err)

	got, ok := r.Lookup("shared")
	require.True(t, ok)
	assert.Equal(t, first.ID, got.ID)

	require.NoError(t, r.Remove(ctx, first.ID))
	got, ok = r.Lookup("shared")
	require.True(t, ok)
	assert.Equal(t, "Roof", got.Name)
}

func TestRegistry_RemoveAndToggleUnknown(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	assert.ErrorIs(t, r.Remove(ctx, "missing"), models.ErrNotFound)
	_, err := r.SetActive(ctx, "missing", false)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = r.RecordCapture(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestRegistry_SetActive(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()
	d, err := r.Register(ctx, "Lobby", "Floor 1", "cam_abc")
	require.NoError(t, err)

	updated, err := r.SetActive(ctx, d.ID, false)
	require.NoError(t, err)
	assert.False(t, updated.Active)

	got, ok := r.Lookup("cam_abc")
	require.True(t, ok)
	assert.False(t, got.Active)
}

func TestRegistry_RecordCapture(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return at }

	d, err := r.Register(ctx, "Lobby", "Floor 1", "cam_abc")
	require.NoError(t, err)

	updated, err := r.RecordCapture(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.CaptureCount)
	require.NotNil(t, updated.LastCaptureAt)
	assert.True(t, updated.LastCaptureAt.Equal(at))
}

func TestRegistry_PersistFailureSurfaces(t *testing.T) {
	r, docs := newTestRegistry()
	docs.fail = true

	_, err := r.Register(context.Background(), "Lobby", "Floor 1", "cam_abc")
	assert.ErrorIs(t, err, models.ErrStorage)
	assert.Empty(t, r.List())
	_, ok := r.Lookup("cam_abc")
	assert.False(t, ok)
}

func TestRegistry_Reload(t *testing.T) {
	r, docs := newTestRegistry()
	ctx := context.Background()
	_, err := r.Register(ctx, "Lobby", "Floor 1", "cam_abc")
	require.NoError(t, err)
	_, err = r.Register(ctx, "Roof", "Floor 9", "cam_xyz")
	require.NoError(t, err)

	reloaded := NewRegistry(docs, metrics.Noop(), zerolog.Nop())
	require.NoError(t, reloaded.Load(ctx))

	list := reloaded.List()
	require.Len(t, list, 2)
	assert.Equal(t, "Lobby", list[0].Name)
	assert.Equal(t, "Roof", list[1].Name)

	got, ok := reloaded.Lookup("cam_xyz")
	require.True(t, ok)
	assert.Equal(t, "Roof", got.Name)
}
