package handlers

import (
	"errors"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/maneesh/smilewall/internal/metrics"
	"github.com/maneesh/smilewall/internal/models"
	"github.com/maneesh/smilewall/internal/storage"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("smilewall-handlers")

// ErrorResponse is the failure body shared by every JSON endpoint
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeRaw(w, status, data)
}

func writeRaw(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, err error, message string) {
	writeJSON(w, statusFor(err), ErrorResponse{
		Success: false,
		Message: message,
		Error:   err.Error(),
	})
}

// snapshotServer renders read-only responses through the snapshot cache.
// generation reports the state version; a body is cached only if no
// mutation happened while it was computed.
type snapshotServer struct {
	cache      storage.SnapshotCache
	generation func() uint64
	metrics    metrics.Provider
	logger     zerolog.Logger
}

func (ss *snapshotServer) serveFromCacheOrCompute(w http.ResponseWriter, r *http.Request, key string, compute func() (any, bool)) {
	ctx := r.Context()
	data, err := ss.cache.Get(ctx, key)
	if err != nil {
		ss.logger.Warn().Err(err).Str("key", key).Msg("Snapshot cache read failed")
	}
	if data != nil {
		ss.metrics.IncCacheHits()
		writeRaw(w, http.StatusOK, data)
		return
	}
	ss.metrics.IncCacheMisses()

	gen := ss.generation()
	result, cacheable := compute()
	data, err = json.Marshal(result)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	if cacheable && ss.generation() == gen {
		if err := ss.cache.Set(ctx, key, data); err != nil {
			ss.logger.Warn().Err(err).Str("key", key).Msg("Snapshot cache write failed")
		}
	}
	writeRaw(w, http.StatusOK, data)
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Join(models.ErrValidation, err)
	}
	return nil
}
