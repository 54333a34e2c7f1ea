package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider_DisabledIsNoop(t *testing.T) {
	m := NewProvider(false, prometheus.NewRegistry())
	_, ok := m.(noopMetrics)
	assert.True(t, ok)

	m.IncRequestsTotal("/count", 200)
	m.ObserveRequestDuration("/count", time.Millisecond)
	m.IncCaptures(true)
	m.IncIngestFailures("store")
	m.ObservePersistenceDuration("gallery", time.Millisecond)
	m.SetLedgerSize(3)
	m.SetSessions(2)
	m.IncEventsSent("new_smile")
	m.IncEventsDropped("new_smile")
	m.IncCacheHits()
	m.IncCacheMisses()
}

func TestPrometheusProvider_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewProvider(true, reg).(*PrometheusProvider)

	m.IncCaptures(true)
	m.IncCaptures(false)
	m.IncCaptures(false)
	m.SetSessions(4)
	m.IncEventsDropped("wall_cleared")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.capturesTotal.WithLabelValues("device")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.capturesTotal.WithLabelValues("unknown")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.sessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsDropped.WithLabelValues("wall_cleared")))
}

func TestHTTPStatusBucket(t *testing.T) {
	tests := []struct {
		code     int
		expected string
	}{
		{101, "1xx"},
		{200, "2xx"},
		{302, "3xx"},
		{404, "4xx"},
		{500, "5xx"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, httpStatusBucket(tt.code))
	}
}

type recordingMetrics struct {
	noopMetrics
	endpoint string
	status   int
	calls    int
}

func (r *recordingMetrics) IncRequestsTotal(endpoint string, status int) {
	r.endpoint = endpoint
	r.status = status
	r.calls++
}

func TestMiddleware_UsesRouteTemplate(t *testing.T) {
	rec := &recordingMetrics{}
	router := mux.NewRouter()
	router.Use(Middleware(rec))
	router.HandleFunc("/cameras/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/cameras/abc", nil))

	require.Equal(t, 1, rec.calls)
	assert.Equal(t, "/cameras/{id}", rec.endpoint)
	assert.Equal(t, http.StatusNotFound, rec.status)
}

func TestStatusWriter_DefaultStatus(t *testing.T) {
	rr := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rr, status: http.StatusOK}

	_, _ = sw.Write([]byte("ok"))
	assert.Equal(t, http.StatusOK, sw.status)

	sw.WriteHeader(http.StatusCreated)
	assert.Equal(t, http.StatusCreated, sw.status)
	assert.Equal(t, http.StatusCreated, rr.Code)
}

func TestMiddleware_FlushPassesThrough(t *testing.T) {
	rec := &recordingMetrics{}
	router := mux.NewRouter()
	router.Use(Middleware(rec))
	router.HandleFunc("/images/{filename}", func(w http.ResponseWriter, r *http.Request) {
		f, ok := w.(http.Flusher)
		require.True(t, ok)
		_, _ = w.Write([]byte("partial"))
		f.Flush()
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/images/capture-1.jpg", nil))

	assert.True(t, rr.Flushed)
	assert.Equal(t, "partial", rr.Body.String())
	assert.Equal(t, "/images/{filename}", rec.endpoint)
}

func TestStatusWriter_FlushWithoutFlusher(t *testing.T) {
	sw := &statusWriter{ResponseWriter: plainWriter{httptest.NewRecorder()}, status: http.StatusOK}
	assert.NotPanics(t, sw.Flush)
}

// plainWriter hides the recorder's Flush method
type plainWriter struct {
	rr *httptest.ResponseRecorder
}

func (p plainWriter) Header() http.Header         { return p.rr.Header() }
func (p plainWriter) Write(b []byte) (int, error) { return p.rr.Write(b) }
func (p plainWriter) WriteHeader(code int)        { p.rr.WriteHeader(code) }
