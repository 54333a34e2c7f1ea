package handlers

import (
	"fmt"
	"net/http"

	gorillahandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/maneesh/smilewall/internal/hub"
	"github.com/maneesh/smilewall/internal/ingest"
	"github.com/maneesh/smilewall/internal/metrics"
	"github.com/maneesh/smilewall/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Deps are the collaborators the HTTP surface needs
type Deps struct {
	Coordinator    *ingest.Coordinator
	Hub            *hub.Hub
	Cache          storage.SnapshotCache
	Metrics        metrics.Provider
	Gatherer       prometheus.Gatherer
	Logger         zerolog.Logger
	MaxUploadBytes int64
	RecentLimit    int
	CORSOrigins    []string
}

// NewRouter builds the full HTTP handler. /metrics is mounted only when a
// Gatherer is supplied.
func NewRouter(d Deps) http.Handler {
	if d.Cache == nil {
		d.Cache = storage.NoopCache{}
	}
	if d.Metrics == nil {
		d.Metrics = metrics.Noop()
	}
	logger := d.Logger.With().Str("component", "http").Logger()

	ss := snapshotServer{
		cache:      d.Cache,
		generation: d.Coordinator.CacheGeneration,
		metrics:    d.Metrics,
		logger:     logger,
	}
	upload := NewUploadHandler(d.Coordinator, d.MaxUploadBytes, logger)
	wall := NewWallHandler(d.Coordinator, d.RecentLimit, ss)
	gallery := NewGalleryHandler(d.Coordinator, ss)
	cameras := NewCameraHandler(d.Coordinator)
	images := NewImageHandler(d.Coordinator, logger)
	downloads := NewDownloadHandler(d.Coordinator, logger)
	socket := NewSocketHandler(d.Hub, d.Coordinator, d.CORSOrigins, logger)

	router := mux.NewRouter()
	router.Use(metrics.Middleware(d.Metrics))

	// Health check endpoint (no tracing needed)
	router.HandleFunc("/health", Health).Methods(http.MethodGet)
	if d.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	traced := func(method, path string, h http.Handler) {
		router.Handle(path, otelhttp.NewHandler(h, method+" "+path)).Methods(method)
	}

	traced(http.MethodPost, "/upload", upload)
	traced(http.MethodPost, "/test-smile", http.HandlerFunc(wall.TestSmile))
	traced(http.MethodGet, "/count", http.HandlerFunc(wall.Count))
	traced(http.MethodGet, "/recent-images", http.HandlerFunc(wall.Recent))
	traced(http.MethodPost, "/clear-images", http.HandlerFunc(wall.Clear))

	traced(http.MethodGet, "/gallery", http.HandlerFunc(gallery.List))
	traced(http.MethodPost, "/gallery/delete", http.HandlerFunc(gallery.Delete))
	traced(http.MethodPost, "/gallery/upload-drive", http.HandlerFunc(gallery.Export))

	traced(http.MethodGet, "/cameras", http.HandlerFunc(cameras.List))
	traced(http.MethodPost, "/cameras", http.HandlerFunc(cameras.Register))
	traced(http.MethodDelete, "/cameras/{id}", http.HandlerFunc(cameras.Remove))
	traced(http.MethodPatch, "/cameras/{id}/toggle", http.HandlerFunc(cameras.Toggle))

	traced(http.MethodGet, "/images/{filename}", images)
	traced(http.MethodGet, "/download/{filename}", downloads)

	// Long-lived: no server span around the push channel
	router.Handle("/ws", socket).Methods(http.MethodGet)

	cors := gorillahandlers.CORS(
		gorillahandlers.AllowedOrigins(d.CORSOrigins),
		gorillahandlers.AllowedMethods([]string{
			http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions,
		}),
		gorillahandlers.AllowedHeaders([]string{"Content-Type", "X-Api-Key"}),
	)
	recovery := gorillahandlers.RecoveryHandler(
		gorillahandlers.RecoveryLogger(recoveryLogger{logger}),
		gorillahandlers.PrintRecoveryStack(true),
	)
	return recovery(cors(router))
}

type recoveryLogger struct {
	logger zerolog.Logger
}

func (rl recoveryLogger) Println(v ...interface{}) {
	rl.logger.Error().Msg(fmt.Sprint(v...))
}
