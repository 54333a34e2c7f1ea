package handlers

import (
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
	"github.com/maneesh/smilewall/internal/hub"
	"github.com/maneesh/smilewall/internal/ingest"
	"github.com/maneesh/smilewall/internal/models"
	"github.com/rs/zerolog"
)

// SocketHandler upgrades walls onto the push channel
type SocketHandler struct {
	hub         *hub.Hub
	coordinator *ingest.Coordinator
	upgrader    websocket.Upgrader
	logger      zerolog.Logger
}

// NewSocketHandler creates a new websocket handler accepting the given origins
func NewSocketHandler(h *hub.Hub, coordinator *ingest.Coordinator, origins []string, logger zerolog.Logger) *SocketHandler {
	return &SocketHandler{
		hub:         h,
		coordinator: coordinator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(origins),
		},
		logger: logger.With().Str("handler", "ws").Logger(),
	}
}

// ServeHTTP handles GET /ws and blocks until the wall disconnects
func (sh *SocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := sh.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		sh.logger.Debug().Err(err).Msg("Websocket upgrade failed")
		return
	}

	session, err := sh.hub.Register(conn, func() models.Event {
		return models.NewInitialCount(sh.coordinator.Total())
	})
	if err != nil {
		conn.Close()
		return
	}
	sh.hub.Serve(session)
}

func originChecker(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if allowed[origin] {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && u.Host == r.Host
	}
}
