package handlers

import (
	"fmt"
	"net/http"

	"github.com/maneesh/smilewall/internal/ingest"
	"github.com/maneesh/smilewall/internal/storage"
)

// WallHandler serves the counter and the bulk snapshot endpoints walls poll
type WallHandler struct {
	snapshotServer
	coordinator *ingest.Coordinator
	recentLimit int
}

// NewWallHandler creates a new wall handler
func NewWallHandler(coordinator *ingest.Coordinator, recentLimit int, ss snapshotServer) *WallHandler {
	return &WallHandler{
		snapshotServer: ss,
		coordinator:    coordinator,
		recentLimit:    recentLimit,
	}
}

// CountResponse is the body of GET /count
type CountResponse struct {
	TotalCount int `json:"total_count"`
}

// RecentResponse is the body of GET /recent-images
type RecentResponse struct {
	Images     []string `json:"images"`
	TotalCount int      `json:"total_count"`
}

// TestSmileResponse is the body of POST /test-smile
type TestSmileResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Total   int    `json:"total"`
}

// ClearResponse is the body of POST /clear-images
type ClearResponse struct {
	Success bool   `json:"success"`
	Deleted int    `json:"deleted"`
	Message string `json:"message"`
}

// Count handles GET /count
func (wh *WallHandler) Count(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, CountResponse{TotalCount: wh.coordinator.Total()})
}

// Recent handles GET /recent-images. A listing failure yields an empty list.
func (wh *WallHandler) Recent(w http.ResponseWriter, r *http.Request) {
	wh.serveFromCacheOrCompute(w, r, storage.RecentCacheKey, func() (any, bool) {
		total := wh.coordinator.Total()
		images, err := wh.coordinator.Recent(r.Context(), wh.recentLimit)
		if err != nil {
			wh.logger.Error().Err(err).Msg("Error reading images")
			return RecentResponse{Images: []string{}, TotalCount: total}, false
		}
		return RecentResponse{Images: images, TotalCount: total}, true
	})
}

// TestSmile handles POST /test-smile
func (wh *WallHandler) TestSmile(w http.ResponseWriter, r *http.Request) {
	total := wh.coordinator.TestSmile(r.Context())
	writeJSON(w, http.StatusOK, TestSmileResponse{
		Success: true,
		Message: "Test smile sent",
		Total:   total,
	})
}

// Clear handles POST /clear-images
func (wh *WallHandler) Clear(w http.ResponseWriter, r *http.Request) {
	deleted, err := wh.coordinator.Clear(r.Context())
	if err != nil {
		writeError(w, err, "Clear failed")
		return
	}
	writeJSON(w, http.StatusOK, ClearResponse{
		Success: true,
		Deleted: deleted,
		Message: fmt.Sprintf("Cleared %d images", deleted),
	})
}

// Health handles GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
