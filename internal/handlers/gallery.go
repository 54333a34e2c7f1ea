package handlers

import (
	"fmt"
	"net/http"

	"github.com/maneesh/smilewall/internal/ingest"
	"github.com/maneesh/smilewall/internal/models"
	"github.com/maneesh/smilewall/internal/storage"
)

// GalleryHandler serves the gallery admin endpoints
type GalleryHandler struct {
	snapshotServer
	coordinator *ingest.Coordinator
}

// NewGalleryHandler creates a new gallery handler
func NewGalleryHandler(coordinator *ingest.Coordinator, ss snapshotServer) *GalleryHandler {
	return &GalleryHandler{snapshotServer: ss, coordinator: coordinator}
}

// GalleryResponse is the body of GET /gallery
type GalleryResponse struct {
	Images []models.Capture `json:"images"`
	Total  int              `json:"total"`
}

// ImageIDsRequest is the body of the bulk gallery operations
type ImageIDsRequest struct {
	ImageIDs []string `json:"imageIds"`
}

// DeleteResponse is the body of POST /gallery/delete
type DeleteResponse struct {
	Success bool `json:"success"`
	Deleted int  `json:"deleted"`
}

// ExportResponse is the body of POST /gallery/upload-drive
type ExportResponse struct {
	Success  bool   `json:"success"`
	Uploaded int    `json:"uploaded"`
	Message  string `json:"message"`
}

// List handles GET /gallery
func (gh *GalleryHandler) List(w http.ResponseWriter, r *http.Request) {
	gh.serveFromCacheOrCompute(w, r, storage.GalleryCacheKey, func() (any, bool) {
		images := gh.coordinator.Gallery()
		return GalleryResponse{Images: images, Total: len(images)}, true
	})
}

// Delete handles POST /gallery/delete
func (gh *GalleryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ids, err := readImageIDs(r)
	if err != nil {
		writeError(w, err, "Delete failed")
		return
	}

	deleted, err := gh.coordinator.Delete(r.Context(), ids)
	if err != nil {
		writeError(w, err, "Delete failed")
		return
	}
	writeJSON(w, http.StatusOK, DeleteResponse{Success: true, Deleted: deleted})
}

// Export handles POST /gallery/upload-drive. Export is a stub that only
// marks captures as uploaded.
func (gh *GalleryHandler) Export(w http.ResponseWriter, r *http.Request) {
	ids, err := readImageIDs(r)
	if err != nil {
		writeError(w, err, "Upload failed")
		return
	}

	uploaded, err := gh.coordinator.Export(r.Context(), ids)
	if err != nil {
		writeError(w, err, "Upload failed")
		return
	}
	writeJSON(w, http.StatusOK, ExportResponse{
		Success:  true,
		Uploaded: uploaded,
		Message:  "Images ready for Drive upload (integration pending)",
	})
}

func readImageIDs(r *http.Request) ([]string, error) {
	var req ImageIDsRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	if req.ImageIDs == nil {
		return nil, fmt.Errorf("%w: imageIds must be an array", models.ErrValidation)
	}
	return req.ImageIDs, nil
}
