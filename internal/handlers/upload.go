package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/maneesh/smilewall/internal/ingest"
	"github.com/maneesh/smilewall/internal/models"
	"github.com/maneesh/smilewall/internal/payload"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// multipart framing allowance on top of the photo limit
const formOverhead = 1 << 20

// UploadHandler handles photo uploads from camera devices
type UploadHandler struct {
	coordinator *ingest.Coordinator
	maxBytes    int64
	logger      zerolog.Logger
}

// NewUploadHandler creates a new upload handler
func NewUploadHandler(coordinator *ingest.Coordinator, maxBytes int64, logger zerolog.Logger) *UploadHandler {
	return &UploadHandler{
		coordinator: coordinator,
		maxBytes:    maxBytes,
		logger:      logger.With().Str("handler", "upload").Logger(),
	}
}

// UploadResponse represents a committed upload
type UploadResponse struct {
	Success   bool   `json:"success"`
	URL       string `json:"url"`
	Total     int    `json:"total"`
	GalleryID string `json:"galleryId"`
}

// ServeHTTP handles POST /upload (multipart field "photo")
func (uh *UploadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "upload_photo",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	r.Body = http.MaxBytesReader(w, r.Body, uh.maxBytes+formOverhead)

	file, header, err := r.FormFile("photo")
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}
	if err != nil {
		err = uploadFormError(err)
		span.RecordError(err)
		uh.logger.Warn().Err(err).Msg("Upload rejected")
		writeError(w, err, "Upload failed")
		return
	}
	defer file.Close()

	credential := r.Header.Get("x-api-key")
	if credential == "" {
		credential = r.FormValue("apiKey")
	}
	span.SetAttributes(
		attribute.String("file_name", header.Filename),
		attribute.Int64("file_size", header.Size),
		attribute.Bool("has_credential", credential != ""),
	)

	result, err := uh.coordinator.Ingest(ctx, ingest.Upload{
		Body:         file,
		FilenameHint: header.Filename,
		Credential:   credential,
	})
	if err != nil {
		span.RecordError(err)
		writeError(w, err, "Upload failed")
		return
	}

	writeJSON(w, http.StatusOK, UploadResponse{
		Success:   true,
		URL:       result.Capture.Locator,
		Total:     result.Total,
		GalleryID: result.Capture.ID,
	})
}

func uploadFormError(err error) error {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, http.ErrMissingFile):
		return payload.ErrEmpty
	case errors.As(err, &maxErr):
		return payload.ErrTooLarge
	default:
		return fmt.Errorf("%w: invalid multipart body: %w", models.ErrValidation, err)
	}
}
