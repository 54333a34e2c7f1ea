package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/maneesh/smilewall/internal/ingest"
	"github.com/maneesh/smilewall/internal/models"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ImageHandler streams stored captures, inline or as an attachment
type ImageHandler struct {
	coordinator *ingest.Coordinator
	attachment  bool
	logger      zerolog.Logger
}

// NewImageHandler serves GET /images/{filename}
func NewImageHandler(coordinator *ingest.Coordinator, logger zerolog.Logger) *ImageHandler {
	return &ImageHandler{coordinator: coordinator, logger: logger}
}

// NewDownloadHandler serves GET /download/{filename}
func NewDownloadHandler(coordinator *ingest.Coordinator, logger zerolog.Logger) *ImageHandler {
	return &ImageHandler{coordinator: coordinator, attachment: true, logger: logger}
}

// ServeHTTP streams the blob named by the filename path variable
func (ih *ImageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "read_image",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	filename := mux.Vars(r)["filename"]
	span.SetAttributes(
		attribute.String("file_name", filename),
		attribute.Bool("attachment", ih.attachment),
	)

	blob, err := ih.coordinator.OpenImage(ctx, filename)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "File not found"})
			return
		}
		span.RecordError(err)
		ih.logger.Error().Err(err).Str("filename", filename).Msg("Failed to open image")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to read file"})
		return
	}
	defer blob.Body.Close()

	w.Header().Set("Content-Type", blob.ContentType)
	if ih.attachment {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	}

	if seeker, ok := blob.Body.(io.ReadSeeker); ok {
		http.ServeContent(w, r, filename, blob.ModTime, seeker)
		return
	}

	if blob.Size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(blob.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, blob.Body); err != nil {
		span.RecordError(err)
		ih.logger.Warn().Err(err).Str("filename", filename).Msg("Image stream interrupted")
	}
}
