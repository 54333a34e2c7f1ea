package handlers

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/maneesh/smilewall/internal/ingest"
	"github.com/maneesh/smilewall/internal/models"
)

// CameraHandler serves device registration endpoints
type CameraHandler struct {
	coordinator *ingest.Coordinator
}

// NewCameraHandler creates a new camera handler
func NewCameraHandler(coordinator *ingest.Coordinator) *CameraHandler {
	return &CameraHandler{coordinator: coordinator}
}

// CamerasResponse is the body of GET /cameras
type CamerasResponse struct {
	Cameras []models.Device `json:"cameras"`
}

// CameraResponse wraps a single device
type CameraResponse struct {
	Success bool          `json:"success"`
	Camera  models.Device `json:"camera"`
}

// MessageResponse is a bare acknowledgement
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// RegisterRequest is the body of POST /cameras
type RegisterRequest struct {
	Name     string `json:"name"`
	Location string `json:"location"`
	APIKey   string `json:"apiKey"`
}

// ToggleRequest is the body of PATCH /cameras/{id}/toggle
type ToggleRequest struct {
	Active *bool `json:"active"`
}

// List handles GET /cameras
func (ch *CameraHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, CamerasResponse{Cameras: ch.coordinator.Devices()})
}

// Register handles POST /cameras
func (ch *CameraHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err, "Missing required fields")
		return
	}

	device, err := ch.coordinator.RegisterDevice(r.Context(), req.Name, req.Location, req.APIKey)
	if err != nil {
		writeError(w, err, "Missing required fields")
		return
	}
	writeJSON(w, http.StatusOK, CameraResponse{Success: true, Camera: device})
}

// Remove handles DELETE /cameras/{id}
func (ch *CameraHandler) Remove(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := ch.coordinator.RemoveDevice(r.Context(), id); err != nil {
		writeError(w, err, cameraMessage(err, "Delete failed"))
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Success: true, Message: "Camera deleted"})
}

// Toggle handles PATCH /cameras/{id}/toggle
func (ch *CameraHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	var req ToggleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err, "Invalid request body")
		return
	}
	if req.Active == nil {
		writeError(w, fmt.Errorf("%w: active is required", models.ErrValidation), "Invalid request body")
		return
	}

	device, err := ch.coordinator.SetDeviceActive(r.Context(), mux.Vars(r)["id"], *req.Active)
	if err != nil {
		writeError(w, err, cameraMessage(err, "Toggle failed"))
		return
	}
	writeJSON(w, http.StatusOK, CameraResponse{Success: true, Camera: device})
}

func cameraMessage(err error, fallback string) string {
	if statusFor(err) == http.StatusNotFound {
		return "Camera not found"
	}
	return fallback
}
