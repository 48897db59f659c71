package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/biolock-core/internal/device"
)

type registerDeviceRequest struct {
	DeviceID string `json:"deviceId"`
	APIKey   string `json:"apiKey"`
}

// handleListDevices returns the known locks. Keys are never exposed.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.devices.Describe()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleRegisterDevice onboards a lock or rotates its key.
func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req registerDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.devices.Register(r.Context(), req.DeviceID, req.APIKey); err != nil {
		switch {
		case errors.Is(err, device.ErrInvalidDeviceID):
			writeValidationError(w, "deviceId must be 1-64 characters of letters, digits, '_' or '-'")
		case errors.Is(err, device.ErrEmptyKey):
			writeValidationError(w, "apiKey is required")
		default:
			s.logger.Error("device registration failed", "device_id", req.DeviceID, "error", err)
			writeInternalError(w, "failed to register device")
		}
		return
	}

	s.auditLog("device.registered", "", req.DeviceID, map[string]any{
		"by": callerFrom(r.Context()).ID,
	})
	writeJSON(w, http.StatusCreated, map[string]any{
		"deviceId": req.DeviceID,
		"status":   "registered",
	})
}
