package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/biolock-core/internal/orchestrator"
)

// apiKeyHeader carries the lock's shared secret on command requests.
const apiKeyHeader = "X-API-Key"

type sendCommandRequest struct {
	DeviceID string `json:"deviceId"`
	Command  string `json:"command"`
	Payload  any    `json:"payload,omitempty"`
}

type enrollRequest struct {
	DeviceID string `json:"deviceId"`
	// UserID enrolls on behalf of another user (admin only). Empty means
	// the caller.
	UserID string `json:"userId,omitempty"`
}

type emergencyLockRequest struct {
	DeviceID string `json:"deviceId"`
}

func target(r *http.Request, deviceID string) orchestrator.Target {
	return orchestrator.Target{DeviceID: deviceID, APIKey: r.Header.Get(apiKeyHeader)}
}

// ownerFor resolves whose slot a command acts on. Callers act on their own
// slots; admins may name another user.
func ownerFor(caller orchestrator.Caller, requested string) (string, bool) {
	if requested == "" || requested == caller.ID {
		return caller.ID, true
	}
	return requested, caller.IsAdmin
}

// handleSendCommand forwards a generic command to a lock.
func (s *Server) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	var req sendCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.DeviceID == "" || req.Command == "" {
		writeBadRequest(w, "deviceId and command are required")
		return
	}

	writeResult(w, s.commands.Send(r.Context(), target(r, req.DeviceID), req.Command, req.Payload))
}

// handleEnroll claims a slot and asks the lock to enroll a fingerprint into it.
func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.DeviceID == "" {
		writeBadRequest(w, "deviceId is required")
		return
	}

	ownerID, allowed := ownerFor(callerFrom(r.Context()), req.UserID)
	if !allowed {
		writeForbidden(w, "only admins can enroll for another user")
		return
	}

	writeResult(w, s.commands.Enroll(r.Context(), target(r, req.DeviceID), ownerID))
}

// handleDeleteSlot releases one slot and asks the lock to delete its template.
//
// Query parameters:
//   - deviceId: the lock holding the template (required)
//   - userId: owner of the slot, admin only; defaults to the caller
func (s *Server) handleDeleteSlot(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(chi.URLParam(r, "slot"))
	if err != nil {
		writeBadRequest(w, "slot must be an integer")
		return
	}

	q := r.URL.Query()
	deviceID := q.Get("deviceId")
	if deviceID == "" {
		writeBadRequest(w, "deviceId query parameter is required")
		return
	}

	ownerID, allowed := ownerFor(callerFrom(r.Context()), q.Get("userId"))
	if !allowed {
		writeForbidden(w, "only admins can delete another user's slot")
		return
	}

	writeResult(w, s.commands.DeleteSlot(r.Context(), target(r, deviceID), ownerID, n))
}

// handleEmergencyLock locks a device down. The orchestrator enforces the
// admin requirement.
func (s *Server) handleEmergencyLock(w http.ResponseWriter, r *http.Request) {
	var req emergencyLockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.DeviceID == "" {
		writeBadRequest(w, "deviceId is required")
		return
	}

	writeResult(w, s.commands.EmergencyLock(r.Context(), callerFrom(r.Context()), target(r, req.DeviceID)))
}
