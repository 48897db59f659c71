package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/biolock-core/internal/auth"
	"github.com/nerrad567/biolock-core/internal/orchestrator"
)

type createUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type updateUserRequest struct {
	Username *string `json:"username,omitempty"`
	Password *string `json:"password,omitempty"`
	IsAdmin  *bool   `json:"is_admin,omitempty"`
}

// handleCreateUser registers a new, non-admin user. No token is required.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if !auth.IsValidUsername(req.Username) {
		writeValidationError(w, "username must be 1-64 characters of letters, digits, '.', '_' or '-'")
		return
	}
	if err := auth.ValidatePassword(req.Password); err != nil {
		writeValidationError(w, "password must be at least 8 characters and not a common password")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.logger.Error("hash password failed", "error", err)
		writeInternalError(w, "failed to create user")
		return
	}

	user := &auth.User{Username: req.Username, PasswordHash: hash}
	if err := s.users.Create(r.Context(), user); err != nil {
		if errors.Is(err, auth.ErrUsernameExists) {
			writeConflict(w, "username already exists")
			return
		}
		s.logger.Error("create user failed", "error", err)
		writeInternalError(w, "failed to create user")
		return
	}

	s.logger.Info("user created", "user_id", user.ID, "username", user.Username)
	s.auditLog("user.created", user.ID, "", map[string]any{"username": user.Username})

	writeJSON(w, http.StatusCreated, user)
}

// handleListUsers returns all user accounts.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.List(r.Context())
	if err != nil {
		s.logger.Error("list users failed", "error", err)
		writeInternalError(w, "failed to list users")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"count": len(users),
	})
}

// handleGetUser returns a single user by ID.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.users.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeUserError(w, err, "get user failed")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// handleGetUserBySlot returns the user whose set holds a slot number.
func (s *Server) handleGetUserBySlot(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(chi.URLParam(r, "slot"))
	if err != nil {
		writeBadRequest(w, "slot must be an integer")
		return
	}

	user, err := s.users.GetBySlot(r.Context(), n)
	if err != nil {
		s.writeUserError(w, err, "get user by slot failed")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// handleUpdateUser changes a user's name, password or admin flag. Only an
// admin may change the admin flag, and an admin cannot demote themselves.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	caller := callerFrom(r.Context())
	id := chi.URLParam(r, "id")

	if req.IsAdmin != nil {
		if !caller.IsAdmin {
			writeForbidden(w, "only admins can change the admin flag")
			return
		}
		if caller.ID == id && !*req.IsAdmin {
			writeForbidden(w, "admins cannot remove their own admin flag")
			return
		}
	}
	if req.Username != nil && !auth.IsValidUsername(*req.Username) {
		writeValidationError(w, "username must be 1-64 characters of letters, digits, '.', '_' or '-'")
		return
	}
	if req.Password != nil {
		if err := auth.ValidatePassword(*req.Password); err != nil {
			writeValidationError(w, "password must be at least 8 characters and not a common password")
			return
		}
	}

	user, err := s.users.GetByID(r.Context(), id)
	if err != nil {
		s.writeUserError(w, err, "get user failed")
		return
	}

	if req.Username != nil || req.IsAdmin != nil {
		if req.Username != nil {
			user.Username = *req.Username
		}
		if req.IsAdmin != nil {
			user.IsAdmin = *req.IsAdmin
		}
		if err := s.users.Update(r.Context(), user); err != nil {
			s.writeUserError(w, err, "update user failed")
			return
		}
	}

	if req.Password != nil {
		hash, err := auth.HashPassword(*req.Password)
		if err != nil {
			s.logger.Error("hash password failed", "error", err)
			writeInternalError(w, "failed to update password")
			return
		}
		if err := s.users.UpdatePassword(r.Context(), id, hash); err != nil {
			s.writeUserError(w, err, "update password failed")
			return
		}
	}

	s.auditLog("user.updated", id, "", map[string]any{
		"by":               caller.ID,
		"username_changed": req.Username != nil,
		"password_changed": req.Password != nil,
		"admin_changed":    req.IsAdmin != nil,
	})
	writeJSON(w, http.StatusOK, user)
}

// handleDeleteUser deletes a user and releases every slot it held. With
// ?deviceId= and X-API-Key the lock is told to delete each template.
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var target *orchestrator.Target
	if deviceID := r.URL.Query().Get("deviceId"); deviceID != "" {
		target = &orchestrator.Target{DeviceID: deviceID, APIKey: r.Header.Get("X-API-Key")}
	}

	res := s.commands.DeleteOwner(r.Context(), id, target)
	if res.Success {
		details := map[string]any{
			"by":       callerFrom(r.Context()).ID,
			"released": res.ReleasedSlots,
		}
		if len(res.FailedNotifications) > 0 {
			details["failed_notifications"] = res.FailedNotifications
		}
		s.auditLog("user.deleted", id, deviceIDOf(target), details)
	}
	writeResult(w, res)
}

// writeUserError maps user repository errors to responses.
func (s *Server) writeUserError(w http.ResponseWriter, err error, logMsg string) {
	switch {
	case errors.Is(err, auth.ErrUserNotFound):
		writeNotFound(w, "user not found")
	case errors.Is(err, auth.ErrUsernameExists):
		writeConflict(w, "username already exists")
	default:
		s.logger.Error(logMsg, "error", err)
		writeInternalError(w, "internal error")
	}
}

func deviceIDOf(t *orchestrator.Target) string {
	if t == nil {
		return ""
	}
	return t.DeviceID
}
