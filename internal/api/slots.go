package api

import (
	"net/http"

	"github.com/nerrad567/biolock-core/internal/slot"
)

// handleListSlots returns claimed slots, optionally for one owner (?owner=).
func (s *Server) handleListSlots(w http.ResponseWriter, r *http.Request) {
	var (
		slots []slot.Slot
		err   error
	)
	if owner := r.URL.Query().Get("owner"); owner != "" {
		slots, err = s.slots.ListByOwner(r.Context(), owner)
	} else {
		slots, err = s.slots.List(r.Context())
	}
	if err != nil {
		s.logger.Error("list slots failed", "error", err)
		writeInternalError(w, "failed to list slots")
		return
	}
	if slots == nil {
		slots = []slot.Slot{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"slots": slots,
		"count": len(slots),
	})
}

// handleReconcile runs one reconciliation sweep and returns its report.
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	report, err := s.slots.Reconcile(r.Context())
	if err != nil {
		s.logger.Error("reconciliation failed", "error", err)
		writeInternalError(w, "reconciliation failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"repairs": report.Repairs(),
		"report":  report,
	})
}
