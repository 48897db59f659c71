package orchestrator

import (
	"context"
	"errors"

	"github.com/nerrad567/biolock-core/internal/auth"
	"github.com/nerrad567/biolock-core/internal/slot"
)

// Code classifies a failed Result. The API maps each code to an HTTP status.
type Code string

const (
	CodeNotFound     Code = "not_found"
	CodeConflict     Code = "conflict"
	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"
	CodeInvalidInput Code = "invalid_input"
	CodeInternal     Code = "internal"
)

// Result is the outcome of every orchestrator operation.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    Code   `json:"code,omitempty"`

	// SlotNumber is the slot the operation claimed or released.
	SlotNumber *int `json:"slotNumber,omitempty"`

	// Partial is set when the directory change succeeded but the device
	// was not told.
	Partial bool `json:"partial,omitempty"`

	// ReleasedSlots and FailedNotifications are filled by DeleteOwner.
	ReleasedSlots       []int `json:"releasedSlots,omitempty"`
	FailedNotifications []int `json:"failedNotifications,omitempty"`
}

func ok(msg string) Result {
	return Result{Success: true, Message: msg}
}

func fail(code Code, msg string) Result {
	return Result{Success: false, Message: msg, Code: code}
}

func withSlot(r Result, n int) Result {
	r.SlotNumber = &n
	return r
}

// failFromError maps an allocator or directory error to a Result.
func failFromError(err error) Result {
	switch {
	case errors.Is(err, slot.ErrOwnerNotFound), errors.Is(err, auth.ErrUserNotFound):
		return fail(CodeNotFound, "owner not found")
	case errors.Is(err, slot.ErrSlotNotFound):
		return fail(CodeNotFound, "slot not found or not owned by this owner")
	case errors.Is(err, slot.ErrExhausted):
		return fail(CodeConflict, "no free slot found, try again")
	case errors.Is(err, slot.ErrInvalidSlot):
		return fail(CodeInvalidInput, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fail(CodeInternal, "request cancelled")
	default:
		return fail(CodeInternal, "internal error")
	}
}
