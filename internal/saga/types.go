package saga

import (
	"context"
	"strings"
	"time"

	"github.com/nerrad567/biolock-core/internal/command"
)

// StatusError is the response status that triggers compensation. It is
// matched case-insensitively.
const StatusError = "ERROR"

// Response is what a lock publishes on devices/{id}/response after acting
// on a command.
type Response struct {
	Status     string `json:"status" cbor:"status"`
	SlotNumber *int   `json:"slotNumber,omitempty" cbor:"slotNumber,omitempty"`
	Command    string `json:"command,omitempty" cbor:"command,omitempty"`
	Message    string `json:"message,omitempty" cbor:"message,omitempty"`
}

// IsError reports whether the lock says the command failed.
func (r Response) IsError() bool {
	return strings.EqualFold(r.Status, StatusError)
}

// compensates reports whether a failed response should free its slot.
// Only ENROLL reserves a slot before the device acts. After a failed
// DELETE the number may already belong to someone else. Responses that
// do not name a command are taken as ENROLL replies.
func (r Response) compensates() bool {
	if !r.IsError() || r.SlotNumber == nil {
		return false
	}
	return r.Command == "" || strings.EqualFold(r.Command, command.Enroll)
}

// AccessEvent is a fingerprint match or rejection reported by a lock. Kind,
// Topic and ReceivedAt are set by the server; the tags shape the live feed.
type AccessEvent struct {
	Kind       command.Kind   `json:"kind"`
	Topic      string         `json:"topic"`
	DeviceID   string         `json:"deviceId,omitempty"`
	SlotNumber *int           `json:"slotNumber,omitempty"`
	Status     string         `json:"status,omitempty"`
	ReceivedAt time.Time      `json:"receivedAt"`
	Fields     map[string]any `json:"fields,omitempty"`
}

// accessEventWire is the part of a device's access event the server reads.
// Anything else the lock sends, including keys that collide with
// server-side fields, is only kept in Fields.
type accessEventWire struct {
	DeviceID   string `json:"deviceId" cbor:"deviceId"`
	SlotNumber *int   `json:"slotNumber" cbor:"slotNumber"`
	Status     string `json:"status" cbor:"status"`
}

// Compensator frees a slot after a lock reports failure.
type Compensator interface {
	ReleaseOnCompensation(ctx context.Context, number int) error
}

// EventSink receives decoded access events. Sinks are informational: they
// must return quickly and never touch slot state.
type EventSink interface {
	AccessEvent(ctx context.Context, ev AccessEvent)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, ev AccessEvent)

// AccessEvent calls f.
func (f EventSinkFunc) AccessEvent(ctx context.Context, ev AccessEvent) { f(ctx, ev) }
