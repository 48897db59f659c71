// Package orchestrator is the request-facing side of slot management.
//
// Each operation checks the device credential first, then drives the slot
// allocator and the command channel in the order that keeps the directory
// authoritative:
//
//   - Enroll claims, then publishes ENROLL. The claim is released only when
//     the command provably never left; an unacknowledged publish keeps it
//     and is a partial success.
//   - DeleteSlot releases, then publishes DELETE. A failed publish is a
//     partial success.
//   - DeleteOwner removes the owner, releases all its slots and optionally
//     tells one lock to drop each template.
//
// Results carry a Code instead of a Go error so HTTP handlers can map them
// without inspecting error chains.
package orchestrator
