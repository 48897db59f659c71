package slot

import "errors"

// Domain errors for the slot package. Check with errors.Is.
var (
	// ErrOwnerNotFound is returned when the claiming or releasing owner does
	// not exist in the directory.
	ErrOwnerNotFound = errors.New("slot: owner not found")

	// ErrSlotNotFound is returned by Release when no slot with that number
	// belongs to the owner, and by Store.Get when the number is free.
	ErrSlotNotFound = errors.New("slot: not found or not owned by this owner")

	// ErrSlotTaken is the store's report that a number is already in use.
	// The claim loop consumes it; it never leaves the allocator.
	ErrSlotTaken = errors.New("slot: number already taken")

	// ErrExhausted is returned when every probe of a claim collided. The
	// device's slot space is likely close to full. Retrying may succeed.
	ErrExhausted = errors.New("slot: no free slot found")

	// ErrInvalidSlot is returned for numbers outside [0, MaxSlot].
	ErrInvalidSlot = errors.New("slot: number out of range")

	// ErrInternal wraps unexpected store failures.
	ErrInternal = errors.New("slot: internal error")
)
