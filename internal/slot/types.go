package slot

import (
	"context"
	"time"
)

// Defaults match the AS608 sensor's template storage.
const (
	DefaultMaxSlot   = 999
	DefaultMaxProbes = 10
)

// Slot is one claimed fingerprint storage position.
type Slot struct {
	Number    int       `json:"number"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists slot records. The store's uniqueness constraint on Number
// is what makes concurrent claims safe.
type Store interface {
	// Insert adds a slot record. It returns an error wrapping ErrSlotTaken
	// when the number is already in use.
	Insert(ctx context.Context, s Slot) error

	// Get returns the record for a number, or ErrSlotNotFound.
	Get(ctx context.Context, number int) (Slot, error)

	// Delete removes the record only if both number and owner match. It
	// reports whether a record was removed.
	Delete(ctx context.Context, number int, ownerID string) (bool, error)

	// ListByOwner returns an owner's records in ascending number order.
	ListByOwner(ctx context.Context, ownerID string) ([]Slot, error)

	// List returns every record in ascending number order.
	List(ctx context.Context) ([]Slot, error)
}

// Owners is the directory side of a slot: each owner carries the set of
// numbers it holds. Methods that name a missing owner return an error
// wrapping ErrOwnerNotFound.
type Owners interface {
	OwnerExists(ctx context.Context, ownerID string) (bool, error)

	// AddSlotToOwner and RemoveSlotFromOwner have set semantics: adding a
	// present number or removing an absent one is not an error.
	AddSlotToOwner(ctx context.Context, ownerID string, number int) error
	RemoveSlotFromOwner(ctx context.Context, ownerID string, number int) error

	// ClearOwnerSlots empties the owner's set.
	ClearOwnerSlots(ctx context.Context, ownerID string) error

	// ListOwnersOfSlot returns the owners whose set contains number.
	ListOwnersOfSlot(ctx context.Context, number int) ([]string, error)

	// OwnerSlots returns every existing owner's set, including empty ones.
	OwnerSlots(ctx context.Context) (map[string][]int, error)
}

// EventKind names a slot lifecycle change.
type EventKind string

const (
	EventClaimed         EventKind = "claimed"
	EventCollision       EventKind = "collision"
	EventReleased        EventKind = "released"
	EventCompensated     EventKind = "compensated"
	EventCascadeReleased EventKind = "cascade_released"
	EventReconciled      EventKind = "reconciled"
)

// Event describes one change made (or attempted) by the Allocator.
type Event struct {
	Kind    EventKind `json:"kind"`
	Slot    int       `json:"slot"`
	OwnerID string    `json:"owner_id,omitempty"`
	Detail  string    `json:"detail,omitempty"`
	At      time.Time `json:"at"`
}

// Observer receives allocator events synchronously. Implementations must
// return quickly and must not call back into the Allocator.
type Observer interface {
	SlotEvent(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev Event)

// SlotEvent calls f.
func (f ObserverFunc) SlotEvent(ctx context.Context, ev Event) { f(ctx, ev) }

// Config tunes an Allocator.
type Config struct {
	// MaxSlot is the highest valid number; candidates are drawn from [0, MaxSlot].
	MaxSlot int

	// MaxProbes bounds the attempts per claim.
	MaxProbes int

	// Intn returns a uniform int in [0, n). Nil uses math/rand.
	Intn func(n int) int
}

// DefaultConfig returns the AS608 defaults.
func DefaultConfig() Config {
	return Config{
		MaxSlot:   DefaultMaxSlot,
		MaxProbes: DefaultMaxProbes,
	}
}
