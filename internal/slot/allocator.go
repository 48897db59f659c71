package slot

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Allocator.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Allocator is the only writer of slot lifecycle state.
//
// A claim picks a random candidate and lets the store's uniqueness
// constraint arbitrate between concurrent claimers; there is no lock at
// this level. Each claim or release touches two records (the slot and the
// owner's set), which are not written atomically. A failed second write is
// undone where possible and Reconcile repairs whatever remains.
//
// All public methods are thread-safe.
type Allocator struct {
	store     Store
	owners    Owners
	maxSlot   int
	maxProbes int
	intn      func(n int) int
	now       func() time.Time
	logger    Logger

	observers   []Observer
	observersMu sync.RWMutex
}

// NewAllocator creates an allocator over the given store and owner directory.
// A negative MaxSlot or non-positive MaxProbes falls back to the defaults.
func NewAllocator(store Store, owners Owners, cfg Config) *Allocator {
	if cfg.MaxSlot < 0 {
		cfg.MaxSlot = DefaultMaxSlot
	}
	if cfg.MaxProbes <= 0 {
		cfg.MaxProbes = DefaultMaxProbes
	}
	if cfg.Intn == nil {
		cfg.Intn = rand.Intn
	}
	return &Allocator{
		store:     store,
		owners:    owners,
		maxSlot:   cfg.MaxSlot,
		maxProbes: cfg.MaxProbes,
		intn:      cfg.Intn,
		now:       time.Now,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the allocator.
func (a *Allocator) SetLogger(logger Logger) {
	a.logger = logger
}

// AddObserver registers an observer for slot events.
func (a *Allocator) AddObserver(o Observer) {
	a.observersMu.Lock()
	a.observers = append(a.observers, o)
	a.observersMu.Unlock()
}

// MaxSlot returns the highest valid slot number.
func (a *Allocator) MaxSlot() int {
	return a.maxSlot
}

// Claim reserves a free slot number for the owner.
//
// Up to MaxProbes random candidates in [0, MaxSlot] are tried. A taken
// candidate is logged and retried; when every probe collides the error
// wraps ErrExhausted. The context is checked before each probe.
func (a *Allocator) Claim(ctx context.Context, ownerID string) (int, error) {
	exists, err := a.owners.OwnerExists(ctx, ownerID)
	if err != nil {
		return 0, fmt.Errorf("%w: checking owner %s: %w", ErrInternal, ownerID, err)
	}
	if !exists {
		return 0, ErrOwnerNotFound
	}

	for attempt := 1; attempt <= a.maxProbes; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("claiming slot for %s: %w", ownerID, err)
		}

		candidate := a.intn(a.maxSlot + 1)
		err := a.store.Insert(ctx, Slot{
			Number:    candidate,
			OwnerID:   ownerID,
			CreatedAt: a.now().UTC(),
		})
		if errors.Is(err, ErrSlotTaken) {
			a.logger.Warn("slot collision, retrying",
				"slot", candidate,
				"attempt", attempt,
				"max_probes", a.maxProbes,
			)
			a.emit(ctx, Event{Kind: EventCollision, Slot: candidate, OwnerID: ownerID})
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("%w: inserting slot %d: %w", ErrInternal, candidate, err)
		}

		if err := a.owners.AddSlotToOwner(ctx, ownerID, candidate); err != nil {
			a.undoInsert(ctx, candidate, ownerID)
			if errors.Is(err, ErrOwnerNotFound) {
				return 0, ErrOwnerNotFound
			}
			return 0, fmt.Errorf("%w: recording slot %d for owner: %w", ErrInternal, candidate, err)
		}

		a.logger.Info("slot claimed", "slot", candidate, "owner_id", ownerID, "attempt", attempt)
		a.emit(ctx, Event{Kind: EventClaimed, Slot: candidate, OwnerID: ownerID})
		return candidate, nil
	}

	a.logger.Warn("slot claim exhausted; device storage might be full",
		"owner_id", ownerID,
		"max_probes", a.maxProbes,
	)
	return 0, fmt.Errorf("%w after %d probes", ErrExhausted, a.maxProbes)
}

// undoInsert removes a slot record whose owner-set write failed. It runs
// even if the caller's context is already cancelled.
func (a *Allocator) undoInsert(ctx context.Context, number int, ownerID string) {
	if _, err := a.store.Delete(context.WithoutCancel(ctx), number, ownerID); err != nil {
		a.logger.Error("undoing slot insert failed; reconciliation will repair it",
			"slot", number,
			"owner_id", ownerID,
			"error", err,
		)
	}
}

// Release frees a slot the owner holds. It fails with ErrSlotNotFound when
// the number is free or belongs to someone else.
func (a *Allocator) Release(ctx context.Context, ownerID string, number int) error {
	if err := a.checkRange(number); err != nil {
		return err
	}

	deleted, err := a.store.Delete(ctx, number, ownerID)
	if err != nil {
		return fmt.Errorf("%w: releasing slot %d: %w", ErrInternal, number, err)
	}
	if !deleted {
		return ErrSlotNotFound
	}

	if err := a.removeFromOwner(ctx, ownerID, number); err != nil {
		return fmt.Errorf("%w: releasing slot %d from owner: %w", ErrInternal, number, err)
	}

	a.logger.Info("slot released", "slot", number, "owner_id", ownerID)
	a.emit(ctx, Event{Kind: EventReleased, Slot: number, OwnerID: ownerID})
	return nil
}

// ReleaseOnCompensation frees a slot after a lock reported that the command
// using it failed. The owner is resolved from the record. A number that is
// already free is a no-op, so replays and races with Release are harmless.
func (a *Allocator) ReleaseOnCompensation(ctx context.Context, number int) error {
	if err := a.checkRange(number); err != nil {
		return err
	}

	s, err := a.store.Get(ctx, number)
	if errors.Is(err, ErrSlotNotFound) {
		a.logger.Info("compensation skipped, slot already resolved", "slot", number)
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: looking up slot %d: %w", ErrInternal, number, err)
	}

	deleted, err := a.store.Delete(ctx, number, s.OwnerID)
	if err != nil {
		return fmt.Errorf("%w: compensating slot %d: %w", ErrInternal, number, err)
	}
	if !deleted {
		a.logger.Info("compensation skipped, slot already resolved", "slot", number)
		return nil
	}

	if err := a.removeFromOwner(ctx, s.OwnerID, number); err != nil {
		return fmt.Errorf("%w: compensating slot %d for owner: %w", ErrInternal, number, err)
	}

	a.logger.Warn("slot released by compensation", "slot", number, "owner_id", s.OwnerID)
	a.emit(ctx, Event{Kind: EventCompensated, Slot: number, OwnerID: s.OwnerID})
	return nil
}

// ReleaseAllForOwner frees every slot the owner holds and empties the
// owner's set. It returns the released numbers in ascending order.
func (a *Allocator) ReleaseAllForOwner(ctx context.Context, ownerID string) ([]int, error) {
	slots, err := a.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("%w: listing slots of %s: %w", ErrInternal, ownerID, err)
	}

	released := make([]int, 0, len(slots))
	for _, s := range slots {
		deleted, err := a.store.Delete(ctx, s.Number, ownerID)
		if err != nil {
			return released, fmt.Errorf("%w: releasing slot %d: %w", ErrInternal, s.Number, err)
		}
		if deleted {
			released = append(released, s.Number)
		}
	}
	sort.Ints(released)

	if err := a.owners.ClearOwnerSlots(ctx, ownerID); err != nil && !errors.Is(err, ErrOwnerNotFound) {
		return released, fmt.Errorf("%w: clearing slots of %s: %w", ErrInternal, ownerID, err)
	}

	for _, n := range released {
		a.emit(ctx, Event{Kind: EventCascadeReleased, Slot: n, OwnerID: ownerID})
	}
	a.logger.Info("owner slots released", "owner_id", ownerID, "count", len(released))
	return released, nil
}

// Get returns the record for a number.
func (a *Allocator) Get(ctx context.Context, number int) (Slot, error) {
	if err := a.checkRange(number); err != nil {
		return Slot{}, err
	}
	return a.store.Get(ctx, number)
}

// List returns every claimed slot.
func (a *Allocator) List(ctx context.Context) ([]Slot, error) {
	return a.store.List(ctx)
}

// ListByOwner returns the owner's claimed slots.
func (a *Allocator) ListByOwner(ctx context.Context, ownerID string) ([]Slot, error) {
	return a.store.ListByOwner(ctx, ownerID)
}

// OwnersOfSlot returns the owners whose directory entry lists number.
func (a *Allocator) OwnersOfSlot(ctx context.Context, number int) ([]string, error) {
	if err := a.checkRange(number); err != nil {
		return nil, err
	}
	return a.owners.ListOwnersOfSlot(ctx, number)
}

func (a *Allocator) checkRange(number int) error {
	if number < 0 || number > a.maxSlot {
		return fmt.Errorf("%w: %d not in [0, %d]", ErrInvalidSlot, number, a.maxSlot)
	}
	return nil
}

// removeFromOwner drops a number from an owner's set. A vanished owner is
// not an error: there is no set left to fix.
func (a *Allocator) removeFromOwner(ctx context.Context, ownerID string, number int) error {
	err := a.owners.RemoveSlotFromOwner(ctx, ownerID, number)
	if err != nil && !errors.Is(err, ErrOwnerNotFound) {
		return err
	}
	return nil
}

func (a *Allocator) emit(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = a.now().UTC()
	}

	a.observersMu.RLock()
	observers := a.observers
	a.observersMu.RUnlock()

	for _, o := range observers {
		a.notify(ctx, o, ev)
	}
}

func (a *Allocator) notify(ctx context.Context, o Observer, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("slot observer panic recovered", "kind", ev.Kind, "panic", r)
		}
	}()
	o.SlotEvent(ctx, ev)
}
