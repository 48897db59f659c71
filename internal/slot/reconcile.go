package slot

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"
)

// Report summarises one reconciliation sweep.
type Report struct {
	// Readded are records whose number was missing from the owner's set.
	Readded []Slot `json:"readded"`

	// Dropped are owner-set entries with no matching record.
	Dropped []Slot `json:"dropped"`

	// Orphaned are records whose owner no longer exists; they were deleted.
	Orphaned []Slot `json:"orphaned"`
}

// Repairs returns the number of fixes made.
func (r Report) Repairs() int {
	return len(r.Readded) + len(r.Dropped) + len(r.Orphaned)
}

// Reconcile repairs divergence between slot records and owner sets left by
// a crash or failed write between the two halves of a claim or release.
//
// Records are listed before owner sets, so every record seen belongs to an
// owner that existed when the sets were read. Each repair rechecks the
// current state first, so claims and releases running concurrently are
// not undone.
//
// A release racing a re-add can still slip a number back into a set after
// the second check; the next sweep drops it.
//
// Device occupancy is not observable from here: a slot whose ENROLL
// response was lost stays claimed.
func (a *Allocator) Reconcile(ctx context.Context) (Report, error) {
	var report Report

	records, err := a.store.List(ctx)
	if err != nil {
		return report, fmt.Errorf("%w: listing slots: %w", ErrInternal, err)
	}
	sets, err := a.owners.OwnerSlots(ctx)
	if err != nil {
		return report, fmt.Errorf("%w: listing owner sets: %w", ErrInternal, err)
	}

	byNumber := make(map[int]Slot, len(records))
	for _, s := range records {
		byNumber[s.Number] = s
	}

	for _, s := range records {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		set, ownerExists := sets[s.OwnerID]
		if !ownerExists {
			orphaned, err := a.deleteOrphan(ctx, s)
			if err != nil {
				return report, err
			}
			if orphaned {
				report.Orphaned = append(report.Orphaned, s)
			}
			continue
		}

		if !slices.Contains(set, s.Number) {
			readded, err := a.readd(ctx, s)
			if err != nil {
				return report, err
			}
			if readded {
				report.Readded = append(report.Readded, s)
				a.emit(ctx, Event{Kind: EventReconciled, Slot: s.Number, OwnerID: s.OwnerID, Detail: "readded"})
			}
		}
	}

	owners := make([]string, 0, len(sets))
	for ownerID := range sets {
		owners = append(owners, ownerID)
	}
	sort.Strings(owners)

	for _, ownerID := range owners {
		for _, n := range sets[ownerID] {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			if rec, ok := byNumber[n]; ok && rec.OwnerID == ownerID {
				continue
			}
			dropped, err := a.dropStaleEntry(ctx, ownerID, n)
			if err != nil {
				return report, err
			}
			if dropped {
				report.Dropped = append(report.Dropped, Slot{Number: n, OwnerID: ownerID})
			}
		}
	}

	if report.Repairs() > 0 {
		a.logger.Warn("slot reconciliation repaired divergence",
			"readded", len(report.Readded),
			"dropped", len(report.Dropped),
			"orphaned", len(report.Orphaned),
		)
	} else {
		a.logger.Debug("slot reconciliation found no divergence", "slots", len(records))
	}
	return report, nil
}

// readd puts a listed record's number back into its owner's set. The record
// is checked before and after the add: a Release that lands in between
// would otherwise leave the number dangling in the set.
func (a *Allocator) readd(ctx context.Context, s Slot) (bool, error) {
	held, err := a.stillHeld(ctx, s)
	if err != nil || !held {
		return false, err
	}
	if err := a.owners.AddSlotToOwner(ctx, s.OwnerID, s.Number); err != nil {
		if errors.Is(err, ErrOwnerNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("%w: re-adding slot %d to owner: %w", ErrInternal, s.Number, err)
	}

	held, err = a.stillHeld(ctx, s)
	if err != nil {
		return false, err
	}
	if !held {
		if err := a.removeFromOwner(ctx, s.OwnerID, s.Number); err != nil {
			return false, fmt.Errorf("%w: undoing re-add of slot %d: %w", ErrInternal, s.Number, err)
		}
		return false, nil
	}
	return true, nil
}

// stillHeld reports whether s's record still exists for the same owner.
func (a *Allocator) stillHeld(ctx context.Context, s Slot) (bool, error) {
	current, err := a.store.Get(ctx, s.Number)
	if errors.Is(err, ErrSlotNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: looking up slot %d: %w", ErrInternal, s.Number, err)
	}
	return current.OwnerID == s.OwnerID, nil
}

func (a *Allocator) deleteOrphan(ctx context.Context, s Slot) (bool, error) {
	exists, err := a.owners.OwnerExists(ctx, s.OwnerID)
	if err != nil {
		return false, fmt.Errorf("%w: checking owner %s: %w", ErrInternal, s.OwnerID, err)
	}
	if exists {
		return false, nil
	}

	deleted, err := a.store.Delete(ctx, s.Number, s.OwnerID)
	if err != nil {
		return false, fmt.Errorf("%w: deleting orphaned slot %d: %w", ErrInternal, s.Number, err)
	}
	if deleted {
		a.emit(ctx, Event{Kind: EventReconciled, Slot: s.Number, OwnerID: s.OwnerID, Detail: "orphaned"})
	}
	return deleted, nil
}

func (a *Allocator) dropStaleEntry(ctx context.Context, ownerID string, number int) (bool, error) {
	// A claim may have landed since the records were listed.
	current, err := a.store.Get(ctx, number)
	switch {
	case err == nil && current.OwnerID == ownerID:
		return false, nil
	case err != nil && !errors.Is(err, ErrSlotNotFound):
		return false, fmt.Errorf("%w: looking up slot %d: %w", ErrInternal, number, err)
	}

	if err := a.removeFromOwner(ctx, ownerID, number); err != nil {
		return false, fmt.Errorf("%w: dropping slot %d from owner: %w", ErrInternal, number, err)
	}
	a.emit(ctx, Event{Kind: EventReconciled, Slot: number, OwnerID: ownerID, Detail: "dropped"})
	return true, nil
}

// RunReconciler sweeps once immediately and then every interval until ctx
// is done. A zero interval sweeps once and returns.
func (a *Allocator) RunReconciler(ctx context.Context, interval time.Duration) error {
	a.sweep(ctx)
	if interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.sweep(ctx)
		}
	}
}

func (a *Allocator) sweep(ctx context.Context) {
	if _, err := a.Reconcile(ctx); err != nil && ctx.Err() == nil {
		a.logger.Error("slot reconciliation failed", "error", err)
	}
}
