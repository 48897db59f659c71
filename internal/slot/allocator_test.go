package slot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
)

// MockStore is a test implementation of Store.
type MockStore struct {
	mu      sync.Mutex
	slots   map[int]Slot
	inserts int

	insertErr error
	deleteErr error
	getErr    error
}

func NewMockStore() *MockStore {
	return &MockStore{slots: make(map[int]Slot)}
}

func (m *MockStore) Insert(_ context.Context, s Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserts++
	if m.insertErr != nil {
		return m.insertErr
	}
	if _, ok := m.slots[s.Number]; ok {
		return fmt.Errorf("%w: %d", ErrSlotTaken, s.Number)
	}
	m.slots[s.Number] = s
	return nil
}

func (m *MockStore) Get(_ context.Context, number int) (Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return Slot{}, m.getErr
	}
	s, ok := m.slots[number]
	if !ok {
		return Slot{}, ErrSlotNotFound
	}
	return s, nil
}

func (m *MockStore) Delete(_ context.Context, number int, ownerID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return false, m.deleteErr
	}
	s, ok := m.slots[number]
	if !ok || s.OwnerID != ownerID {
		return false, nil
	}
	delete(m.slots, number)
	return true, nil
}

func (m *MockStore) ListByOwner(_ context.Context, ownerID string) ([]Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Slot
	for _, s := range m.slots {
		if s.OwnerID == ownerID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (m *MockStore) List(_ context.Context) ([]Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Slot, 0, len(m.slots))
	for _, s := range m.slots {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (m *MockStore) put(number int, owner string) {
	m.mu.Lock()
	m.slots[number] = Slot{Number: number, OwnerID: owner}
	m.mu.Unlock()
}

func (m *MockStore) has(number int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.slots[number]
	return ok
}

// MockOwners is a test implementation of Owners.
type MockOwners struct {
	mu     sync.Mutex
	sets   map[string]map[int]bool
	addErr error

	// afterAdd runs once a number is added, outside the lock.
	afterAdd func(id string, n int)
}

func NewMockOwners(ids ...string) *MockOwners {
	m := &MockOwners{sets: make(map[string]map[int]bool)}
	for _, id := range ids {
		m.sets[id] = make(map[int]bool)
	}
	return m
}

func (m *MockOwners) OwnerExists(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sets[id]
	return ok, nil
}

func (m *MockOwners) AddSlotToOwner(_ context.Context, id string, n int) error {
	m.mu.Lock()
	if m.addErr != nil {
		m.mu.Unlock()
		return m.addErr
	}
	set, ok := m.sets[id]
	if !ok {
		m.mu.Unlock()
		return ErrOwnerNotFound
	}
	set[n] = true
	hook := m.afterAdd
	m.mu.Unlock()

	if hook != nil {
		hook(id, n)
	}
	return nil
}

func (m *MockOwners) RemoveSlotFromOwner(_ context.Context, id string, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sets[id]
	if !ok {
		return ErrOwnerNotFound
	}
	delete(set, n)
	return nil
}

func (m *MockOwners) ClearOwnerSlots(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sets[id]; !ok {
		return ErrOwnerNotFound
	}
	m.sets[id] = make(map[int]bool)
	return nil
}

func (m *MockOwners) ListOwnersOfSlot(_ context.Context, n int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for id, set := range m.sets {
		if set[n] {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MockOwners) OwnerSlots(_ context.Context) (map[string][]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]int, len(m.sets))
	for id, set := range m.sets {
		nums := []int{}
		for n := range set {
			nums = append(nums, n)
		}
		sort.Ints(nums)
		out[id] = nums
	}
	return out, nil
}

func (m *MockOwners) slotsOf(id string) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	nums := []int{}
	for n := range m.sets[id] {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums
}

func (m *MockOwners) setSlots(id string, nums ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := make(map[int]bool)
	for _, n := range nums {
		set[n] = true
	}
	m.sets[id] = set
}

// sequence returns an Intn that yields the given values in order and
// counts how often it was called.
func sequence(values ...int) (func(int) int, *int) {
	calls := 0
	return func(n int) int {
		v := values[calls%len(values)]
		calls++
		if v >= n {
			panic(fmt.Sprintf("candidate %d out of range %d", v, n))
		}
		return v
	}, &calls
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) SlotEvent(_ context.Context, ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *eventRecorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func newTestAllocator(store Store, owners Owners, intn func(int) int) (*Allocator, *eventRecorder) {
	a := NewAllocator(store, owners, Config{MaxSlot: DefaultMaxSlot, MaxProbes: DefaultMaxProbes, Intn: intn})
	rec := &eventRecorder{}
	a.AddObserver(rec)
	return a, rec
}

// =============================================================================
// Claim
// =============================================================================

func TestAllocator_Claim(t *testing.T) {
	store := NewMockStore()
	owners := NewMockOwners("alice")
	intn, _ := sequence(42)
	a, rec := newTestAllocator(store, owners, intn)

	n, err := a.Claim(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if n != 42 {
		t.Errorf("Claim() = %d, want 42", n)
	}
	if !store.has(42) {
		t.Error("slot record not inserted")
	}
	if got := owners.slotsOf("alice"); fmt.Sprint(got) != "[42]" {
		t.Errorf("owner set = %v, want [42]", got)
	}
	if got := rec.kinds(); len(got) != 1 || got[0] != EventClaimed {
		t.Errorf("events = %v, want [claimed]", got)
	}
}

func TestAllocator_Claim_RandomWithinRange(t *testing.T) {
	a := NewAllocator(NewMockStore(), NewMockOwners("alice"), Config{MaxSlot: 9, MaxProbes: 50})

	for i := 0; i < 10; i++ {
		n, err := a.Claim(context.Background(), "alice")
		if err != nil {
			t.Fatalf("Claim() #%d error = %v", i, err)
		}
		if n < 0 || n > 9 {
			t.Fatalf("Claim() = %d, outside [0, 9]", n)
		}
	}
}

func TestAllocator_Claim_OwnerNotFound(t *testing.T) {
	store := NewMockStore()
	a, _ := newTestAllocator(store, NewMockOwners(), nil)

	_, err := a.Claim(context.Background(), "ghost")
	if !errors.Is(err, ErrOwnerNotFound) {
		t.Fatalf("Claim() error = %v, want ErrOwnerNotFound", err)
	}
	if store.inserts != 0 {
		t.Errorf("store touched %d times for unknown owner", store.inserts)
	}
}

func TestAllocator_Claim_RetriesOnCollision(t *testing.T) {
	store := NewMockStore()
	store.put(5, "bob")
	owners := NewMockOwners("alice", "bob")
	intn, calls := sequence(5, 5, 7)
	a, rec := newTestAllocator(store, owners, intn)

	n, err := a.Claim(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if n != 7 {
		t.Errorf("Claim() = %d, want 7", n)
	}
	if *calls != 3 {
		t.Errorf("candidates drawn = %d, want 3", *calls)
	}
	want := []EventKind{EventCollision, EventCollision, EventClaimed}
	if fmt.Sprint(rec.kinds()) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", rec.kinds(), want)
	}
}

func TestAllocator_Claim_Exhausted(t *testing.T) {
	store := NewMockStore()
	store.put(1, "bob")
	owners := NewMockOwners("alice", "bob")
	intn, calls := sequence(1)
	a := NewAllocator(store, owners, Config{MaxSlot: 999, MaxProbes: 3, Intn: intn})

	_, err := a.Claim(context.Background(), "alice")
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("Claim() error = %v, want ErrExhausted", err)
	}
	if !strings.Contains(err.Error(), "after 3 probes") {
		t.Errorf("error message = %q, want probe count", err)
	}
	if *calls != 3 {
		t.Errorf("candidates drawn = %d, want exactly 3", *calls)
	}
	if len(owners.slotsOf("alice")) != 0 {
		t.Error("exhausted claim changed the owner set")
	}
}

func TestAllocator_Claim_SingleSlotSpace(t *testing.T) {
	a := NewAllocator(NewMockStore(), NewMockOwners("alice", "bob"), Config{MaxSlot: 0, MaxProbes: 4})

	n, err := a.Claim(context.Background(), "alice")
	if err != nil || n != 0 {
		t.Fatalf("first Claim() = (%d, %v), want (0, nil)", n, err)
	}
	if _, err := a.Claim(context.Background(), "bob"); !errors.Is(err, ErrExhausted) {
		t.Errorf("second Claim() error = %v, want ErrExhausted", err)
	}
}

func TestAllocator_Claim_StoreError(t *testing.T) {
	store := NewMockStore()
	store.insertErr = errors.New("disk I/O error")
	a, _ := newTestAllocator(store, NewMockOwners("alice"), nil)

	_, err := a.Claim(context.Background(), "alice")
	if !errors.Is(err, ErrInternal) {
		t.Fatalf("Claim() error = %v, want ErrInternal", err)
	}
	if store.inserts != 1 {
		t.Errorf("inserts = %d, want 1 (no retry on non-collision errors)", store.inserts)
	}
}

func TestAllocator_Claim_UndoesInsertWhenOwnerWriteFails(t *testing.T) {
	store := NewMockStore()
	owners := NewMockOwners("alice")
	owners.addErr = errors.New("users table locked")
	intn, _ := sequence(11)
	a, rec := newTestAllocator(store, owners, intn)

	_, err := a.Claim(context.Background(), "alice")
	if !errors.Is(err, ErrInternal) {
		t.Fatalf("Claim() error = %v, want ErrInternal", err)
	}
	if store.has(11) {
		t.Error("slot record left behind after owner write failure")
	}
	if len(rec.kinds()) != 0 {
		t.Errorf("events = %v, want none", rec.kinds())
	}
}

func TestAllocator_Claim_ContextCancelled(t *testing.T) {
	store := NewMockStore()
	a, _ := newTestAllocator(store, NewMockOwners("alice"), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Claim(ctx, "alice")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Claim() error = %v, want context.Canceled", err)
	}
	if store.inserts != 0 {
		t.Errorf("inserts = %d after cancellation, want 0", store.inserts)
	}
}

// =============================================================================
// Release
// =============================================================================

func TestAllocator_Release(t *testing.T) {
	store := NewMockStore()
	owners := NewMockOwners("alice", "bob")
	store.put(3, "alice")
	owners.setSlots("alice", 3)
	a, rec := newTestAllocator(store, owners, nil)
	ctx := context.Background()

	if err := a.Release(ctx, "bob", 3); !errors.Is(err, ErrSlotNotFound) {
		t.Errorf("Release() by non-owner error = %v, want ErrSlotNotFound", err)
	}
	if !store.has(3) {
		t.Fatal("non-owner release removed the record")
	}

	if err := a.Release(ctx, "alice", 3); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if store.has(3) {
		t.Error("record still present after release")
	}
	if len(owners.slotsOf("alice")) != 0 {
		t.Errorf("owner set = %v, want empty", owners.slotsOf("alice"))
	}
	if got := rec.kinds(); len(got) != 1 || got[0] != EventReleased {
		t.Errorf("events = %v, want [released]", got)
	}

	if err := a.Release(ctx, "alice", 3); !errors.Is(err, ErrSlotNotFound) {
		t.Errorf("second Release() error = %v, want ErrSlotNotFound", err)
	}
}

func TestAllocator_Release_OutOfRange(t *testing.T) {
	a, _ := newTestAllocator(NewMockStore(), NewMockOwners("alice"), nil)

	for _, n := range []int{-1, 1000} {
		if err := a.Release(context.Background(), "alice", n); !errors.Is(err, ErrInvalidSlot) {
			t.Errorf("Release(%d) error = %v, want ErrInvalidSlot", n, err)
		}
	}
}

// =============================================================================
// Compensation
// =============================================================================

func TestAllocator_ReleaseOnCompensation(t *testing.T) {
	store := NewMockStore()
	owners := NewMockOwners("alice")
	store.put(8, "alice")
	owners.setSlots("alice", 8, 9)
	store.put(9, "alice")
	a, rec := newTestAllocator(store, owners, nil)
	ctx := context.Background()

	if err := a.ReleaseOnCompensation(ctx, 8); err != nil {
		t.Fatalf("ReleaseOnCompensation() error = %v", err)
	}
	if store.has(8) {
		t.Error("record not removed")
	}
	if got := owners.slotsOf("alice"); fmt.Sprint(got) != "[9]" {
		t.Errorf("owner set = %v, want [9]", got)
	}

	// Idempotent.
	if err := a.ReleaseOnCompensation(ctx, 8); err != nil {
		t.Errorf("repeated ReleaseOnCompensation() error = %v", err)
	}
	if got := rec.kinds(); len(got) != 1 || got[0] != EventCompensated {
		t.Errorf("events = %v, want exactly one compensated", got)
	}
}

func TestAllocator_ReleaseOnCompensation_FreeSlotIsNoop(t *testing.T) {
	store := NewMockStore()
	a, rec := newTestAllocator(store, NewMockOwners(), nil)

	if err := a.ReleaseOnCompensation(context.Background(), 500); err != nil {
		t.Errorf("ReleaseOnCompensation() error = %v", err)
	}
	if len(rec.kinds()) != 0 {
		t.Errorf("events = %v, want none", rec.kinds())
	}
}

func TestAllocator_ReleaseOnCompensation_OwnerGone(t *testing.T) {
	store := NewMockStore()
	store.put(12, "deleted-user")
	a, _ := newTestAllocator(store, NewMockOwners(), nil)

	if err := a.ReleaseOnCompensation(context.Background(), 12); err != nil {
		t.Errorf("ReleaseOnCompensation() error = %v", err)
	}
	if store.has(12) {
		t.Error("record of a vanished owner not removed")
	}
}

// =============================================================================
// Cascade
// =============================================================================

func TestAllocator_ReleaseAllForOwner(t *testing.T) {
	store := NewMockStore()
	owners := NewMockOwners("alice", "bob")
	for _, n := range []int{30, 4, 17} {
		store.put(n, "alice")
	}
	owners.setSlots("alice", 30, 4, 17, 99) // 99 is a stale entry with no record
	store.put(5, "bob")
	owners.setSlots("bob", 5)
	a, rec := newTestAllocator(store, owners, nil)

	released, err := a.ReleaseAllForOwner(context.Background(), "alice")
	if err != nil {
		t.Fatalf("ReleaseAllForOwner() error = %v", err)
	}
	if fmt.Sprint(released) != "[4 17 30]" {
		t.Errorf("released = %v, want [4 17 30]", released)
	}
	if len(owners.slotsOf("alice")) != 0 {
		t.Errorf("owner set = %v, want empty", owners.slotsOf("alice"))
	}
	if !store.has(5) || fmt.Sprint(owners.slotsOf("bob")) != "[5]" {
		t.Error("another owner's slot was touched")
	}
	if len(rec.kinds()) != 3 {
		t.Errorf("events = %v, want three cascade_released", rec.kinds())
	}
}

func TestAllocator_ReleaseAllForOwner_NoSlots(t *testing.T) {
	a, _ := newTestAllocator(NewMockStore(), NewMockOwners("alice"), nil)

	released, err := a.ReleaseAllForOwner(context.Background(), "alice")
	if err != nil {
		t.Fatalf("ReleaseAllForOwner() error = %v", err)
	}
	if len(released) != 0 {
		t.Errorf("released = %v, want empty", released)
	}
}

// =============================================================================
// Observers
// =============================================================================

func TestAllocator_ObserverPanicDoesNotBreakClaim(t *testing.T) {
	intn, _ := sequence(1)
	a := NewAllocator(NewMockStore(), NewMockOwners("alice"), Config{MaxSlot: 9, MaxProbes: 1, Intn: intn})
	a.AddObserver(ObserverFunc(func(context.Context, Event) { panic("sink down") }))

	if _, err := a.Claim(context.Background(), "alice"); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
}

func TestNewAllocator_Defaults(t *testing.T) {
	a := NewAllocator(NewMockStore(), NewMockOwners(), Config{MaxSlot: -1})
	if a.MaxSlot() != DefaultMaxSlot || a.maxProbes != DefaultMaxProbes {
		t.Errorf("defaults = (%d, %d)", a.MaxSlot(), a.maxProbes)
	}
}
