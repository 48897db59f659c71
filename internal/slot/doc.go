// Package slot allocates fingerprint storage slots on the locks.
//
// An AS608-class sensor stores templates in numbered positions 0..999. The
// service decides which number a new enrollment uses, records it against
// the owner, and frees it again on deletion, on owner removal, or when a
// lock reports that the enrollment failed (compensation).
//
// Claims are optimistic: a random candidate is inserted and the store's
// primary key rejects numbers already in use. As the space fills, claims
// collide more often and eventually fail with ErrExhausted.
//
// Every change is written twice, to the slot record and to the owner's
// set of numbers. Reconcile repairs the two when they drift apart.
package slot
