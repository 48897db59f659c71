// Package saga closes the loop on enrollment.
//
// A slot is claimed before ENROLL is published, and the lock only reports
// the outcome later on devices/{id}/response. When that report is an ERROR
// the Coordinator releases the slot again through the allocator's
// compensation path. Success needs no action, so there is no confirmed
// state; a response that never arrives leaves the slot claimed.
//
// Payloads are JSON objects or CBOR maps with the same field names:
//
//	{"status":"ERROR","slotNumber":42,"command":"ENROLL","message":"sensor timeout"}
package saga
