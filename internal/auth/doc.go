// Package auth is the user directory and the credentials around it.
//
// Users log in with a username and an Argon2id-hashed password and receive
// an HS256 JWT carrying their ID and admin flag. There are two tiers:
// admins manage every user, device and slot; regular users manage
// themselves and their own fingerprint slots.
//
// Each user row also holds the set of slot numbers the user owns, which
// makes UserRepository the slot allocator's owner directory (slot.Owners).
// Both the SQLite and the Postgres repositories implement it.
package auth
