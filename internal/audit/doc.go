// Package audit keeps the trail of slot lifecycle changes and
// administrative actions in the audit_logs table.
//
// Entries come from three places: the slot allocator's observer hook
// (claims, releases, compensations and reconciler repairs), the saga
// coordinator's access-event sinks, and the HTTP API for administrative
// actions such as device registration and owner deletion.
//
// Two stores implement Repository: SQLiteRepository over the
// migrations-managed audit_logs table and GormRepository for Postgres.
package audit
