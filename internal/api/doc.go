// Package api provides the HTTP REST API and WebSocket live feed for
// Biolock Core.
//
// Users log in for a bearer token and drive enrollment, slot deletion and
// device commands through the orchestrator; lock credentials travel in the
// X-API-Key header. Admins additionally manage users and devices, inspect
// and reconcile slots, read the audit trail, and subscribe to slot and
// access events over /ws.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Orchestrator results map to HTTP statuses: not_found 404, conflict 409,
// unauthorized 401, forbidden 403, invalid_input 400, internal 500, and a
// partial success 202.
package api
