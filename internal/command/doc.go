// Package command is the MQTT side of talking to locks.
//
// Outbound, Channel.Send checks the device key against the registry and
// publishes a JSON envelope on devices/{id}/command:
//
//	{"command":"ENROLL","payload":{"slotNumber":42},"timestamp":"2026-03-01T09:00:00.000Z"}
//
// Inbound, Start subscribes to devices/+/response, events/access and
// events/denied and turns every delivery into a Message on one buffered
// stream. A single consumer (the saga coordinator) reads it.
package command
