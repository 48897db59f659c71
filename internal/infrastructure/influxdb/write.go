package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementSlots  = "slot_events"
	measurementAccess = "access_events"
)

// WriteSlotEvent records one slot lifecycle change (claimed, collision,
// released, compensated, ...). The owner ID is a field, not a tag, to keep
// series cardinality bounded by the event kinds.
func (c *Client) WriteSlotEvent(kind string, slot int, ownerID string, at time.Time) {
	c.writePoint(slotEventPoint(kind, slot, ownerID, at))
}

// WriteAccessEvent records a granted or denied fingerprint match reported
// by a lock. slot is negative when the lock did not report one.
func (c *Client) WriteAccessEvent(kind, deviceID, status string, slot int, at time.Time) {
	c.writePoint(accessEventPoint(kind, deviceID, status, slot, at))
}

func slotEventPoint(kind string, slot int, ownerID string, at time.Time) *write.Point {
	fields := map[string]interface{}{
		"count": 1,
	}
	if slot >= 0 {
		fields["slot"] = slot
	}
	if ownerID != "" {
		fields["owner_id"] = ownerID
	}
	return write.NewPoint(
		measurementSlots,
		map[string]string{
			"kind": kind,
		},
		fields,
		at,
	)
}

func accessEventPoint(kind, deviceID, status string, slot int, at time.Time) *write.Point {
	tags := map[string]string{
		"kind": kind,
	}
	if deviceID != "" {
		tags["device_id"] = deviceID
	}
	fields := map[string]interface{}{
		"count": 1,
	}
	if status != "" {
		fields["status"] = status
	}
	if slot >= 0 {
		fields["slot"] = slot
	}
	return write.NewPoint(measurementAccess, tags, fields, at)
}
