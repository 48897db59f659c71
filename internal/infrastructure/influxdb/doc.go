// Package influxdb records Biolock activity as time series.
//
// Two measurements are written:
//   - slot_events: claim, collision, release, compensation and
//     reconciliation outcomes from the slot allocator
//   - access_events: granted/denied fingerprint matches reported by locks
//
// Collision counts per minute are the early warning that a lock's slot
// space is filling up and claims will start to exhaust.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // metrics off
//	}
//	defer client.Close()
//	client.WriteSlotEvent("claimed", 42, ownerID, time.Now())
package influxdb
