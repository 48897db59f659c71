// Package mqtt provides the broker connection behind the lock command channel.
//
// This package manages:
//   - Connection to the broker with auto-reconnect and subscription restore
//   - Context-bounded publishing with QoS acknowledgement
//   - Topic subscriptions with wildcard support
//   - A retained service status and Last Will on biolock/system/status
//
// # Topics
//
//	devices/{deviceId}/command    core -> lock
//	devices/{deviceId}/response   lock -> core
//	events/access, events/denied  lock -> core
//	biolock/system/status         core status (retained, LWT)
//
// # Security Considerations
//
//   - Use TLS outside a lab network (cfg.Broker.TLS=true)
//   - Broker ACLs should confine each lock to its own devices/{id}/ subtree;
//     the core additionally checks a per-device key before publishing
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishContext(ctx, mqtt.Topics{}.DeviceCommand("esp32-001"), payload, 1, false)
package mqtt
