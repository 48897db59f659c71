package mqtt

import (
	"fmt"
	"strings"
)

// Topic roots. Lock firmware hard-codes the devices/ and events/ hierarchy,
// so these are not configurable.
const (
	// TopicPrefixDevices is the per-lock hierarchy: devices/{deviceId}/...
	TopicPrefixDevices = "devices"

	// TopicPrefixEvents carries access events from all locks.
	TopicPrefixEvents = "events"

	// TopicPrefixSystem is the service's own status hierarchy.
	TopicPrefixSystem = "biolock/system"
)

// Topics provides builders for Biolock MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.DeviceCommand("esp32-001") // "devices/esp32-001/command"
type Topics struct{}

// DeviceCommand returns the topic a lock listens on for commands.
//
// Example: devices/esp32-001/command
func (Topics) DeviceCommand(deviceID string) string {
	return fmt.Sprintf("%s/%s/command", TopicPrefixDevices, deviceID)
}

// DeviceResponse returns the topic a lock reports command outcomes on.
//
// Example: devices/esp32-001/response
func (Topics) DeviceResponse(deviceID string) string {
	return fmt.Sprintf("%s/%s/response", TopicPrefixDevices, deviceID)
}

// AllDeviceResponses matches every lock's response topic.
//
// Pattern: devices/+/response
func (Topics) AllDeviceResponses() string {
	return fmt.Sprintf("%s/+/response", TopicPrefixDevices)
}

// AccessEvents returns the topic for granted access events.
//
// Example: events/access
func (Topics) AccessEvents() string {
	return TopicPrefixEvents + "/access"
}

// DeniedEvents returns the topic for denied access events.
//
// Example: events/denied
func (Topics) DeniedEvents() string {
	return TopicPrefixEvents + "/denied"
}

// SystemStatus returns the retained service status topic (also the LWT topic).
//
// Example: biolock/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// DeviceIDFromTopic extracts the device ID from devices/{id}/command or
// devices/{id}/response. It returns false for any other shape.
func DeviceIDFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != TopicPrefixDevices || parts[1] == "" {
		return "", false
	}
	switch parts[2] {
	case "command", "response":
		return parts[1], true
	default:
		return "", false
	}
}
