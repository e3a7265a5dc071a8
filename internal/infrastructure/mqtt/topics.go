package mqtt

import "fmt"

// TopicPrefix is the root of every Gray Logic topic.
//
// Bridge topics use the flat scheme graylogic/{category}/{protocol}/{id},
// shared with the protocol bridges this service dispatches to.
const TopicPrefix = "graylogic"

// Topics provides builders for the MQTT topics used by the voice service.
//
//	topics := mqtt.Topics{}
//	topics.Command("knx", "light-kitchen-main")
//	// Returns: "graylogic/command/knx/light-kitchen-main"
type Topics struct{}

// Command returns the topic a bridge listens on for device commands.
func (Topics) Command(protocol, deviceID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, protocol, deviceID)
}

// Ack returns the topic a bridge acknowledges commands on.
func (Topics) Ack(protocol, deviceID string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, protocol, deviceID)
}

// Discovery returns the retained discovery topic for one device.
func (Topics) Discovery(protocol, deviceID string) string {
	return fmt.Sprintf("%s/discovery/%s/%s", TopicPrefix, protocol, deviceID)
}

// AllDiscovery matches every device discovery message of a protocol.
//
// Pattern: graylogic/discovery/{protocol}/+
func (Topics) AllDiscovery(protocol string) string {
	return fmt.Sprintf("%s/discovery/%s/+", TopicPrefix, protocol)
}

// Status is the retained online/offline topic of this service.
func (Topics) Status() string {
	return TopicPrefix + "/voice/status"
}

// Event returns the topic voice pipeline events are mirrored to.
//
// Example: graylogic/voice/event/dispatch.completed
func (Topics) Event(kind string) string {
	return fmt.Sprintf("%s/voice/event/%s", TopicPrefix, kind)
}
