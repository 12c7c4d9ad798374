package mqtt

import "fmt"

// Topic prefixes for the nightscan bus.
//
// Instrument bridge traffic is keyed by device and request ID:
// nightscan/{request|response}/{device}/{request_id}
const (
	// TopicPrefix is the root of every nightscan topic.
	TopicPrefix = "nightscan"

	// TopicPrefixCore is the base for controller-published topics.
	TopicPrefixCore = "nightscan/core"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "nightscan/system"
)

// Topics provides builders for nightscan MQTT topics.
//
//	topics := mqtt.Topics{}
//	req := topics.BridgeRequest("detector", "7f0c...")
//	// Returns: "nightscan/request/detector/7f0c..."
type Topics struct{}

// BridgeRequest returns the topic a command for one instrument is published on.
//
// Example: nightscan/request/positioner/3b1e
func (Topics) BridgeRequest(device, requestID string) string {
	return fmt.Sprintf("%s/request/%s/%s", TopicPrefix, device, requestID)
}

// BridgeResponse returns the topic the bridge answers a request on.
//
// Example: nightscan/response/positioner/3b1e
func (Topics) BridgeResponse(device, requestID string) string {
	return fmt.Sprintf("%s/response/%s/%s", TopicPrefix, device, requestID)
}

// BridgeHealth returns the bridge daemon's health topic.
//
// Example: nightscan/health/bridge
func (Topics) BridgeHealth() string {
	return fmt.Sprintf("%s/health/bridge", TopicPrefix)
}

// CoreState returns the retained topic carrying the scheduler state.
//
// Example: nightscan/core/state
func (Topics) CoreState() string {
	return fmt.Sprintf("%s/state", TopicPrefixCore)
}

// CoreEvent returns the topic for controller events such as pass completion.
//
// Example: nightscan/core/event/pass_complete
func (Topics) CoreEvent(eventType string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefixCore, eventType)
}

// CoreAlert returns the topic for operator alerts.
//
// Example: nightscan/core/alert/discovery-failed
func (Topics) CoreAlert(alertID string) string {
	return fmt.Sprintf("%s/alert/%s", TopicPrefixCore, alertID)
}

// SystemStatus returns the online/offline status topic (also the LWT topic).
//
// Example: nightscan/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllBridgeResponses returns a pattern matching every response for a device.
//
// Pattern: nightscan/response/{device}/+
func (Topics) AllBridgeResponses(device string) string {
	return fmt.Sprintf("%s/response/%s/+", TopicPrefix, device)
}

// AllCoreAlerts returns a pattern matching all alerts.
//
// Pattern: nightscan/core/alert/+
func (Topics) AllCoreAlerts() string {
	return fmt.Sprintf("%s/alert/+", TopicPrefixCore)
}

// AllTopics returns a pattern matching all nightscan topics.
//
// Pattern: nightscan/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}
