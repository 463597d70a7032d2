package mqtt

import "fmt"

// TopicPrefix is the root of every Keyrunner topic.
const TopicPrefix = "keyrunner"

// Topics provides builders for Keyrunner MQTT topics.
//
//	topic := mqtt.Topics{}.RunProgress(runID)
//	// Returns: "keyrunner/run/<run-id>/progress"
type Topics struct{}

// =============================================================================
// Engine and Run Events (published)
// =============================================================================

// EngineStatus is the retained topic carrying the engine state.
//
// Example: keyrunner/engine/status
func (Topics) EngineStatus() string {
	return TopicPrefix + "/engine/status"
}

// RunProgress carries one message per completed sequence of a run.
//
// Example: keyrunner/run/5f0c.../progress
func (Topics) RunProgress(runID string) string {
	return fmt.Sprintf("%s/run/%s/progress", TopicPrefix, runID)
}

// RunStopped carries the final run record once the engine returns to idle.
//
// Example: keyrunner/run/5f0c.../stopped
func (Topics) RunStopped(runID string) string {
	return fmt.Sprintf("%s/run/%s/stopped", TopicPrefix, runID)
}

// SystemStatus is the retained online/offline topic, also used for the LWT.
//
// Example: keyrunner/system/status
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// =============================================================================
// Remote Commands (subscribed)
// =============================================================================

// CommandStart requests a run of a stored plan. Payload: {"plan_id": "..."}.
//
// Example: keyrunner/command/start
func (Topics) CommandStart() string {
	return TopicPrefix + "/command/start"
}

// CommandStop requests that the active run stop. The payload is ignored.
//
// Example: keyrunner/command/stop
func (Topics) CommandStop() string {
	return TopicPrefix + "/command/stop"
}

// CommandAck carries the result of each remote command.
//
// Example: keyrunner/response/ack
func (Topics) CommandAck() string {
	return TopicPrefix + "/response/ack"
}

// =============================================================================
// Wildcard Patterns
// =============================================================================

// AllCommands matches every remote command topic.
//
// Pattern: keyrunner/command/+
func (Topics) AllCommands() string {
	return TopicPrefix + "/command/+"
}

// AllRunEvents matches progress and stop events for every run.
//
// Pattern: keyrunner/run/+/+
func (Topics) AllRunEvents() string {
	return TopicPrefix + "/run/+/+"
}

// AllTopics matches all Keyrunner traffic.
//
// Pattern: keyrunner/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}
