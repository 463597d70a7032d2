// Package mqtt connects Keyrunner to an MQTT broker.
//
// Keyrunner publishes run progress, run results and a retained engine
// status, and accepts remote start/stop commands:
//
//	keyrunner/engine/status          retained, engine state
//	keyrunner/run/{run_id}/progress  one message per completed sequence
//	keyrunner/run/{run_id}/stopped   final run record
//	keyrunner/command/start          {"plan_id": "..."}
//	keyrunner/command/stop           any payload
//	keyrunner/system/status          retained online/offline (LWT)
//
// The broker link is optional; it is only dialled when mqtt.enabled is set.
//
// # Security Considerations
//
// Anyone who can publish to keyrunner/command/start can type on this
// machine. Use broker ACLs and credentials, and TLS off localhost.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.Publish(mqtt.Topics{}.EngineStatus(), payload, 1, true)
package mqtt
