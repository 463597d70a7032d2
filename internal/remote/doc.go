// Package remote lets an MQTT broker start and stop plan runs.
//
// The controller subscribes to two command topics:
//
//	keyrunner/command/start   {"plan_id": "..."}
//	keyrunner/command/stop    (payload ignored)
//
// Every command is answered on keyrunner/response/ack with the outcome,
// including the run ID for an accepted start. A start that arrives while a
// run is active is rejected rather than queued.
package remote
