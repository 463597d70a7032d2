// Package config loads Keyrunner's YAML configuration.
//
// Values are resolved in three layers: built-in defaults, the YAML file,
// then KEYRUNNER_* environment variables. Validate reports every problem
// at once rather than stopping at the first.
//
// Broker passwords and InfluxDB tokens belong in the environment
// (KEYRUNNER_MQTT_PASSWORD, KEYRUNNER_INFLUXDB_TOKEN), not in the file.
//
// The API listens on 127.0.0.1 by default. Anything that can reach it can
// type on this machine, so binding it to another interface should be a
// deliberate choice.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	timeout := cfg.GetStopTimeout()
package config
