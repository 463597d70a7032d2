// Package influxdb records run metrics in InfluxDB 2.x.
//
// Each finished run produces one "keyrunner_run" point tagged with the plan
// name, run status and trigger source, carrying counts of dispatched, failed
// and skipped actions and the run duration. It is optional and only dialled
// when influxdb.enabled is set.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	client.SetOnError(func(err error) { log.Warn("influx write failed", "error", err) })
//
// Writes never block the engine: points are batched according to
// batch_size and flush_interval.
package influxdb
