package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WritePointWithTime queues a point stamped with timestamp. The engine
// uses it for run summaries, stamped with the run's completion time.
//
// Example:
//
//	client.WritePointWithTime("keyrunner_run",
//	    map[string]string{"plan": "daily-report", "status": "completed"},
//	    map[string]any{"actions_dispatched": 120, "duration_ms": 64000},
//	    run.CompletedAt)
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
