package influxdb

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

func TestMetricFields(t *testing.T) {
	msg := map[string]any{
		"dev":    "d1",
		"type":   "telemetry",
		"id":     "x",
		"ts":     12.0,
		"v1":     1.0,
		"on":     false,
		"count":  json.Number("42"),
		"label":  "kitchen",
		"nested": map[string]any{"a": 1.0},
		"list":   []any{1.0},
		"empty":  nil,
	}

	fields := metricFields(msg)

	want := map[string]any{"v1": 1.0, "on": false, "count": 42.0}
	if len(fields) != len(want) {
		t.Fatalf("metricFields() = %v, want %v", fields, want)
	}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("fields[%q] = %v, want %v", k, fields[k], v)
		}
	}
}

func TestDevicePoint(t *testing.T) {
	ts := time.Unix(1700000000, 0)

	if p := devicePoint("d1", map[string]any{"dev": "d1"}, ts); p != nil {
		t.Error("devicePoint() should be nil without storable fields")
	}

	p := devicePoint("d1", map[string]any{"t": 21.5, "on": true}, ts)
	if p == nil {
		t.Fatal("devicePoint() = nil")
	}
	line := write.PointToLineProtocol(p, time.Second)
	if !strings.HasPrefix(line, "device_metrics,device_id=d1 ") {
		t.Errorf("line = %q", line)
	}
	for _, want := range []string{"t=21.5", "on=true", " 1700000000"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}
