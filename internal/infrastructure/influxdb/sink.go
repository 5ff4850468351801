package influxdb

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-telemetry/internal/fanout"
)

// MetricWriter stores telemetry records. Satisfied by *Client.
type MetricWriter interface {
	WriteDeviceMetric(deviceID string, msg map[string]any, ts time.Time) bool
}

// Logger defines the logging interface used by the Sink.
type Logger interface {
	Info(msg string, args ...any)
	Debug(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Debug(string, ...any) {}

// SinkStats counts sink activity.
type SinkStats struct {
	Written uint64
	Skipped uint64
}

// Sink follows the fan-out hub and writes telemetry events to InfluxDB.
// Hello events are not stored.
type Sink struct {
	writer MetricWriter
	events *fanout.Hub
	logger Logger

	written atomic.Uint64
	skipped atomic.Uint64
}

// NewSink creates a sink. A nil logger disables logging.
func NewSink(writer MetricWriter, events *fanout.Hub, logger Logger) *Sink {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Sink{writer: writer, events: events, logger: logger}
}

// Run consumes hub events until ctx is cancelled or the hub is closed.
func (s *Sink) Run(ctx context.Context) {
	sub := s.events.Subscribe("")
	defer sub.Close()

	s.logger.Info("InfluxDB telemetry sink started", "measurement", MeasurementDeviceMetrics)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			s.record(ev)
		}
	}
}

func (s *Sink) record(ev fanout.Event) {
	if ev.Kind != fanout.KindTelemetry {
		return
	}
	if s.writer.WriteDeviceMetric(ev.DeviceID, ev.Message, ev.Timestamp) {
		s.written.Add(1)
		return
	}
	s.skipped.Add(1)
	s.logger.Debug("telemetry record not stored", "device_id", ev.DeviceID)
}

// Stats returns a snapshot of the sink counters.
func (s *Sink) Stats() SinkStats {
	return SinkStats{
		Written: s.written.Load(),
		Skipped: s.skipped.Load(),
	}
}
