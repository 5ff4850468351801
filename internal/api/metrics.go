package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Runtime       RuntimeMetrics   `json:"runtime"`
	WebSocket     WSMetrics        `json:"websocket"`
	MQTT          LinkMetrics      `json:"mqtt"`
	InfluxDB      LinkMetrics      `json:"influxdb"`
	Relay         *RelayMetrics    `json:"relay,omitempty"`
	Sink          *SinkMetrics     `json:"sink,omitempty"`
	Devices       DeviceMetrics    `json:"devices"`
	Listener      *ListenerMetrics `json:"listener,omitempty"`
	Sessions      *SessionMetrics  `json:"sessions,omitempty"`
	Commands      CommandMetrics   `json:"commands"`
	Events        EventMetrics     `json:"events"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket observer statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// LinkMetrics reports an optional upstream connection.
type LinkMetrics struct {
	Enabled   bool `json:"enabled"`
	Connected bool `json:"connected"`
}

// RelayMetrics contains MQTT relay statistics.
type RelayMetrics struct {
	Forwarded     uint64 `json:"forwarded"`
	PublishErrors uint64 `json:"publish_errors"`
	Commands      uint64 `json:"commands"`
	CommandErrors uint64 `json:"command_errors"`
}

// SinkMetrics contains InfluxDB sink statistics.
type SinkMetrics struct {
	Written uint64 `json:"written"`
	Skipped uint64 `json:"skipped"`
}

// DeviceMetrics contains device registry statistics.
type DeviceMetrics struct {
	Total          int    `json:"total"`
	Online         int    `json:"online"`
	QueuedCommands int    `json:"queued_commands"`
	Liveness       string `json:"liveness"`
}

// ListenerMetrics contains shared-port routing statistics.
type ListenerMetrics struct {
	Accepted uint64 `json:"accepted"`
	Device   uint64 `json:"device"`
	HTTP     uint64 `json:"http"`
	Dropped  uint64 `json:"dropped"`
}

// SessionMetrics contains device session statistics.
type SessionMetrics struct {
	Connections  uint64 `json:"connections"`
	Active       int64  `json:"active"`
	Frames       uint64 `json:"frames"`
	Malformed    uint64 `json:"malformed"`
	Overflows    uint64 `json:"overflows"`
	Unidentified uint64 `json:"unidentified"`
	WriteErrors  uint64 `json:"write_errors"`
}

// CommandMetrics contains dispatcher statistics.
type CommandMetrics struct {
	Sent     uint64 `json:"sent"`
	Queued   uint64 `json:"queued"`
	Drained  uint64 `json:"drained"`
	Dropped  uint64 `json:"dropped"`
	Rejected uint64 `json:"rejected"`
}

// EventMetrics contains fan-out hub statistics.
type EventMetrics struct {
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
	Delivered   uint64 `json:"delivered"`
	Dropped     uint64 `json:"dropped"`
}

// handleMetrics returns comprehensive system metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
	}

	if s.mqtt != nil {
		metrics.MQTT = LinkMetrics{Enabled: true, Connected: s.mqtt.IsConnected()}
	}
	if s.influx != nil {
		metrics.InfluxDB = LinkMetrics{Enabled: true, Connected: s.influx.IsConnected()}
	}

	if s.relay != nil {
		rs := s.relay.Stats()
		metrics.Relay = &RelayMetrics{
			Forwarded:     rs.Forwarded,
			PublishErrors: rs.PublishErrors,
			Commands:      rs.Commands,
			CommandErrors: rs.CommandErrors,
		}
	}
	if s.sink != nil {
		ks := s.sink.Stats()
		metrics.Sink = &SinkMetrics{Written: ks.Written, Skipped: ks.Skipped}
	}

	regStats := s.registry.GetStats()
	metrics.Devices = DeviceMetrics{
		Total:          regStats.TotalDevices,
		Online:         regStats.OnlineDevices,
		QueuedCommands: regStats.QueuedCommands,
		Liveness:       string(regStats.Liveness),
	}

	if s.listener != nil {
		ls := s.listener.Stats()
		metrics.Listener = &ListenerMetrics{
			Accepted: ls.Accepted,
			Device:   ls.Device,
			HTTP:     ls.Foreign,
			Dropped:  ls.Dropped,
		}
	}

	if s.sessions != nil {
		ss := s.sessions.Stats()
		metrics.Sessions = &SessionMetrics{
			Connections:  ss.Connections,
			Active:       ss.Active,
			Frames:       ss.Frames,
			Malformed:    ss.Malformed,
			Overflows:    ss.Overflows,
			Unidentified: ss.Unidentified,
			WriteErrors:  ss.WriteErrors,
		}
	}

	cs := s.dispatcher.Stats()
	metrics.Commands = CommandMetrics{
		Sent:     cs.Sent,
		Queued:   cs.Queued,
		Drained:  cs.Drained,
		Dropped:  cs.Dropped,
		Rejected: cs.Rejected,
	}

	es := s.events.Stats()
	metrics.Events = EventMetrics{
		Subscribers: es.Subscribers,
		Published:   es.Published,
		Delivered:   es.Delivered,
		Dropped:     es.Dropped,
	}

	writeJSON(w, http.StatusOK, metrics)
}
