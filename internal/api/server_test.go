package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-telemetry/internal/command"
	"github.com/nerrad567/gray-logic-telemetry/internal/device"
	"github.com/nerrad567/gray-logic-telemetry/internal/fanout"
	"github.com/nerrad567/gray-logic-telemetry/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-telemetry/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-telemetry/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-telemetry/internal/relay"
)

// testServer creates a Server backed by a real registry, dispatcher and
// event hub.
func testServer(t *testing.T) (*Server, *device.Registry) {
	t.Helper()

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	registry := device.NewRegistry(device.Options{})
	events := fanout.NewHub(fanout.DefaultBuffer, nil)
	dispatcher := command.NewDispatcher(registry, command.DefaultActuatorSpace(), nil)

	srv, err := New(Deps{
		Config: config.ServerConfig{
			Host: "127.0.0.1",
			Timeouts: config.ServerTimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS: config.WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:     log,
		Registry:   registry,
		Dispatcher: dispatcher,
		Events:     events,
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.hub.Run(ctx)

	return srv, registry
}

// do runs one request through the router and returns the recorder.
func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return resp
}

// ─── Health and Middleware ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv.Handler(), http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	resp := decode(t, w)
	if resp["ok"] != true {
		t.Errorf("ok = %v, want true", resp["ok"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
}

// fakeLink is an upstream link with a fixed health result.
type fakeLink struct {
	err error
}

func (f fakeLink) IsConnected() bool                   { return f.err == nil }
func (f fakeLink) HealthCheck(_ context.Context) error { return f.err }

func TestHealth_ReportsLinks(t *testing.T) {
	tests := []struct {
		name       string
		mqtt       Link
		influx     Link
		wantStatus string
		wantLinks  map[string]any
	}{
		{
			name:       "no links",
			wantStatus: "ok",
		},
		{
			name:       "healthy links",
			mqtt:       fakeLink{},
			influx:     fakeLink{},
			wantStatus: "ok",
			wantLinks:  map[string]any{"mqtt": "ok", "influxdb": "ok"},
		},
		{
			name:       "broker down",
			mqtt:       fakeLink{err: errors.New("mqtt: not connected")},
			influx:     fakeLink{},
			wantStatus: "degraded",
			wantLinks:  map[string]any{"mqtt": "mqtt: not connected", "influxdb": "ok"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := testServer(t)
			srv.mqtt = tt.mqtt
			srv.influx = tt.influx

			w := do(t, srv.Handler(), http.MethodGet, "/health", "")
			if w.Code != http.StatusOK {
				t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
			}
			resp := decode(t, w)
			if resp["status"] != tt.wantStatus {
				t.Errorf("status = %v, want %s", resp["status"], tt.wantStatus)
			}
			links, _ := resp["links"].(map[string]any) //nolint:errcheck // nil when omitted
			if tt.wantLinks == nil {
				if links != nil {
					t.Errorf("links = %v, want omitted", links)
				}
				return
			}
			for name, want := range tt.wantLinks {
				if links[name] != want {
					t.Errorf("links[%s] = %v, want %v", name, links[name], want)
				}
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.Handler()

	w := do(t, router, http.MethodGet, "/health", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS_Preflight(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/devices/d1/commands", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:3000")
	}
}

func TestNotFound(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv.Handler(), http.MethodGet, "/nonexistent", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── Device Check-in and Queries ───────────────────────────────────

func TestTelemetry_ListAndLatest(t *testing.T) {
	srv, registry := testServer(t)
	router := srv.Handler()

	for _, body := range []string{
		`{"dev":"d2","type":"telemetry","v1":5}`,
		`{"dev":"d1","type":"telemetry","v1":1}`,
		`{"dev":"d1","type":"telemetry","v1":2}`,
	} {
		w := do(t, router, http.MethodPost, "/device/telemetry", body)
		if w.Code != http.StatusOK {
			t.Fatalf("check-in status = %d, body %s", w.Code, w.Body.String())
		}
		if resp := decode(t, w); resp["ok"] != true || resp["command"] != nil {
			t.Errorf("check-in response = %v, want ok without command", resp)
		}
	}

	if registry.Count() != 2 {
		t.Fatalf("registry count = %d, want 2", registry.Count())
	}

	w := do(t, router, http.MethodGet, "/devices/", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var list struct {
		Devices []device.Snapshot `json:"devices"`
		Count   int               `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if list.Count != 2 || list.Devices[0].ID != "d1" || list.Devices[1].ID != "d2" {
		t.Errorf("list = %+v, want d1 then d2", list)
	}

	w = do(t, router, http.MethodGet, "/devices/d1/latest", "")
	if w.Code != http.StatusOK {
		t.Fatalf("latest status = %d", w.Code)
	}
	latest := decode(t, w)
	msg, ok := latest["latest"].(map[string]any)
	if !ok || msg["v1"] != float64(2) {
		t.Errorf("latest = %v, want v1=2", latest["latest"])
	}
	// HTTP devices have no bound session, so connection liveness reports offline.
	if latest["online"] != false {
		t.Errorf("online = %v, want false", latest["online"])
	}

	w = do(t, router, http.MethodGet, "/devices/d2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	if got := decode(t, w)["messages"]; got != float64(1) {
		t.Errorf("messages = %v, want 1", got)
	}
}

func TestTelemetry_DefaultsToUnknownDevice(t *testing.T) {
	srv, registry := testServer(t)

	w := do(t, srv.Handler(), http.MethodPost, "/device/telemetry", `{"t":21.5}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if _, err := registry.Get(unknownDeviceID); err != nil {
		t.Errorf("Get(%q) error = %v, want device recorded", unknownDeviceID, err)
	}
}

func TestTelemetry_BadBody(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "broken json", body: `{"dev":`},
		{name: "array", body: `[1,2]`},
		{name: "null", body: `null`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, registry := testServer(t)

			w := do(t, srv.Handler(), http.MethodPost, "/device/telemetry", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			if registry.Count() != 0 {
				t.Errorf("registry count = %d, want 0", registry.Count())
			}
		})
	}
}

func TestGetDevice_NotFound(t *testing.T) {
	srv, _ := testServer(t)

	for _, path := range []string{"/devices/ghost", "/devices/ghost/latest", "/devices/ghost/commands"} {
		w := do(t, srv.Handler(), http.MethodGet, path, "")
		if w.Code != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want %d", path, w.Code, http.StatusNotFound)
		}
		if got := decode(t, w)["code"]; got != ErrCodeNotFound {
			t.Errorf("GET %s code = %v, want %s", path, got, ErrCodeNotFound)
		}
	}
}

// ─── Commands ──────────────────────────────────────────────────────

func TestEnqueueCommand_Errors(t *testing.T) {
	tests := []struct {
		name       string
		device     string
		body       string
		wantStatus int
	}{
		{name: "unknown device", device: "ghost", body: `{"set":{"r1":true}}`, wantStatus: http.StatusNotFound},
		{name: "invalid json", device: "d1", body: `{"set":`, wantStatus: http.StatusBadRequest},
		{name: "empty set", device: "d1", body: `{"set":{}}`, wantStatus: http.StatusBadRequest},
		{name: "unknown actuator", device: "d1", body: `{"set":{"r9":1}}`, wantStatus: http.StatusBadRequest},
		{name: "value out of range", device: "d1", body: `{"set":{"r1":256}}`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, registry := testServer(t)
			router := srv.Handler()
			do(t, router, http.MethodPost, "/device/telemetry", `{"dev":"d1"}`)

			w := do(t, router, http.MethodPost, "/devices/"+tt.device+"/commands", tt.body)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if pending, _ := registry.Pending("d1"); len(pending) != 0 { //nolint:errcheck // d1 exists
				t.Errorf("pending = %v, want nothing queued", pending)
			}
		})
	}
}

func TestEnqueueCommand_QueuedAndHandedOff(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.Handler()

	do(t, router, http.MethodPost, "/device/telemetry", `{"dev":"d1","v1":0}`)

	w := do(t, router, http.MethodPost, "/devices/d1/commands", `{"set":{"r1":true,"r2":128}}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("enqueue status = %d, body %s", w.Code, w.Body.String())
	}
	receipt := decode(t, w)
	if receipt["status"] != string(command.StatusQueued) {
		t.Errorf("receipt status = %v, want %s", receipt["status"], command.StatusQueued)
	}
	commandID, _ := receipt["command_id"].(string) //nolint:errcheck // checked below
	if commandID == "" {
		t.Fatalf("receipt = %v, want a command id", receipt)
	}

	w = do(t, router, http.MethodGet, "/devices/d1/commands", "")
	if got := decode(t, w)["count"]; got != float64(1) {
		t.Fatalf("pending count = %v, want 1", got)
	}

	// The next check-in carries the queued command back.
	w = do(t, router, http.MethodPost, "/device/telemetry", `{"dev":"d1","v1":1}`)
	resp := decode(t, w)
	cmd, ok := resp["command"].(map[string]any)
	if !ok {
		t.Fatalf("check-in response = %v, want command", resp)
	}
	if cmd["id"] != commandID {
		t.Errorf("command id = %v, want %s", cmd["id"], commandID)
	}
	set, _ := cmd["set"].(map[string]any) //nolint:errcheck // nil map fails below
	if set["r1"] != true || set["r2"] != float64(128) {
		t.Errorf("command set = %v", cmd["set"])
	}

	// Only one command per check-in, and the queue is now empty.
	w = do(t, router, http.MethodPost, "/device/telemetry", `{"dev":"d1","v1":2}`)
	if resp := decode(t, w); resp["command"] != nil {
		t.Errorf("second check-in = %v, want no command", resp)
	}
}

func TestTelemetry_KindDecidesEffect(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.Handler()

	do(t, router, http.MethodPost, "/device/telemetry", `{"dev":"d1","type":"telemetry","v1":7}`)
	w := do(t, router, http.MethodPost, "/devices/d1/commands", `{"set":{"r1":true}}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("enqueue status = %d, body %s", w.Code, w.Body.String())
	}

	sub := srv.events.Subscribe("d1")
	defer sub.Close()

	latestV1 := func() any {
		t.Helper()
		w := do(t, router, http.MethodGet, "/devices/d1/latest", "")
		msg, _ := decode(t, w)["latest"].(map[string]any) //nolint:errcheck // nil map reads as missing
		return msg["v1"]
	}
	nextEvent := func() (fanout.Event, bool) {
		select {
		case ev := <-sub.Events():
			return ev, true
		default:
			return fanout.Event{}, false
		}
	}

	// hello: observers notified, latest replaced, nothing released.
	resp := decode(t, do(t, router, http.MethodPost, "/device/telemetry", `{"dev":"d1","type":"hello"}`))
	if resp["command"] != nil {
		t.Errorf("hello response = %v, want no command", resp)
	}
	if ev, ok := nextEvent(); !ok || ev.Kind != fanout.KindHello {
		t.Errorf("hello event = %+v, %v, want %s", ev, ok, fanout.KindHello)
	}
	if got := decode(t, do(t, router, http.MethodGet, "/devices/d1/commands", ""))["count"]; got != float64(1) {
		t.Fatalf("pending after hello = %v, want 1", got)
	}

	// Re-establish a telemetry snapshot without releasing the command.
	if _, err := srv.registry.Upsert("d1", device.Message{"dev": "d1", "v1": 9.0}, nil); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	// ack and unknown kinds: latest untouched, no event, nothing released.
	for _, body := range []string{
		`{"dev":"d1","type":"ack","id":"c-1"}`,
		`{"dev":"d1","type":"diagnostic"}`,
	} {
		resp := decode(t, do(t, router, http.MethodPost, "/device/telemetry", body))
		if resp["ok"] != true || resp["command"] != nil {
			t.Errorf("%s response = %v, want ok without command", body, resp)
		}
		if ev, ok := nextEvent(); ok {
			t.Errorf("%s published %+v, want nothing", body, ev)
		}
		if got := latestV1(); got != float64(9) {
			t.Errorf("%s latest v1 = %v, want 9", body, got)
		}
	}
	if got := decode(t, do(t, router, http.MethodGet, "/devices/d1/commands", ""))["count"]; got != float64(1) {
		t.Fatalf("pending after ack = %v, want 1", got)
	}

	// The next telemetry record releases it.
	resp = decode(t, do(t, router, http.MethodPost, "/device/telemetry", `{"dev":"d1","type":"state","v1":10}`))
	if resp["command"] == nil {
		t.Errorf("state response = %v, want command", resp)
	}
	if ev, ok := nextEvent(); !ok || ev.Kind != fanout.KindTelemetry {
		t.Errorf("state event = %+v, %v, want %s", ev, ok, fanout.KindTelemetry)
	}
}

// ─── Metrics ───────────────────────────────────────────────────────

func TestMetrics(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.Handler()

	do(t, router, http.MethodPost, "/device/telemetry", `{"dev":"d1"}`)
	do(t, router, http.MethodPost, "/devices/d1/commands", `{"set":{"r1":1}}`)

	w := do(t, router, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}

	var metrics SystemMetrics
	if err := json.Unmarshal(w.Body.Bytes(), &metrics); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if metrics.Devices.Total != 1 || metrics.Devices.QueuedCommands != 1 {
		t.Errorf("devices = %+v, want 1 device with 1 queued command", metrics.Devices)
	}
	if metrics.Devices.Liveness != string(device.LivenessConnection) {
		t.Errorf("liveness = %q, want %q", metrics.Devices.Liveness, device.LivenessConnection)
	}
	if metrics.Commands.Queued != 1 {
		t.Errorf("commands = %+v, want 1 queued", metrics.Commands)
	}
	if metrics.Events.Published != 1 {
		t.Errorf("events = %+v, want 1 published", metrics.Events)
	}
	if metrics.MQTT.Enabled || metrics.InfluxDB.Enabled {
		t.Error("optional links should report disabled")
	}
	if metrics.Listener != nil || metrics.Sessions != nil {
		t.Error("listener and session metrics should be omitted when not wired")
	}
}

// countingWriter accepts every metric.
type countingWriter struct{}

func (countingWriter) WriteDeviceMetric(string, map[string]any, time.Time) bool { return true }

func TestMetrics_RelayAndSink(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.Handler()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv.relay = relay.New(nil, srv.events, srv.dispatcher, nil)
	srv.sink = influxdb.NewSink(countingWriter{}, srv.events, nil)
	go srv.sink.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for srv.events.Count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("sink never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	do(t, router, http.MethodPost, "/device/telemetry", `{"dev":"d1","type":"telemetry","t":21.5}`)

	var metrics SystemMetrics
	for {
		w := do(t, router, http.MethodGet, "/metrics", "")
		metrics = SystemMetrics{}
		if err := json.Unmarshal(w.Body.Bytes(), &metrics); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if metrics.Sink != nil && metrics.Sink.Written == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("sink metrics = %+v, want 1 written", metrics.Sink)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if metrics.Relay == nil {
		t.Fatal("relay metrics omitted while a relay is wired")
	}
	if *metrics.Relay != (RelayMetrics{}) {
		t.Errorf("relay metrics = %+v, want zero before Run", *metrics.Relay)
	}
}

// ─── WebSocket Observers ───────────────────────────────────────────

// dialObserver connects a WebSocket observer and waits until its fan-out
// subscription is live.
func dialObserver(t *testing.T, srv *Server, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()

	before := srv.events.Count()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for srv.events.Count() == before {
		if time.Now().After(deadline) {
			t.Fatal("observer subscription never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // test deadline
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestWebSocket_FilteredObserver(t *testing.T) {
	srv, _ := testServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	filtered := dialObserver(t, srv, ts, "?device=d1")
	all := dialObserver(t, srv, ts, "")

	router := srv.Handler()
	do(t, router, http.MethodPost, "/device/telemetry", `{"dev":"d2","v1":9}`)
	do(t, router, http.MethodPost, "/device/telemetry", `{"dev":"d1","v1":1}`)

	msg := readMessage(t, filtered)
	if msg.Type != WSTypeEvent || msg.DeviceID != "d1" {
		t.Errorf("filtered observer got %+v, want d1 event", msg)
	}
	if msg.EventType != "device."+fanout.KindTelemetry {
		t.Errorf("event_type = %q, want device.%s", msg.EventType, fanout.KindTelemetry)
	}
	payload, _ := msg.Payload.(map[string]any) //nolint:errcheck // nil map fails below
	if payload["v1"] != float64(1) {
		t.Errorf("payload = %v, want v1=1", msg.Payload)
	}

	if got := readMessage(t, all).DeviceID; got != "d2" {
		t.Errorf("unfiltered first event device = %q, want d2", got)
	}
	if got := readMessage(t, all).DeviceID; got != "d1" {
		t.Errorf("unfiltered second event device = %q, want d1", got)
	}
}

func TestWebSocket_Ping(t *testing.T) {
	srv, _ := testServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dialObserver(t, srv, ts, "")
	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	msg := readMessage(t, conn)
	if msg.Type != WSTypePong || msg.ID != "p1" {
		t.Errorf("reply = %+v, want pong p1", msg)
	}

	if err := conn.WriteJSON(WSMessage{Type: "subscribe"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != WSTypeError {
		t.Errorf("reply = %+v, want error for unknown type", msg)
	}
}

func TestWebSocket_DisconnectReleasesSubscription(t *testing.T) {
	srv, _ := testServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dialObserver(t, srv, ts, "")
	if srv.hub.ClientCount() != 1 {
		t.Fatalf("ClientCount() = %d, want 1", srv.hub.ClientCount())
	}
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for srv.hub.ClientCount() != 0 || srv.events.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, subscriptions = %d after disconnect", srv.hub.ClientCount(), srv.events.Count())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_ClientCount(t *testing.T) {
	log := logging.Discard()
	hub := NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, log)
	events := fanout.NewHub(4, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	client := &WSClient{
		hub:  hub,
		sub:  events.Subscribe(""),
		send: make(chan []byte, defaultSendBuffer),
	}
	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Errorf("after register count = %d, want 1", hub.ClientCount())
	}

	hub.Unregister(client)
	hub.Unregister(client) // second call is a no-op
	if hub.ClientCount() != 0 {
		t.Errorf("after unregister count = %d, want 0", hub.ClientCount())
	}
	if events.Count() != 0 {
		t.Errorf("subscriptions = %d, want 0 after unregister", events.Count())
	}
}
