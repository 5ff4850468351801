package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-telemetry/internal/command"
	"github.com/nerrad567/gray-logic-telemetry/internal/device"
	"github.com/nerrad567/gray-logic-telemetry/internal/fanout"
	"github.com/nerrad567/gray-logic-telemetry/internal/session"
)

// unknownDeviceID is used for HTTP check-ins that omit the dev field.
const unknownDeviceID = "unknown"

// latestResponse is the body of GET /devices/{id}/latest.
type latestResponse struct {
	ID       string         `json:"id"`
	Online   bool           `json:"online"`
	LastSeen time.Time      `json:"last_seen"`
	Latest   device.Message `json:"latest"`
}

// wireCommand is a command handed back in an HTTP check-in response.
type wireCommand struct {
	ID  string         `json:"id"`
	Set map[string]any `json:"set"`
	TS  string         `json:"ts"`
}

// handleTelemetry accepts a device check-in over HTTP.
//
// The body is the same document a device would send on its session and its
// "type" decides the effect, as it does there: hello and announce records
// update the device and notify observers, telemetry and state records also
// release one queued command, and any other kind only refreshes last-seen.
// The device ID comes from "dev" (default "unknown"). Because an HTTP device
// has no bound transport, a released command is returned in the response
// instead of being written to a socket.
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	var msg map[string]any
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil || msg == nil {
		writeBadRequest(w, "body must be a JSON object")
		return
	}

	id, _ := msg["dev"].(string) //nolint:errcheck // empty string falls back to unknownDeviceID
	if id == "" {
		id = unknownDeviceID
	}

	resp := map[string]any{"ok": true}
	switch session.Classify(session.RecordKind(msg)) {
	case session.ActionAnnounce:
		if !s.recordCheckIn(w, id, msg, fanout.KindHello) {
			return
		}

	case session.ActionReport:
		if !s.recordCheckIn(w, id, msg, fanout.KindTelemetry) {
			return
		}
		if delivery, ok := s.dispatcher.Drain(id); ok && delivery.Status == command.StatusHandoff {
			resp["command"] = wireCommand{
				ID:  delivery.Command.ID,
				Set: delivery.Command.Fields,
				TS:  delivery.Command.CreatedAt.UTC().Format(time.RFC3339),
			}
		}

	default:
		if _, err := s.registry.Touch(id, nil); err != nil {
			writeInternalError(w, "failed to record check-in")
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// recordCheckIn stores msg as the device's latest message and notifies
// observers. It writes the error response itself and reports success.
func (s *Server) recordCheckIn(w http.ResponseWriter, id string, msg map[string]any, kind string) bool {
	if _, err := s.registry.Upsert(id, device.Message(msg), nil); err != nil {
		writeInternalError(w, "failed to record telemetry")
		return false
	}
	s.events.Publish(fanout.Event{
		DeviceID:  id,
		Kind:      kind,
		Message:   msg,
		Timestamp: time.Now().UTC(),
	})
	return true
}

// handleListDevices returns every known device with its derived online flag.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.registry.List()
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device snapshot by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleGetLatest returns the latest message reported by a device.
func (s *Server) handleGetLatest(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, latestResponse{
		ID:       snap.ID,
		Online:   snap.Online,
		LastSeen: snap.LastSeen,
		Latest:   snap.Latest,
	})
}

// lookup loads the device named by the {id} URL parameter, writing a 404
// when it has never been seen.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (device.Snapshot, bool) {
	snap, err := s.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "unknown device")
			return device.Snapshot{}, false
		}
		writeInternalError(w, "failed to get device")
		return device.Snapshot{}, false
	}
	return snap, true
}
