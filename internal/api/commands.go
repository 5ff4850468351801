package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-telemetry/internal/command"
	"github.com/nerrad567/gray-logic-telemetry/internal/device"
)

// commandRequest is the body of POST /devices/{id}/commands.
type commandRequest struct {
	Set map[string]any `json:"set"`
}

// handleEnqueueCommand admits a command for one device.
//
// Responses:
//   - 202 with the receipt (status "sent" or "queued")
//   - 400 for malformed bodies or assignments outside the actuator space
//   - 404 for devices that have never reported in
//   - 502 when the immediate write to a connected device failed
func (s *Server) handleEnqueueCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	receipt, err := s.dispatcher.Enqueue(r.Context(), id, req.Set)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, receipt)
	case errors.Is(err, command.ErrInvalidCommand):
		writeValidationError(w, err.Error())
	case errors.Is(err, device.ErrDeviceNotFound):
		writeNotFound(w, "unknown device")
	case errors.Is(err, command.ErrWriteFailed):
		writeBadGateway(w, "command could not be written to the device and was dropped")
	default:
		writeInternalError(w, "failed to enqueue command")
	}
}

// handleListCommands returns a device's pending command queue in delivery
// order.
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	pending, err := s.registry.Pending(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "unknown device")
			return
		}
		writeInternalError(w, "failed to list commands")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commands": pending, "count": len(pending)})
}
