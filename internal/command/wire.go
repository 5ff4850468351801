package command

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-telemetry/internal/device"
)

// wireCommand is the server-to-device record.
type wireCommand struct {
	Type string         `json:"type"`
	ID   string         `json:"id"`
	Set  map[string]any `json:"set"`
	TS   string         `json:"ts"`
}

// Encode renders cmd as one newline-terminated wire record.
func Encode(cmd device.Command) ([]byte, error) {
	payload, err := json.Marshal(wireCommand{
		Type: "command",
		ID:   cmd.ID,
		Set:  cmd.Fields,
		TS:   cmd.CreatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("encoding command %s: %w", cmd.ID, err)
	}
	return append(payload, '\n'), nil
}
