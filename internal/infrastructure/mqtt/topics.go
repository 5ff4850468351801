package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "graylogic/telemetry"

// Topic categories under the prefix.
const (
	categoryState   = "state"
	categoryCommand = "command"
	categoryStatus  = "status"
)

// Topics builds the gateway's MQTT topics under a common prefix.
//
//	topics := mqtt.Topics{Prefix: "graylogic/telemetry"}
//	topics.State("d1")   // "graylogic/telemetry/state/d1"
//	topics.Command("d1") // "graylogic/telemetry/command/d1"
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	p := strings.TrimSuffix(t.Prefix, "/")
	if p == "" {
		return DefaultTopicPrefix
	}
	return p
}

// State returns the topic device events are republished on.
func (t Topics) State(deviceID string) string {
	return fmt.Sprintf("%s/%s/%s", t.prefix(), categoryState, deviceID)
}

// Command returns the topic external systems publish device commands on.
func (t Topics) Command(deviceID string) string {
	return fmt.Sprintf("%s/%s/%s", t.prefix(), categoryCommand, deviceID)
}

// Status returns the gateway's retained online/offline status topic.
func (t Topics) Status() string {
	return fmt.Sprintf("%s/%s", t.prefix(), categoryStatus)
}

// AllStates returns a pattern matching every device state topic.
func (t Topics) AllStates() string {
	return fmt.Sprintf("%s/%s/+", t.prefix(), categoryState)
}

// AllCommands returns a pattern matching every device command topic.
func (t Topics) AllCommands() string {
	return fmt.Sprintf("%s/%s/+", t.prefix(), categoryCommand)
}

// CommandDevice extracts the device ID from a command topic.
// ok is false for topics outside the command namespace.
func (t Topics) CommandDevice(topic string) (string, bool) {
	rest, found := strings.CutPrefix(topic, t.prefix()+"/"+categoryCommand+"/")
	if !found || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}
