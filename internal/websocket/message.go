package websocket

import (
	"encoding/json"
	"time"

	"github.com/frostdev-ops/pma-alert-engine/internal/core/alerting"
)

// Control message types. Engine events use their alerting.EventType as the
// message type.
const (
	MessageTypeConnection  = "connection"
	MessageTypeHeartbeat   = "heartbeat"
	MessageTypePong        = "pong"
	MessageTypeSubscribed  = "subscribed"
	MessageTypeError       = "error"
	MessageTypeSubscribe   = "subscribe"
	MessageTypeUnsubscribe = "unsubscribe"
	MessageTypePing        = "ping"
)

// Message represents a WebSocket message
type Message struct {
	Type        string                 `json:"type"`
	WorkspaceID string                 `json:"workspace_id,omitempty"`
	Data        map[string]interface{} `json:"data"`
	Timestamp   time.Time              `json:"timestamp"`
}

// ToJSON converts the message to JSON bytes
func (m Message) ToJSON() []byte {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	data, _ := json.Marshal(m)
	return data
}

// FromEvent converts an engine event into the message pushed to clients.
func FromEvent(event alerting.Event) Message {
	data := make(map[string]interface{}, len(event.Data)+3)
	for k, v := range event.Data {
		data[k] = v
	}
	if event.RuleID != "" {
		data["rule_id"] = event.RuleID
	}
	if event.AlertID != "" {
		data["alert_id"] = event.AlertID
	}
	var workspaceID string
	if event.Alert != nil {
		data["alert"] = event.Alert
		workspaceID = event.Alert.WorkspaceID
	}
	if ws, ok := event.Data["workspace_id"].(string); ok && workspaceID == "" {
		workspaceID = ws
	}
	return Message{
		Type:        string(event.Type),
		WorkspaceID: workspaceID,
		Data:        data,
		Timestamp:   event.Timestamp.UTC(),
	}
}
