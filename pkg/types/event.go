package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType categorizes the kind of event.
type EventType string

const (
	EventTypeExecutionStatus EventType = "execution_status"
	EventTypeAgentStatus     EventType = "agent_status"
	EventTypeLog             EventType = "log"
	EventTypeProgress        EventType = "progress"
	EventTypeStreamEnd       EventType = "stream_end"
)

// Event represents a single event in an execution's event stream.
type Event struct {
	ID          string          `json:"id"`
	ExecutionID string          `json:"execution_id"`
	Type        EventType       `json:"type"`
	NodeID      string          `json:"node_id,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// EventInput is used when appending new events.
type EventInput struct {
	Type   EventType   `json:"type"`
	NodeID string      `json:"node_id,omitempty"`
	Data   interface{} `json:"data,omitempty"`
}

// ExecutionStatusEvent is the data payload for execution status changes.
type ExecutionStatusEvent struct {
	Status ExecutionStatus `json:"status"`
	Error  string          `json:"error,omitempty"`
}

// AgentStatusEvent is the data payload for per-node status changes.
type AgentStatusEvent struct {
	AgentID    string          `json:"agent_id"`
	AgentName  string          `json:"agent_name,omitempty"`
	Status     ExecutionStatus `json:"status"`
	TokensUsed int             `json:"tokens_used,omitempty"`
	Cost       float64         `json:"cost,omitempty"`
	LatencyMS  int64           `json:"latency_ms,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// LogEvent mirrors an execution log entry onto the event stream.
type LogEvent struct {
	Level     string `json:"level"`
	Component string `json:"component"`
	Message   string `json:"message"`
}

// ProgressEvent reports how far along the resolved order an execution is.
type ProgressEvent struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Message string `json:"message,omitempty"`
}

// ToSSE formats the event for Server-Sent Events protocol.
// Format: id: <id>\nevent: <type>\ndata: <json>\n\n
func (e *Event) ToSSE() []byte {
	data, _ := json.Marshal(e)
	return []byte(fmt.Sprintf("id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Type, data))
}
