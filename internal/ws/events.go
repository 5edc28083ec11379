package ws

import (
	"encoding/json"
	"ingest/internal/model"
	"time"
)

// Events clients send to the server
const (
	EventJoinTask  = "join-task"
	EventLeaveTask = "leave-task"
)

// Events the server sends to clients
const (
	EventJoinedTask    = "joined-task"
	EventLeftTask      = "left-task"
	EventTaskProgress  = "task-progress"
	EventTaskCompleted = "task-completed"
	EventTaskFailed    = "task-failed"
)

// Envelope is the wire frame for every message in both directions
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// RoomRequest is the inbound payload for join-task / leave-task
type RoomRequest struct {
	TaskID string `json:"taskId"`
}

// CompletedMessage carries the final task snapshot on success
type CompletedMessage struct {
	model.Task
	Timestamp time.Time `json:"timestamp"`
}

// FailedMessage carries the failure outcome
type FailedMessage struct {
	TaskID    string    `json:"taskId"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

func envelope(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}
