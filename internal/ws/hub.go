package ws

import (
	"sync"
	"time"

	"ingest/internal/model"

	"github.com/rs/zerolog/log"
)

// Broadcaster fans phase and row-count updates out to a task's subscribers.
// Delivery is at-most-once and non-durable: a subscriber that joins after an
// event was published never sees it, and there is no replay. Authoritative
// state must come from the task record, never from this stream alone.
type Broadcaster interface {
	PublishProgress(progress model.Progress)
	PublishCompleted(task model.Task)
	PublishFailed(taskID string, errMsg string)
}

// Hub tracks connected clients and their per-task room subscriptions
type Hub struct {
	clients map[*Client]bool
	rooms   map[string]map[*Client]bool

	Register   chan *Client
	Unregister chan *Client

	mu sync.RWMutex
}

// NewHub creates an empty hub; callers must run Run on a goroutine
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
	}
}

// Run owns client registration for the life of the process
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Debug().Str("clientId", client.ID).Msg("Client connected")

		case client := <-h.Unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				h.removeFromRoomsLocked(client)
				delete(h.clients, client)
				client.closeSend()
			}
			h.mu.Unlock()
			log.Debug().Str("clientId", client.ID).Msg("Client disconnected")
		}
	}
}

// Join subscribes the client to a task's room
func (h *Hub) Join(client *Client, taskID string) {
	h.mu.Lock()
	room, ok := h.rooms[taskID]
	if !ok {
		room = make(map[*Client]bool)
		h.rooms[taskID] = room
	}
	room[client] = true
	h.mu.Unlock()

	log.Debug().Str("clientId", client.ID).Str("taskId", taskID).Msg("Client joined task room")
}

// Leave unsubscribes the client from a task's room
func (h *Hub) Leave(client *Client, taskID string) {
	h.mu.Lock()
	if room, ok := h.rooms[taskID]; ok {
		delete(room, client)
		if len(room) == 0 {
			delete(h.rooms, taskID)
		}
	}
	h.mu.Unlock()

	log.Debug().Str("clientId", client.ID).Str("taskId", taskID).Msg("Client left task room")
}

// removeFromRoomsLocked drops the client from every room. Callers hold the lock.
func (h *Hub) removeFromRoomsLocked(client *Client) {
	for taskID, room := range h.rooms {
		if room[client] {
			delete(room, client)
			if len(room) == 0 {
				delete(h.rooms, taskID)
			}
		}
	}
}

// RoomSize returns the number of subscribers for a task
func (h *Hub) RoomSize(taskID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[taskID])
}

// publish sends an already-framed message to every subscriber of the task.
// A client whose send buffer is full is dropped rather than blocking the
// publisher.
func (h *Hub) publish(taskID string, message []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[taskID]
	if !ok {
		return
	}

	for client := range room {
		if !client.trySend(message) {
			h.removeFromRoomsLocked(client)
			delete(h.clients, client)
			client.closeSend()
		}
	}
}

// PublishProgress implements Broadcaster
func (h *Hub) PublishProgress(progress model.Progress) {
	if progress.Timestamp.IsZero() {
		progress.Timestamp = time.Now()
	}

	message, err := envelope(EventTaskProgress, progress)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode progress message")
		return
	}

	h.publish(progress.TaskID, message)
}

// PublishCompleted implements Broadcaster; carries the final task snapshot
func (h *Hub) PublishCompleted(task model.Task) {
	message, err := envelope(EventTaskCompleted, CompletedMessage{
		Task:      task,
		Timestamp: time.Now(),
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode completion message")
		return
	}

	h.publish(task.ID.Hex(), message)
}

// PublishFailed implements Broadcaster
func (h *Hub) PublishFailed(taskID string, errMsg string) {
	message, err := envelope(EventTaskFailed, FailedMessage{
		TaskID:    taskID,
		Error:     errMsg,
		Timestamp: time.Now(),
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode failure message")
		return
	}

	h.publish(taskID, message)
}
