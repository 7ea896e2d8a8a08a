package sync

import (
	"time"

	"github.com/kimhsiao/shule/backend/internal/models"
)

// EventType identifies a sync notification.
type EventType string

const (
	EventOnline         EventType = "online"
	EventOffline        EventType = "offline"
	EventSyncStarted    EventType = "sync_started"
	EventSyncCompleted  EventType = "sync_completed"
	EventSyncFailed     EventType = "sync_failed"
	EventQueueProcessed EventType = "queue_processed"
	EventQueued         EventType = "queued"
)

// Event is delivered to the engine's event handler.
type Event struct {
	Type   EventType         `json:"type"`
	Status models.SyncStatus `json:"status"`
	Result *SyncResult       `json:"result,omitempty"`
	Queue  *QueueResult      `json:"queue,omitempty"`
	Error  string            `json:"error,omitempty"`
	At     time.Time         `json:"at"`
}

// EventHandler receives sync events. It is called synchronously and must
// not block.
type EventHandler func(Event)
