// Package events defines the notifications the engine emits towards UI and
// rendering collaborators. Delivery is synchronous and in-process; the
// engine never depends on what subscribers do with a snapshot.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/threatcanvas/core/domain/graph"
	pkgerrors "github.com/threatcanvas/core/pkg/errors"
)

// Event is the base interface for all engine events
type Event interface {
	GetEventID() string
	GetEventType() string
	GetTimestamp() time.Time
}

// BaseEvent provides common event fields
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

func newBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

func (e BaseEvent) GetEventID() string      { return e.EventID }
func (e BaseEvent) GetEventType() string    { return e.EventType }
func (e BaseEvent) GetTimestamp() time.Time { return e.Timestamp }

// DocumentChanged is emitted after every committed mutation, undo or redo.
// Snapshot is a deep copy; subscribers may hold it indefinitely.
type DocumentChanged struct {
	BaseEvent
	Snapshot *graph.Document `json:"snapshot"`
}

// NewDocumentChanged creates a DocumentChanged event
func NewDocumentChanged(snapshot *graph.Document) DocumentChanged {
	return DocumentChanged{
		BaseEvent: newBaseEvent("document.changed"),
		Snapshot:  snapshot,
	}
}

// ImportSummary reports what an import run did
type ImportSummary struct {
	ObjectsRead  int      `json:"objects_read"`
	NodesCreated int      `json:"nodes_created"`
	EdgesCreated int      `json:"edges_created"`
	Warnings     []string `json:"warnings,omitempty"`
	Errors       []string `json:"errors,omitempty"`
}

// ImportCompleted is emitted after an import pipeline run finishes,
// whether or not anything was committed.
type ImportCompleted struct {
	BaseEvent
	Summary ImportSummary `json:"summary"`
}

// NewImportCompleted creates an ImportCompleted event
func NewImportCompleted(summary ImportSummary) ImportCompleted {
	return ImportCompleted{
		BaseEvent: newBaseEvent("import.completed"),
		Summary:   summary,
	}
}

// ValidationFailed is emitted when a preset or mutation is rejected with a
// collected error report.
type ValidationFailed struct {
	BaseEvent
	Errors *pkgerrors.ValidationErrors `json:"errors"`
}

// NewValidationFailed creates a ValidationFailed event
func NewValidationFailed(errs *pkgerrors.ValidationErrors) ValidationFailed {
	return ValidationFailed{
		BaseEvent: newBaseEvent("validation.failed"),
		Errors:    errs,
	}
}

// Handler receives emitted events
type Handler func(event Event)

// Publisher fans events out to registered handlers synchronously, in
// registration order.
type Publisher struct {
	mu       sync.RWMutex
	handlers []Handler
}

// NewPublisher creates an empty publisher
func NewPublisher() *Publisher {
	return &Publisher{}
}

// Subscribe registers a handler for all subsequent events
func (p *Publisher) Subscribe(h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, h)
}

// Publish delivers the event to every registered handler
func (p *Publisher) Publish(event Event) {
	p.mu.RLock()
	handlers := make([]Handler, len(p.handlers))
	copy(handlers, p.handlers)
	p.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}
