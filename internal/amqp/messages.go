package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"kakeibo/internal/core"
)

// EventType names a change to the record collection.
type EventType string

const (
	EventRecordCreated EventType = "record.created"
	EventRecordUpdated EventType = "record.updated"
	EventRecordDeleted EventType = "record.deleted"
)

func (t EventType) IsValid() bool {
	switch t {
	case EventRecordCreated, EventRecordUpdated, EventRecordDeleted:
		return true
	default:
		return false
	}
}

// RecordEvent is published after a mutation has been persisted. Deletes
// carry only the id.
type RecordEvent struct {
	Type      EventType    `json:"type"`
	RecordID  string       `json:"record_id"`
	Record    *core.Record `json:"record,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// NewRecordEvent stamps an event for the given record. For deletes pass a
// record with only the id set.
func NewRecordEvent(t EventType, r core.Record) *RecordEvent {
	ev := &RecordEvent{
		Type:      t,
		RecordID:  r.ID,
		Timestamp: time.Now().UTC(),
	}
	if t != EventRecordDeleted {
		ev.Record = &r
	}
	return ev
}

// ToJSON converts the event to JSON bytes
func (e *RecordEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// RecordEventFromJSON decodes and checks an event body.
func RecordEventFromJSON(data []byte) (*RecordEvent, error) {
	var ev RecordEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	if !ev.Type.IsValid() {
		return nil, fmt.Errorf("unknown event type %q", ev.Type)
	}
	if ev.RecordID == "" {
		return nil, fmt.Errorf("event %s without record id", ev.Type)
	}
	return &ev, nil
}
