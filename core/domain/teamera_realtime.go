package domain

import (
	"time"

	"github.com/goccy/go-json"
)

// ChangeType is a row-change kind on the backend change feed.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
	ChangeAll    ChangeType = "*"
)

// ChangeFilter selects which row changes a subscription receives.
// Filter uses the store's "column=eq.value" syntax.
type ChangeFilter struct {
	Schema string
	Table  string
	Event  ChangeType
	Filter string
}

// ProfileRowFilter selects updates of one profiles row.
func ProfileRowFilter(id string) ChangeFilter {
	return ChangeFilter{
		Schema: "public",
		Table:  ProfilesTable,
		Event:  ChangeUpdate,
		Filter: "id=eq." + id,
	}
}

// RowChange is one notification from the change feed.
type RowChange struct {
	Type            ChangeType      `json:"type"`
	Schema          string          `json:"schema"`
	Table           string          `json:"table"`
	CommitTimestamp time.Time       `json:"commit_timestamp"`
	New             json.RawMessage `json:"record,omitempty"`
	Old             json.RawMessage `json:"old_record,omitempty"`
}

// EventType names an event pushed to API clients over SSE.
type EventType string

const (
	EventProfileUpdated EventType = "profile.updated"
	EventConnected      EventType = "connected"
)

// RealtimeEvent is an event pushed to one API client.
type RealtimeEvent struct {
	Type      EventType `json:"type"`
	Seq       int64     `json:"seq"`
	UserID    string    `json:"-"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// NewProfileUpdatedEvent wraps a profile for the owner's stream.
func NewProfileUpdatedEvent(p *Profile) *RealtimeEvent {
	return &RealtimeEvent{
		Type:      EventProfileUpdated,
		UserID:    p.ID,
		Data:      p,
		Timestamp: time.Now(),
	}
}
