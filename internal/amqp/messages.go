package amqp

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event kinds carried on the ledger event queue. Messages are
// deliberately lightweight: the worker fetches the full entry from the
// database by ID.
const (
	KindEntrySaved   = "entry_saved"   // insert or edit
	KindEntryDeleted = "entry_deleted" // soft delete
)

// Event describes one ledger mutation for downstream consumers.
type Event struct {
	Kind      string    `json:"kind"`
	EntryID   int64     `json:"entry_id"`
	Timestamp time.Time `json:"timestamp"`
}

func NewEntrySavedEvent(entryID int64) Event {
	return Event{Kind: KindEntrySaved, EntryID: entryID, Timestamp: time.Now()}
}

func NewEntryDeletedEvent(entryID int64) Event {
	return Event{Kind: KindEntryDeleted, EntryID: entryID, Timestamp: time.Now()}
}

func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

func EventFromJSON(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, err
	}
	switch e.Kind {
	case KindEntrySaved, KindEntryDeleted:
	default:
		return Event{}, fmt.Errorf("unknown event kind %q", e.Kind)
	}
	return e, nil
}
