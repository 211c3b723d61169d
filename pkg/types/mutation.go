package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Action is the remote operation a mutation entry asks for
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// DeleteRef is the payload of a DELETE entry
type DeleteRef struct {
	ID string `json:"id"`
}

// MutationEntry is one pending remote operation. Its position in the
// queue is given by the key the queue assigns, not by a field.
type MutationEntry struct {
	Action     Action          `json:"action"`
	Collection Collection      `json:"collection"`
	Data       json.RawMessage `json:"data"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

// QueuedMutation pairs an entry with its queue key
type QueuedMutation struct {
	Key   uint64
	Entry *MutationEntry
}

// NewMutationEntry builds an entry for a CREATE or UPDATE of rec
func NewMutationEntry(action Action, c Collection, rec Record) (*MutationEntry, error) {
	if action == ActionDelete {
		return NewDeleteEntry(c, rec.RecordID())
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", c, err)
	}
	return &MutationEntry{
		Action:     action,
		Collection: c,
		Data:       data,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// NewDeleteEntry builds a DELETE entry carrying only the identifier
func NewDeleteEntry(c Collection, id string) (*MutationEntry, error) {
	data, err := json.Marshal(DeleteRef{ID: id})
	if err != nil {
		return nil, err
	}
	return &MutationEntry{
		Action:     ActionDelete,
		Collection: c,
		Data:       data,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// RecordID extracts the identifier of the record the entry refers to
func (e *MutationEntry) RecordID() string {
	var ref DeleteRef
	if err := json.Unmarshal(e.Data, &ref); err != nil {
		return ""
	}
	return ref.ID
}

// WithAction returns a copy of the entry with a different action
func (e *MutationEntry) WithAction(action Action) *MutationEntry {
	c := *e
	c.Action = action
	return &c
}
