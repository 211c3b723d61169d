package storage

import (
	"encoding/json"

	"github.com/cuemby/burrow/pkg/types"
)

// Store defines the durable per-collection record storage.
// Records are upserted by their RecordID.
type Store interface {
	// Records
	GetAll(collection types.Collection) ([]json.RawMessage, error)
	Get(collection types.Collection, id string) (json.RawMessage, error)
	Put(collection types.Collection, record types.Record) error
	Delete(collection types.Collection, id string) error
	Count(collection types.Collection) (int, error)

	// Bulk replace, reserved for the reconciler
	ReplaceAll(collection types.Collection, records []types.Record) error
	ReplaceDataset(dataset *types.Dataset) error

	// Utility
	Close() error
}

// Queue defines the durable ordered backlog of mutations waiting to be
// sent to the remote. Keys are assigned on Enqueue and increase
// monotonically.
type Queue interface {
	Enqueue(entry *types.MutationEntry) (uint64, error)
	PeekAll() ([]*types.QueuedMutation, error)
	Remove(key uint64) error
	Len() (int, error)
}

// Backend is a Store and a Queue in one database. A record change and the
// queue entry that mirrors it commit in the same transaction.
type Backend interface {
	Store
	Queue

	PutAndEnqueue(collection types.Collection, record types.Record, entry *types.MutationEntry) (uint64, error)
	DeleteAndEnqueue(collection types.Collection, id string, entry *types.MutationEntry) (uint64, error)
}

// List decodes every record of a collection
func List[T any](s Store, collection types.Collection) ([]*T, error) {
	raws, err := s.GetAll(collection)
	if err != nil {
		return nil, err
	}

	out := make([]*T, 0, len(raws))
	for _, raw := range raws {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, storageErr("decode", collection, err)
		}
		out = append(out, &v)
	}
	return out, nil
}

// LoadDataset reads every collection into a dataset. Missing settings fall
// back to the defaults.
func LoadDataset(s Store) (*types.Dataset, error) {
	d := types.NewDataset()
	var err error

	if d.Users, err = List[types.User](s, types.CollectionUsers); err != nil {
		return nil, err
	}
	if d.Classes, err = List[types.Class](s, types.CollectionClasses); err != nil {
		return nil, err
	}
	if d.Students, err = List[types.Student](s, types.CollectionStudents); err != nil {
		return nil, err
	}
	if d.Journals, err = List[types.Journal](s, types.CollectionJournals); err != nil {
		return nil, err
	}
	if d.Attendance, err = List[types.AttendanceRecord](s, types.CollectionAttendance); err != nil {
		return nil, err
	}

	settings, err := List[types.Settings](s, types.CollectionSettings)
	if err != nil {
		return nil, err
	}
	for _, st := range settings {
		if st.ID == types.SettingsID {
			d.Settings = st
		}
	}

	return d, nil
}
