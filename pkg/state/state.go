// Package state holds the in-memory image of the dataset. All changes go
// through Apply or Replace; readers get deep copies.
package state

import (
	"fmt"
	"sync"

	apperrors "github.com/cuemby/burrow/pkg/errors"
	"github.com/cuemby/burrow/pkg/types"
)

// Op is the kind of change a Command makes
type Op string

const (
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
)

// Command is one intent-based change to a single record
type Command struct {
	Op         Op
	Collection types.Collection
	Record     types.Record // set for OpUpsert
	ID         string       // set for OpDelete
}

// Upsert returns a command that inserts rec or replaces it in place
func Upsert(c types.Collection, rec types.Record) Command {
	return Command{Op: OpUpsert, Collection: c, Record: rec}
}

// Delete returns a command that removes the record with id
func Delete(c types.Collection, id string) Command {
	return Command{Op: OpDelete, Collection: c, ID: id}
}

// State owns the in-memory dataset
type State struct {
	mu   sync.RWMutex
	data *types.Dataset
}

// New creates a State holding a copy of d
func New(d *types.Dataset) *State {
	if d == nil {
		d = types.NewDataset()
	}
	return &State{data: d.Clone()}
}

// Apply applies a command. Upserts keep the position of an existing record
// and append new ones. Deleting an absent record returns errors.ErrNotFound.
func (s *State) Apply(cmd Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch cmd.Op {
	case OpUpsert:
		if cmd.Record == nil || cmd.Record.RecordID() == "" {
			return apperrors.Newf(apperrors.ErrValidation, "%s record requires an id", cmd.Collection)
		}
		return s.upsert(cmd.Collection, types.CloneRecord(cmd.Record))
	case OpDelete:
		return s.delete(cmd.Collection, cmd.ID)
	default:
		return apperrors.Newf(apperrors.ErrValidation, "unknown op %q", cmd.Op)
	}
}

func (s *State) upsert(c types.Collection, rec types.Record) error {
	d := s.data
	var ok bool
	switch c {
	case types.CollectionUsers:
		var v *types.User
		if v, ok = rec.(*types.User); ok {
			d.Users = upsert(d.Users, v)
		}
	case types.CollectionClasses:
		var v *types.Class
		if v, ok = rec.(*types.Class); ok {
			d.Classes = upsert(d.Classes, v)
		}
	case types.CollectionStudents:
		var v *types.Student
		if v, ok = rec.(*types.Student); ok {
			d.Students = upsert(d.Students, v)
		}
	case types.CollectionJournals:
		var v *types.Journal
		if v, ok = rec.(*types.Journal); ok {
			d.Journals = upsert(d.Journals, v)
		}
	case types.CollectionAttendance:
		var v *types.AttendanceRecord
		if v, ok = rec.(*types.AttendanceRecord); ok {
			d.Attendance = upsert(d.Attendance, v)
		}
	case types.CollectionSettings:
		var v *types.Settings
		if v, ok = rec.(*types.Settings); ok {
			v.ID = types.SettingsID
			d.Settings = v
		}
	default:
		return apperrors.Newf(apperrors.ErrValidation, "unknown collection %q", c)
	}
	if !ok {
		return apperrors.New(apperrors.ErrValidation, fmt.Sprintf("record of type %T does not belong in %s", rec, c))
	}
	return nil
}

func (s *State) delete(c types.Collection, id string) error {
	d := s.data
	var found bool
	switch c {
	case types.CollectionUsers:
		d.Users, found = remove(d.Users, id)
	case types.CollectionClasses:
		d.Classes, found = remove(d.Classes, id)
	case types.CollectionStudents:
		d.Students, found = remove(d.Students, id)
	case types.CollectionJournals:
		d.Journals, found = remove(d.Journals, id)
	case types.CollectionAttendance:
		d.Attendance, found = remove(d.Attendance, id)
	case types.CollectionSettings:
		return apperrors.New(apperrors.ErrValidation, "settings cannot be deleted")
	default:
		return apperrors.Newf(apperrors.ErrValidation, "unknown collection %q", c)
	}
	if !found {
		return apperrors.Newf(apperrors.ErrNotFound, "%s %s not found", c, id)
	}
	return nil
}

// Replace swaps the whole dataset
func (s *State) Replace(d *types.Dataset) {
	next := d.Clone()
	if next.Settings == nil {
		next.Settings = types.DefaultSettings()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = next
}

// Snapshot returns a deep copy of the dataset
func (s *State) Snapshot() *types.Dataset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Clone()
}

// Get returns a copy of one record
func (s *State) Get(c types.Collection, id string) (types.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.data.Records(c) {
		if rec.RecordID() == id {
			return types.CloneRecord(rec), true
		}
	}
	return nil, false
}

// Has reports whether a record with id exists in c
func (s *State) Has(c types.Collection, id string) bool {
	_, ok := s.Get(c, id)
	return ok
}

// Counts returns the number of records per collection
func (s *State) Counts() map[types.Collection]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[types.Collection]int, len(types.Collections))
	for _, c := range types.Collections {
		counts[c] = s.data.Len(c)
	}
	return counts
}

// View calls fn with the live dataset under the read lock. fn must not
// modify or retain it.
func (s *State) View(fn func(d *types.Dataset)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.data)
}

func upsert[T any, P interface {
	*T
	types.Record
}](list []P, rec P) []P {
	for i, existing := range list {
		if existing.RecordID() == rec.RecordID() {
			list[i] = rec
			return list
		}
	}
	return append(list, rec)
}

func remove[T any, P interface {
	*T
	types.Record
}](list []P, id string) ([]P, bool) {
	for i, existing := range list {
		if existing.RecordID() == id {
			return append(list[:i:i], list[i+1:]...), true
		}
	}
	return list, false
}
