package manager

import (
	"fmt"
	"reflect"
	"sync"

	apperrors "github.com/cuemby/burrow/pkg/errors"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/state"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
)

// Drainer starts pushing queued mutations in the background
type Drainer interface {
	TriggerDrain()
}

// Config holds configuration for creating a Manager
type Config struct {
	Store  storage.Backend
	Broker *events.Broker // optional
}

// Manager is the single writer of local data. Every change is committed to
// the store together with its queue entry, then applied to memory.
type Manager struct {
	// mu serialises writers so calls are applied in call order and memory
	// matches the store when a call returns
	mu sync.Mutex

	store   storage.Backend
	state   *state.State
	broker  *events.Broker
	drainer Drainer
	logger  zerolog.Logger
}

// NewManager creates a Manager with an empty in-memory dataset. Call Load
// or Replace before serving reads.
func NewManager(cfg *Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("manager requires a store")
	}
	return &Manager{
		store:  cfg.Store,
		state:  state.New(nil),
		broker: cfg.Broker,
		logger: log.WithComponent("manager"),
	}, nil
}

// SetDrainer sets the component notified after every enqueue
func (m *Manager) SetDrainer(d Drainer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drainer = d
}

// Load replaces the in-memory dataset with the store contents
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, err := storage.LoadDataset(m.store)
	if err != nil {
		return err
	}
	m.state.Replace(d)
	return nil
}

// LoadOrSeed loads the store into memory. A store without users is first
// overwritten with seed. It reports whether the seed was written.
func (m *Manager) LoadOrSeed(seed *types.Dataset) (bool, error) {
	n, err := m.store.Count(types.CollectionUsers)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, m.Load()
	}
	return true, m.Replace(seed)
}

// Replace overwrites the store and then memory with d. Memory is left
// untouched when the store write fails.
func (m *Manager) Replace(d *types.Dataset) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.ReplaceDataset(d); err != nil {
		return err
	}
	m.state.Replace(d)
	return nil
}

// Apply creates or updates a record. An empty id is filled in before the
// write and is visible on rec afterwards.
func (m *Manager) Apply(c types.Collection, rec types.Record) (types.Action, error) {
	if !c.Valid() {
		return "", apperrors.Newf(apperrors.ErrValidation, "unknown collection %q", c)
	}
	if rec == nil {
		return "", apperrors.Newf(apperrors.ErrValidation, "%s record is nil", c)
	}

	m.mu.Lock()
	action, err := m.applyLocked(c, rec)
	m.mu.Unlock()
	if err != nil {
		return "", err
	}

	m.triggerDrain()
	return action, nil
}

func (m *Manager) applyLocked(c types.Collection, rec types.Record) (types.Action, error) {
	if err := assignID(c, rec); err != nil {
		return "", err
	}

	prev, existed := m.state.Get(c, rec.RecordID())
	action := types.ActionCreate
	if existed || c == types.CollectionSettings {
		action = types.ActionUpdate
	}

	if err := m.write(action, c, rec); err != nil {
		return "", err
	}

	if c == types.CollectionStudents {
		classes := []string{rec.(*types.Student).Class}
		if existed {
			classes = append(classes, prev.(*types.Student).Class)
		}
		if err := m.refreshClassCounts(classes...); err != nil {
			return action, err
		}
	}
	return action, nil
}

// Remove deletes a record. Deleting an absent record returns
// errors.ErrNotFound and queues nothing.
func (m *Manager) Remove(c types.Collection, id string) error {
	if !c.Valid() {
		return apperrors.Newf(apperrors.ErrValidation, "unknown collection %q", c)
	}
	if c == types.CollectionSettings {
		return apperrors.New(apperrors.ErrValidation, "settings cannot be deleted")
	}

	m.mu.Lock()
	err := m.removeLocked(c, id)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	m.triggerDrain()
	return nil
}

func (m *Manager) removeLocked(c types.Collection, id string) error {
	prev, ok := m.state.Get(c, id)
	if !ok {
		return apperrors.Newf(apperrors.ErrNotFound, "%s %s not found", c, id)
	}

	entry, err := types.NewDeleteEntry(c, id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "encode delete", err)
	}
	key, err := m.store.DeleteAndEnqueue(c, id, entry)
	if err != nil {
		return m.writeFailed(entry, err)
	}
	if err := m.state.Apply(state.Delete(c, id)); err != nil {
		return err
	}
	m.queued(key, entry)

	if student, ok := prev.(*types.Student); ok {
		return m.refreshClassCounts(student.Class)
	}
	return nil
}

// write commits rec with its queue entry, then applies it to memory.
// Memory is untouched when the commit fails.
func (m *Manager) write(action types.Action, c types.Collection, rec types.Record) error {
	entry, err := types.NewMutationEntry(action, c, rec)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "encode record", err)
	}

	key, err := m.store.PutAndEnqueue(c, rec, entry)
	if err != nil {
		return m.writeFailed(entry, err)
	}
	if err := m.state.Apply(state.Upsert(c, rec)); err != nil {
		return err
	}
	m.queued(key, entry)
	return nil
}

func (m *Manager) writeFailed(entry *types.MutationEntry, err error) error {
	m.logger.Error().Err(err).
		Str("action", string(entry.Action)).
		Str("collection", string(entry.Collection)).
		Str("record_id", entry.RecordID()).
		Msg("Failed to commit mutation")
	return err
}

// queued records a committed entry and notifies subscribers
func (m *Manager) queued(key uint64, entry *types.MutationEntry) {
	metrics.MutationsTotal.WithLabelValues(string(entry.Collection), string(entry.Action)).Inc()
	m.logger.Debug().
		Uint64("key", key).
		Str("action", string(entry.Action)).
		Str("collection", string(entry.Collection)).
		Str("record_id", entry.RecordID()).
		Msg("Mutation queued")

	m.publish(entry)
}

// refreshClassCounts recomputes studentCount for the named classes and
// writes back the ones that changed
func (m *Manager) refreshClassCounts(names ...string) error {
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		var changed []*types.Class
		m.state.View(func(d *types.Dataset) {
			n := 0
			for _, s := range d.Students {
				if s.Class == name {
					n++
				}
			}
			for _, cls := range d.Classes {
				if cls.Name == name && cls.StudentCount != n {
					c := *cls
					c.StudentCount = n
					changed = append(changed, &c)
				}
			}
		})

		for _, cls := range changed {
			if err := m.write(types.ActionUpdate, types.CollectionClasses, cls); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Manager) publish(entry *types.MutationEntry) {
	if m.broker == nil {
		return
	}
	eventType := events.EventRecordUpdated
	switch entry.Action {
	case types.ActionCreate:
		eventType = events.EventRecordCreated
	case types.ActionDelete:
		eventType = events.EventRecordDeleted
	}
	m.broker.Publish(&events.Event{
		Type:    eventType,
		Message: fmt.Sprintf("%s %s", entry.Collection, entry.RecordID()),
		Metadata: map[string]string{
			"collection": string(entry.Collection),
			"id":         entry.RecordID(),
		},
	})
}

func (m *Manager) triggerDrain() {
	m.mu.Lock()
	d := m.drainer
	m.mu.Unlock()
	if d != nil {
		d.TriggerDrain()
	}
}

// assignID fills in the identifier of a record that has none
func assignID(c types.Collection, rec types.Record) error {
	if err := checkType(c, rec); err != nil {
		return err
	}
	if s, ok := rec.(*types.Settings); ok {
		s.ID = types.SettingsID
		return nil
	}
	if rec.RecordID() != "" {
		return nil
	}
	switch r := rec.(type) {
	case *types.User:
		r.ID = r.Username
		if r.ID == "" {
			r.ID = types.NewID()
		}
	case *types.Class:
		r.ID = types.NewID()
	case *types.Student:
		r.ID = types.NewID()
	case *types.Journal:
		r.ID = types.NewID()
	case *types.AttendanceRecord:
		if r.Date != "" && r.Class != "" {
			r.ID = types.AttendanceID(r.Date, r.Class)
		} else {
			r.ID = types.NewID()
		}
	}
	return nil
}

// checkType rejects a record whose Go type does not match the collection
func checkType(c types.Collection, rec types.Record) error {
	want, err := types.NewRecord(c)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "unknown collection", err)
	}
	if reflect.TypeOf(want) != reflect.TypeOf(rec) {
		return apperrors.Newf(apperrors.ErrValidation, "record of type %T does not belong in %s", rec, c)
	}
	return nil
}
