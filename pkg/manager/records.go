package manager

import (
	apperrors "github.com/cuemby/burrow/pkg/errors"
	"github.com/cuemby/burrow/pkg/types"
)

// CreateUser adds a new user. It fails with errors.ErrValidation when the
// id or the username is already taken.
func (m *Manager) CreateUser(u *types.User) error {
	if u == nil || u.Username == "" {
		return apperrors.New(apperrors.ErrValidation, "username is required")
	}

	m.mu.Lock()
	err := func() error {
		if err := assignID(types.CollectionUsers, u); err != nil {
			return err
		}
		if m.state.Has(types.CollectionUsers, u.ID) {
			return apperrors.Newf(apperrors.ErrValidation, "user %s already exists", u.ID)
		}
		if _, taken := m.findUser(u.Username); taken {
			return apperrors.Newf(apperrors.ErrValidation, "username %s already exists", u.Username)
		}
		return m.write(types.ActionCreate, types.CollectionUsers, u)
	}()
	m.mu.Unlock()
	if err != nil {
		return err
	}

	m.triggerDrain()
	return nil
}

// AddUser creates or updates a user
func (m *Manager) AddUser(u *types.User) error {
	_, err := m.Apply(types.CollectionUsers, u)
	return err
}

// DeleteUser removes a user
func (m *Manager) DeleteUser(id string) error {
	return m.Remove(types.CollectionUsers, id)
}

// AddClass creates or updates a class
func (m *Manager) AddClass(c *types.Class) error {
	_, err := m.Apply(types.CollectionClasses, c)
	return err
}

// DeleteClass removes a class
func (m *Manager) DeleteClass(id string) error {
	return m.Remove(types.CollectionClasses, id)
}

// AddStudent creates or updates a student and refreshes the student count
// of the classes it left and joined
func (m *Manager) AddStudent(s *types.Student) error {
	_, err := m.Apply(types.CollectionStudents, s)
	return err
}

// DeleteStudent removes a student and refreshes its class count
func (m *Manager) DeleteStudent(id string) error {
	return m.Remove(types.CollectionStudents, id)
}

// AddJournal creates or updates a journal entry
func (m *Manager) AddJournal(j *types.Journal) error {
	_, err := m.Apply(types.CollectionJournals, j)
	return err
}

// DeleteJournal removes a journal entry
func (m *Manager) DeleteJournal(id string) error {
	return m.Remove(types.CollectionJournals, id)
}

// AddAttendance creates or updates an attendance sheet
func (m *Manager) AddAttendance(a *types.AttendanceRecord) error {
	_, err := m.Apply(types.CollectionAttendance, a)
	return err
}

// DeleteAttendance removes an attendance sheet
func (m *Manager) DeleteAttendance(id string) error {
	return m.Remove(types.CollectionAttendance, id)
}

// SaveSettings replaces the settings singleton. It is always queued as an
// UPDATE.
func (m *Manager) SaveSettings(s *types.Settings) error {
	_, err := m.Apply(types.CollectionSettings, s)
	return err
}

// Dataset returns a deep copy of every collection
func (m *Manager) Dataset() *types.Dataset {
	return m.state.Snapshot()
}

// Users returns a copy of all users
func (m *Manager) Users() []*types.User { return m.state.Snapshot().Users }

// Classes returns a copy of all classes
func (m *Manager) Classes() []*types.Class { return m.state.Snapshot().Classes }

// Students returns a copy of all students
func (m *Manager) Students() []*types.Student { return m.state.Snapshot().Students }

// Journals returns a copy of all journal entries
func (m *Manager) Journals() []*types.Journal { return m.state.Snapshot().Journals }

// Attendance returns a copy of all attendance sheets
func (m *Manager) Attendance() []*types.AttendanceRecord { return m.state.Snapshot().Attendance }

// Settings returns a copy of the settings singleton
func (m *Manager) Settings() *types.Settings { return m.state.Snapshot().Settings }

// Get returns a copy of one record
func (m *Manager) Get(c types.Collection, id string) (types.Record, error) {
	rec, ok := m.state.Get(c, id)
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "%s %s not found", c, id)
	}
	return rec, nil
}

// FindUserByUsername returns a copy of the user with the given username
func (m *Manager) FindUserByUsername(username string) (*types.User, bool) {
	return m.findUser(username)
}

func (m *Manager) findUser(username string) (*types.User, bool) {
	var found *types.User
	m.state.View(func(d *types.Dataset) {
		for _, u := range d.Users {
			if u.Username == username {
				c := *u
				found = &c
				return
			}
		}
	})
	return found, found != nil
}

// PendingMutations returns the queued mutations in push order
func (m *Manager) PendingMutations() ([]*types.QueuedMutation, error) {
	return m.store.PeekAll()
}
