package manager

import (
	"github.com/cuemby/burrow/pkg/types"
)

// Counts returns the number of records held in memory per collection
func (m *Manager) Counts() map[types.Collection]int {
	return m.state.Counts()
}

// QueueLen returns the number of mutations waiting to be pushed
func (m *Manager) QueueLen() (int, error) {
	return m.store.Len()
}
