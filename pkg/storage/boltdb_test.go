package storage

import (
	"encoding/json"
	"sync"
	"testing"

	apperrors "github.com/cuemby/burrow/pkg/errors"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGetDelete(t *testing.T) {
	s := newTestStore(t)

	student := &types.Student{ID: "s1", NISN: "001", Name: "Ani", Class: "7A", Gender: types.GenderFemale}
	require.NoError(t, s.Put(types.CollectionStudents, student))

	raw, err := s.Get(types.CollectionStudents, "s1")
	require.NoError(t, err)
	var got types.Student
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, *student, got)

	// Upsert by id
	student.Class = "7B"
	require.NoError(t, s.Put(types.CollectionStudents, student))
	n, err := s.Count(types.CollectionStudents)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.Delete(types.CollectionStudents, "s1"))
	_, err = s.Get(types.CollectionStudents, "s1")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestPutRejectsInvalidInput(t *testing.T) {
	s := newTestStore(t)

	err := s.Put(types.CollectionStudents, &types.Student{Name: "no id"})
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	err = s.Put(types.Collection("grades"), &types.Student{ID: "x"})
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}

func TestReplaceAllCollapsesDuplicates(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Put(types.CollectionClasses, &types.Class{ID: "old", Name: "6A"}))

	err := s.ReplaceAll(types.CollectionClasses, []types.Record{
		&types.Class{ID: "c1", Name: "7A"},
		&types.Class{ID: "c2", Name: "7B"},
		&types.Class{ID: "c1", Name: "7A-renamed"},
	})
	require.NoError(t, err)

	classes, err := List[types.Class](s, types.CollectionClasses)
	require.NoError(t, err)
	require.Len(t, classes, 2)
	assert.Equal(t, "7A-renamed", classes[0].Name)
	assert.Equal(t, "7B", classes[1].Name)
}

func TestReplaceDatasetIsAllOrNothing(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.ReplaceDataset(types.SeedDataset()))

	broken := types.SeedDataset()
	broken.Journals = []*types.Journal{{ID: ""}}
	broken.Users = nil

	err := s.ReplaceDataset(broken)
	assert.True(t, apperrors.Is(err, apperrors.ErrStorage))

	// users were replaced before journals failed, but the transaction rolled back
	n, err := s.Count(types.CollectionUsers)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestLoadDataset(t *testing.T) {
	s := newTestStore(t)

	d, err := LoadDataset(s)
	require.NoError(t, err)
	assert.Empty(t, d.Users)
	assert.Equal(t, types.DefaultSettings(), d.Settings)

	seed := types.SeedDataset()
	seed.Settings.KepalaSekolah = "Ibu Sari"
	seed.Attendance = []*types.AttendanceRecord{{
		ID:       types.AttendanceID("2024-08-01", "7A"),
		Date:     "2024-08-01",
		Class:    "7A",
		Students: []types.StudentAttendance{{NISN: "001", Name: "Ani", Status: types.StatusHadir}},
	}}
	require.NoError(t, s.ReplaceDataset(seed))

	d, err = LoadDataset(s)
	require.NoError(t, err)
	assert.Len(t, d.Users, 2)
	assert.Equal(t, "Ibu Sari", d.Settings.KepalaSekolah)
	require.Len(t, d.Attendance, 1)
	assert.Equal(t, seed.Attendance[0].Students, d.Attendance[0].Students)
}

func TestQueuePreservesOrder(t *testing.T) {
	s := newTestStore(t)

	var keys []uint64
	for i, name := range []string{"a", "b", "c"} {
		entry, err := types.NewMutationEntry(types.ActionCreate, types.CollectionStudents, &types.Student{ID: name})
		require.NoError(t, err)
		key, err := s.Enqueue(entry)
		require.NoError(t, err)
		if i > 0 {
			assert.Greater(t, key, keys[i-1])
		}
		keys = append(keys, key)
	}

	require.NoError(t, s.Remove(keys[1]))

	items, err := s.PeekAll()
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, keys[0], items[0].Key)
	assert.Equal(t, "a", items[0].Entry.RecordID())
	assert.Equal(t, keys[2], items[1].Key)
	assert.Equal(t, "c", items[1].Entry.RecordID())

	// Keys are never reused
	entry, err := types.NewDeleteEntry(types.CollectionStudents, "d")
	require.NoError(t, err)
	key, err := s.Enqueue(entry)
	require.NoError(t, err)
	assert.Greater(t, key, keys[2])

	n, err := s.Len()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestPutAndDeleteAndEnqueueAreAtomic(t *testing.T) {
	s := newTestStore(t)

	student := &types.Student{ID: "s1", Name: "Ani"}
	entry, err := types.NewMutationEntry(types.ActionCreate, types.CollectionStudents, student)
	require.NoError(t, err)
	key, err := s.PutAndEnqueue(types.CollectionStudents, student, entry)
	require.NoError(t, err)
	assert.NotZero(t, key)

	// An entry that cannot be encoded fails after the record write, inside
	// the same transaction
	broken := &types.MutationEntry{Action: types.ActionUpdate, Collection: types.CollectionStudents, Data: json.RawMessage("{bad")}

	_, err = s.PutAndEnqueue(types.CollectionStudents, &types.Student{ID: "s2", Name: "Budi"}, broken)
	assert.True(t, apperrors.Is(err, apperrors.ErrStorage), "got %v", err)
	_, err = s.Get(types.CollectionStudents, "s2")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	_, err = s.DeleteAndEnqueue(types.CollectionStudents, "s1", broken)
	assert.True(t, apperrors.Is(err, apperrors.ErrStorage), "got %v", err)
	_, err = s.Get(types.CollectionStudents, "s1")
	assert.NoError(t, err, "record survives the failed delete")

	items, err := s.PeekAll()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, key, items[0].Key)

	del, err := types.NewDeleteEntry(types.CollectionStudents, "s1")
	require.NoError(t, err)
	_, err = s.DeleteAndEnqueue(types.CollectionStudents, "s1", del)
	require.NoError(t, err)
	_, err = s.Get(types.CollectionStudents, "s1")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
	n, err := s.Len()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestQueueOrderAcrossManyEntries(t *testing.T) {
	s := newTestStore(t)

	// More than 255 entries exercises multi-byte keys
	for i := 0; i < 300; i++ {
		entry, err := types.NewDeleteEntry(types.CollectionJournals, types.NewID())
		require.NoError(t, err)
		_, err = s.Enqueue(entry)
		require.NoError(t, err)
	}

	items, err := s.PeekAll()
	require.NoError(t, err)
	require.Len(t, items, 300)
	for i := 1; i < len(items); i++ {
		assert.Greater(t, items[i].Key, items[i-1].Key)
	}
}

func TestQueueSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := NewBoltStore(dir)
	require.NoError(t, err)

	entry, err := types.NewMutationEntry(types.ActionUpdate, types.CollectionSettings, types.DefaultSettings())
	require.NoError(t, err)
	_, err = s.Enqueue(entry)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewBoltStore(dir)
	require.NoError(t, err)
	defer s.Close()

	items, err := s.PeekAll()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, types.ActionUpdate, items[0].Entry.Action)
	assert.Equal(t, types.CollectionSettings, items[0].Entry.Collection)
}

func TestConcurrentEnqueue(t *testing.T) {
	s := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry, err := types.NewDeleteEntry(types.CollectionUsers, types.NewID())
			if assert.NoError(t, err) {
				_, err = s.Enqueue(entry)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	n, err := s.Len()
	require.NoError(t, err)
	assert.Equal(t, 20, n)
}

func TestClosedStoreReturnsStorageError(t *testing.T) {
	s, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.GetAll(types.CollectionUsers)
	assert.True(t, apperrors.Is(err, apperrors.ErrStorage))

	err = s.Put(types.CollectionUsers, &types.User{ID: "u"})
	assert.True(t, apperrors.Is(err, apperrors.ErrStorage))

	_, err = s.PeekAll()
	assert.True(t, apperrors.Is(err, apperrors.ErrStorage))
}
