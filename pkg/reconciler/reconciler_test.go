package reconciler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	apperrors "github.com/cuemby/burrow/pkg/errors"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/manager"
	"github.com/cuemby/burrow/pkg/remote"
	"github.com/cuemby/burrow/pkg/remote/remotetest"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	srv   *remotetest.Server
	store *storage.BoltStore
	mgr   *manager.Manager
	rec   *Reconciler
}

func newHarness(t *testing.T, interval time.Duration) *harness {
	t.Helper()
	srv := remotetest.NewServer(t)

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	mgr, err := manager.NewManager(&manager.Config{Store: store})
	require.NoError(t, err)

	rec, err := NewReconciler(&Config{
		Manager:  mgr,
		Queue:    store,
		Remote:   srv.Adapter(),
		Interval: interval,
	})
	require.NoError(t, err)
	t.Cleanup(rec.Stop)

	return &harness{srv: srv, store: store, mgr: mgr, rec: rec}
}

func (h *harness) queueLen(t *testing.T) int {
	t.Helper()
	n, err := h.store.Len()
	require.NoError(t, err)
	return n
}

func pushedIDs(pushes []remote.PushRequest) []string {
	ids := make([]string, 0, len(pushes))
	for _, p := range pushes {
		ids = append(ids, idOf(p))
	}
	return ids
}

func idOf(req remote.PushRequest) string {
	var ref types.DeleteRef
	_ = json.Unmarshal(req.Data, &ref)
	return ref.ID
}

func TestNewReconcilerRequiresDependencies(t *testing.T) {
	_, err := NewReconciler(&Config{})
	assert.Error(t, err)
}

func TestBootstrapSeedsEmptyStore(t *testing.T) {
	h := newHarness(t, 0)
	h.srv.SetOffline(true)

	require.NoError(t, h.rec.Bootstrap(context.Background()))

	users := h.mgr.Users()
	require.Len(t, users, 2)
	assert.Equal(t, "admin", users[0].Username)
	assert.Equal(t, "Budi Santoso", users[1].FullName)
	assert.Equal(t, types.DefaultSettings(), h.mgr.Settings())

	n, err := h.store.Count(types.CollectionUsers)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Zero(t, h.queueLen(t), "seeding queues nothing")
}

func TestBootstrapLoadsExistingStore(t *testing.T) {
	h := newHarness(t, 0)
	h.srv.SetOffline(true)

	existing := types.NewDataset()
	existing.Users = []*types.User{{ID: "sari", Username: "sari", Role: types.RoleGuru}}
	existing.Students = []*types.Student{{ID: "s1", Name: "Ani"}}
	require.NoError(t, h.store.ReplaceDataset(existing))

	require.NoError(t, h.rec.Bootstrap(context.Background()))

	users := h.mgr.Users()
	require.Len(t, users, 1)
	assert.Equal(t, "sari", users[0].ID)
	assert.Len(t, h.mgr.Students(), 1)
}

func TestBootstrapPullsRemote(t *testing.T) {
	h := newHarness(t, 0)
	h.srv.Seed(types.CollectionUsers, &types.User{ID: "admin", Username: "admin", FullName: "Kepala TU", Role: types.RoleAdmin})
	h.srv.Seed(types.CollectionSettings, &types.Settings{ID: types.SettingsID, Semester: "Genap", TahunAjaran: "2025/2026"})

	require.NoError(t, h.rec.Bootstrap(context.Background()))

	users := h.mgr.Users()
	require.Len(t, users, 1)
	assert.Equal(t, "Kepala TU", users[0].FullName)
	assert.Equal(t, "Genap", h.mgr.Settings().Semester)
}

func TestDrainPreservesOrder(t *testing.T) {
	h := newHarness(t, 0)
	require.NoError(t, h.mgr.Replace(types.SeedDataset()))

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, h.mgr.AddJournal(&types.Journal{ID: id}))
	}

	pushed, remaining, err := h.rec.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, pushed)
	assert.Zero(t, remaining)
	assert.Equal(t, []string{"a", "b", "c"}, pushedIDs(h.srv.Pushes()))
	assert.Zero(t, h.queueLen(t))

	// Empty queue drains to nothing
	pushed, remaining, err = h.rec.Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, pushed)
	assert.Zero(t, remaining)
}

func TestDrainStopsAtFirstFailure(t *testing.T) {
	h := newHarness(t, 0)
	require.NoError(t, h.mgr.Replace(types.SeedDataset()))
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, h.mgr.AddJournal(&types.Journal{ID: id}))
	}

	h.srv.SetPushHook(func(req remote.PushRequest) *remote.PushResponse {
		if idOf(req) == "b" {
			return &remote.PushResponse{Status: remote.StatusError, Message: "quota exceeded"}
		}
		return nil
	})

	pushed, remaining, err := h.rec.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, pushed)
	assert.Equal(t, 2, remaining)
	assert.Equal(t, []string{"a", "b"}, pushedIDs(h.srv.Pushes()), "c is never pushed ahead of b")

	items, err := h.store.PeekAll()
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "b", items[0].Entry.RecordID())
	assert.Equal(t, "c", items[1].Entry.RecordID())

	h.srv.SetPushHook(nil)
	pushed, remaining, err = h.rec.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, pushed)
	assert.Zero(t, remaining)
	assert.Equal(t, []string{"a", "b", "b", "c"}, pushedIDs(h.srv.Pushes()))
}

func TestDrainRepairsMissingRecords(t *testing.T) {
	h := newHarness(t, 0)
	local := types.SeedDataset()
	local.Classes = []*types.Class{{ID: "c1", Name: "7A"}}
	local.Journals = []*types.Journal{{ID: "j1"}}
	require.NoError(t, h.mgr.Replace(local))

	// The remote has never seen c1 or j1
	require.NoError(t, h.mgr.AddClass(&types.Class{ID: "c1", Name: "7A Unggulan"}))
	require.NoError(t, h.mgr.DeleteJournal("j1"))

	pushed, remaining, err := h.rec.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, pushed)
	assert.Zero(t, remaining)

	pushes := h.srv.Pushes()
	require.Len(t, pushes, 3)
	assert.Equal(t, types.ActionUpdate, pushes[0].Action)
	assert.Equal(t, types.ActionCreate, pushes[1].Action)
	assert.Equal(t, "c1", idOf(pushes[1]))
	assert.Equal(t, types.ActionDelete, pushes[2].Action)

	require.Len(t, h.srv.Records(types.CollectionClasses), 1)
}

func TestDrainKeepsEntryWhenRepairFails(t *testing.T) {
	h := newHarness(t, 0)
	local := types.SeedDataset()
	local.Classes = []*types.Class{{ID: "c1", Name: "7A"}}
	require.NoError(t, h.mgr.Replace(local))
	require.NoError(t, h.mgr.AddClass(&types.Class{ID: "c1", Name: "7B"}))

	h.srv.SetPushHook(func(req remote.PushRequest) *remote.PushResponse {
		if req.Action == types.ActionCreate {
			return &remote.PushResponse{Status: remote.StatusError, Message: "sheet locked"}
		}
		return nil
	})

	for attempt := 1; attempt <= 2; attempt++ {
		_, remaining, err := h.rec.Drain(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, remaining)
		assert.Len(t, h.srv.Pushes(), attempt*2, "one update and one create per attempt")
	}
}

func TestSyncDedupIsIdempotent(t *testing.T) {
	h := newHarness(t, 0)
	h.srv.Seed(types.CollectionStudents,
		&types.Student{ID: "s1", Name: "Ani", Class: "7A"},
		&types.Student{ID: "s2", Name: "Budi", Class: "7A"},
		&types.Student{ID: "s1", Name: "Ani", Class: "7B"},
	)
	h.srv.Seed(types.CollectionClasses,
		&types.Class{ID: "c1", Name: "7A"},
		&types.Class{ID: "c3", Name: "7B"},
		&types.Class{ID: "c2", Name: "7A", StudentCount: 1},
	)

	ctx := context.Background()
	_, err := h.rec.Sync(ctx)
	require.NoError(t, err)
	first := h.mgr.Dataset()

	require.Len(t, first.Students, 2)
	assert.Equal(t, "s1", first.Students[0].ID)
	assert.Equal(t, "7B", first.Students[0].Class)
	assert.Equal(t, "s2", first.Students[1].ID)

	require.Len(t, first.Classes, 2)
	assert.Equal(t, "c2", first.Classes[0].ID, "first 7A slot holds the last 7A")
	assert.Equal(t, "c3", first.Classes[1].ID)

	result, err := h.rec.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, h.mgr.Dataset())
	assert.Equal(t, 2, result.Pulled[types.CollectionStudents])
	assert.Equal(t, 2, result.Pulled[types.CollectionClasses])

	// The store matches memory
	stored, err := storage.List[types.Student](h.store, types.CollectionStudents)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestOfflineCreateThenUpdate(t *testing.T) {
	h := newHarness(t, 0)
	require.NoError(t, h.mgr.Replace(types.SeedDataset()))
	h.srv.SetOffline(true)

	ani := &types.Student{NISN: "001", Name: "Ani", Class: "7A"}
	require.NoError(t, h.mgr.AddStudent(ani))
	ani.Name = "Ani Lestari"
	require.NoError(t, h.mgr.AddStudent(ani))

	items, err := h.store.PeekAll()
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, types.ActionCreate, items[0].Entry.Action)
	assert.Equal(t, types.ActionUpdate, items[1].Entry.Action)

	_, err = h.rec.Sync(context.Background())
	assert.True(t, apperrors.Is(err, apperrors.ErrSyncFailed))
	assert.Equal(t, 2, h.queueLen(t))

	h.srv.SetOffline(false)
	result, err := h.rec.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Pushed)
	assert.Zero(t, result.Remaining)

	rows := h.srv.Records(types.CollectionStudents)
	require.Len(t, rows, 1)
	var remoteAni types.Student
	require.NoError(t, json.Unmarshal(rows[0], &remoteAni))
	assert.Equal(t, "Ani Lestari", remoteAni.Name)

	students := h.mgr.Students()
	require.Len(t, students, 1)
	assert.Equal(t, ani.ID, students[0].ID)
	assert.Equal(t, "Ani Lestari", students[0].Name)
}

func TestLastWriteWins(t *testing.T) {
	h := newHarness(t, 0)
	h.srv.Seed(types.CollectionSettings, types.DefaultSettings())
	_, err := h.rec.Sync(context.Background())
	require.NoError(t, err)

	h.srv.SetOffline(true)
	require.NoError(t, h.mgr.SaveSettings(&types.Settings{Semester: "Genap", TahunAjaran: "2024/2025"}))
	require.NoError(t, h.mgr.SaveSettings(&types.Settings{Semester: "Genap", TahunAjaran: "2024/2025", KepalaSekolah: "Ibu Sari"}))
	h.srv.SetOffline(false)

	_, err = h.rec.Sync(context.Background())
	require.NoError(t, err)

	rows := h.srv.Records(types.CollectionSettings)
	require.Len(t, rows, 1)
	var remoteSettings types.Settings
	require.NoError(t, json.Unmarshal(rows[0], &remoteSettings))
	assert.Equal(t, "Ibu Sari", remoteSettings.KepalaSekolah)
	assert.Equal(t, "Ibu Sari", h.mgr.Settings().KepalaSekolah)
}

func TestAttendanceSurvivesSync(t *testing.T) {
	h := newHarness(t, 0)
	require.NoError(t, h.mgr.Replace(types.SeedDataset()))

	students := []types.StudentAttendance{
		{NISN: "001", Name: "Ani", Status: types.StatusHadir},
		{NISN: "002", Name: "Budi", Status: types.StatusIzin},
		{NISN: "003", Name: "Citra", Status: types.StatusTanpaKet},
	}
	require.NoError(t, h.mgr.AddAttendance(&types.AttendanceRecord{
		Date: "2024-08-01", Class: "7A", Teacher: "guru", Students: students,
	}))

	_, err := h.rec.Sync(context.Background())
	require.NoError(t, err)

	got := h.mgr.Attendance()
	require.Len(t, got, 1)
	assert.Equal(t, "2024-08-01_7A", got[0].ID)
	assert.Equal(t, students, got[0].Students)
}

func TestFailedSyncLeavesStateUntouched(t *testing.T) {
	tests := []struct {
		name        string
		breakRemote func(h *harness)
	}{
		{
			name:        "remote offline",
			breakRemote: func(h *harness) { h.srv.SetOffline(true) },
		},
		{
			name: "malformed snapshot",
			breakRemote: func(h *harness) {
				h.srv.Seed(types.CollectionStudents, map[string]any{"id": map[string]any{"n": 5}, "name": "object id"})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 0)
			local := types.SeedDataset()
			local.Students = []*types.Student{{ID: "s1", Name: "Ani"}}
			require.NoError(t, h.mgr.Replace(local))
			before := h.mgr.Dataset()

			tt.breakRemote(h)
			result, err := h.rec.Sync(context.Background())
			assert.True(t, apperrors.Is(err, apperrors.ErrSyncFailed), "got %v", err)
			require.NotNil(t, result)

			assert.Equal(t, before, h.mgr.Dataset())
			loaded, err := storage.LoadDataset(h.store)
			require.NoError(t, err)
			assert.Len(t, loaded.Students, 1)
		})
	}
}

func TestSingleFlightDrain(t *testing.T) {
	h := newHarness(t, 0)
	require.NoError(t, h.mgr.Replace(types.SeedDataset()))
	h.rec.Start()

	entered, release := h.srv.HoldPushes()
	defer release()

	require.NoError(t, h.mgr.AddJournal(&types.Journal{ID: "j1"}))
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("drain never reached the remote")
	}

	// Triggers and writes while the first push is held
	for i := 0; i < 10; i++ {
		h.rec.TriggerDrain()
	}
	require.NoError(t, h.mgr.AddJournal(&types.Journal{ID: "j2"}))
	require.NoError(t, h.mgr.AddJournal(&types.Journal{ID: "j3"}))

	syncDone := make(chan error, 1)
	go func() {
		_, err := h.rec.Sync(context.Background())
		syncDone <- err
	}()

	release()
	select {
	case err := <-syncDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("sync did not finish")
	}

	assert.Eventually(t, func() bool { return h.queueLen(t) == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"j1", "j2", "j3"}, pushedIDs(h.srv.Pushes()), "every entry pushed exactly once")
	assert.Len(t, h.mgr.Journals(), 3)
}

func TestSyncCallerDeadlineDoesNotCancelSharedCycle(t *testing.T) {
	h := newHarness(t, 0)
	require.NoError(t, h.mgr.Replace(types.SeedDataset()))
	require.NoError(t, h.mgr.AddJournal(&types.Journal{ID: "j1"}))

	entered, release := h.srv.HoldPushes()
	defer release()

	short, cancel := context.WithCancel(context.Background())
	firstDone := make(chan error, 1)
	go func() {
		_, err := h.rec.Sync(short)
		firstDone <- err
	}()
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("sync never reached the remote")
	}

	secondDone := make(chan error, 1)
	go func() {
		_, err := h.rec.Sync(context.Background())
		secondDone <- err
	}()

	cancel()
	select {
	case err := <-firstDone:
		assert.True(t, apperrors.Is(err, apperrors.ErrSyncFailed), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	release()
	select {
	case err := <-secondDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("shared sync did not finish")
	}
	assert.Equal(t, 0, h.queueLen(t))
	assert.Equal(t, []string{"j1"}, pushedIDs(h.srv.Pushes()))
}

func TestPeriodicSync(t *testing.T) {
	h := newHarness(t, 20*time.Millisecond)
	h.rec.Start()
	h.rec.Start()

	assert.Eventually(t, func() bool { return h.srv.Pulls() >= 2 }, 2*time.Second, 10*time.Millisecond)

	h.rec.Stop()
	pulls := h.srv.Pulls()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, pulls, h.srv.Pulls(), "no cycles after Stop")
}

func TestSyncPublishesEvents(t *testing.T) {
	srv := remotetest.NewServer(t)
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()

	mgr, err := manager.NewManager(&manager.Config{Store: store})
	require.NoError(t, err)
	rec, err := NewReconciler(&Config{Manager: mgr, Queue: store, Remote: srv.Adapter(), Broker: broker})
	require.NoError(t, err)

	_, err = rec.Sync(context.Background())
	require.NoError(t, err)

	var got []events.EventType
	for len(got) < 2 {
		select {
		case ev := <-sub:
			got = append(got, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("received %v", got)
		}
	}
	assert.Equal(t, []events.EventType{events.EventSyncStarted, events.EventSyncCompleted}, got)
}
