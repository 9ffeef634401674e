package housekeeping_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloud-shuttle/fieldsync/internal/clock"
	"github.com/cloud-shuttle/fieldsync/internal/db"
	"github.com/cloud-shuttle/fieldsync/internal/housekeeping"
	"github.com/cloud-shuttle/fieldsync/internal/logging"
	"github.com/cloud-shuttle/fieldsync/internal/session"
	"github.com/cloud-shuttle/fieldsync/pkg/types"
)

var now = time.Date(2012, 9, 10, 13, 0, 0, 0, time.UTC)

func setup(t *testing.T) *db.Store {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "housekeeping.db"))
	require.NoError(t, err)
	require.NoError(t, store.InitSchema())
	t.Cleanup(func() { store.Close() })
	return store
}

func insertTask(t *testing.T, store *db.Store, id string, start time.Time) {
	t.Helper()
	_, err := store.Insert(context.Background(), &types.Task{
		TaskID:     id,
		AssignedTo: "E1",
		Start:      start.UnixMilli(),
		Properties: map[string]any{"ID": id},
	})
	require.NoError(t, err)
}

func insertSession(t *testing.T, store *db.Store, id, engineer string, lastAccess time.Time) {
	t.Helper()
	require.NoError(t, store.CreateSession(context.Background(), &types.Session{
		ID: id, EngineerID: engineer, CreatedAt: lastAccess.UnixMilli(), LastAccess: lastAccess.UnixMilli(),
	}))
}

func TestRunOnce(t *testing.T) {
	store := setup(t)
	days, err := clock.New("")
	require.NoError(t, err)
	days.WithNow(func() time.Time { return now })

	// cutoff is 2012-09-08T00:00Z
	insertTask(t, store, "old", time.Date(2012, 9, 7, 9, 0, 0, 0, time.UTC))
	insertTask(t, store, "cutoff-day", time.Date(2012, 9, 8, 23, 0, 0, 0, time.UTC))
	insertTask(t, store, "recent", time.Date(2012, 9, 9, 9, 0, 0, 0, time.UTC))

	insertSession(t, store, "stale", "E1", time.Date(2012, 9, 7, 12, 0, 0, 0, time.UTC))
	insertSession(t, store, "anonymous", "", now)
	insertSession(t, store, "live", "E1", now)

	j := housekeeping.New(session.NewRegistry(store), store, days, logging.Discard())
	res, err := j.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Sessions)
	assert.Equal(t, int64(2), res.Tasks)
	assert.False(t, res.TasksSkipped)

	remaining, err := store.Find(context.Background(), types.TaskFilter{EngineerIDs: []string{"E1"}})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "recent", remaining[0].TaskID)

	_, err = store.GetSession(context.Background(), "live")
	assert.NoError(t, err)
	_, err = store.GetSession(context.Background(), "stale")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestRunOnceKeepsTasksWithFakeDate(t *testing.T) {
	store := setup(t)
	days, err := clock.New("2012-09-01")
	require.NoError(t, err)
	days.WithNow(func() time.Time { return now })

	insertTask(t, store, "old", time.Date(2012, 9, 1, 9, 0, 0, 0, time.UTC))

	j := housekeeping.New(session.NewRegistry(store), store, days, logging.Discard())
	res, err := j.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, res.TasksSkipped)

	task, err := store.FindOne(context.Background(), types.TaskFilter{TaskID: "old"})
	require.NoError(t, err)
	assert.NotNil(t, task)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	store := setup(t)
	days, err := clock.New("")
	require.NoError(t, err)

	j := housekeeping.New(session.NewRegistry(store), store, days, logging.Discard())
	assert.Error(t, j.Start("every now and then"))

	require.NoError(t, j.Start(housekeeping.DefaultSchedule))
	j.Stop()
}
