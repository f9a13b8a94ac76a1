package recordstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/textjob/internal/domain"
	"github.com/cuongbtq/textjob/internal/feed"
	"github.com/cuongbtq/textjob/shared/database"
	"github.com/cuongbtq/textjob/shared/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	client, err := database.NewClient(&database.Config{Driver: database.DriverSQLite, Path: ":memory:"}, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	store, err := New(client.GetDB(), "jobs", logger.Discard())
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))

	var mu sync.Mutex
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Millisecond)
		return now
	})
	return store
}

func decodeChanges(t *testing.T, entries []feed.OutboxEntry) []domain.ChangeEvent {
	t.Helper()

	events := make([]domain.ChangeEvent, 0, len(entries))
	for _, e := range entries {
		ev, err := feed.Decoder{}.Decode(e.Payload)
		require.NoError(t, err)
		events = append(events, ev)
	}
	return events
}

func TestNew_RejectsBadTableName(t *testing.T) {
	for _, name := range []string{"", "jobs; DROP TABLE x", "1jobs", "job-table"} {
		_, err := New(nil, name, logger.Discard())
		assert.Error(t, err, name)
	}
}

func TestStore_SubmitAndGet(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	rec, err := store.Submit(ctx, "a1b2c3d4e5", domain.StringPtr("hello"), domain.StringPtr("uploads/b.txt"))
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, rec.Status)

	got, err := store.Get(ctx, "a1b2c3d4e5")
	require.NoError(t, err)
	assert.Equal(t, "hello", domain.Deref(got.InputText))
	assert.Equal(t, "uploads/b.txt", domain.Deref(got.InputFilePath))
	assert.Nil(t, got.OutputFilePath)
	assert.Equal(t, rec.CreatedAt, got.CreatedAt)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestStore_SubmitDuplicate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Submit(ctx, "dup", domain.StringPtr("one"), nil)
	require.NoError(t, err)

	_, err = store.Submit(ctx, "dup", domain.StringPtr("two"), nil)
	var writeErr *domain.WriteError
	require.ErrorAs(t, err, &writeErr)
	assert.ErrorIs(t, err, domain.ErrDuplicateJob)
	assert.True(t, writeErr.Rejected())

	got, err := store.Get(ctx, "dup")
	require.NoError(t, err)
	assert.Equal(t, "one", domain.Deref(got.InputText))

	pending, err := store.PendingChanges(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestStore_RecordCompletion(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Submit(ctx, "job", domain.StringPtr("x"), domain.StringPtr("uploads/b.txt"))
	require.NoError(t, err)

	require.NoError(t, store.RecordCompletion(ctx, "job", "uploads/processed-b.txt"))

	got, err := store.Get(ctx, "job")
	require.NoError(t, err)
	assert.True(t, got.Completed())
	assert.Equal(t, domain.JobStatusDone, got.Status)
	assert.Equal(t, "x", domain.Deref(got.InputText))

	err = store.RecordCompletion(ctx, "job", "uploads/other.txt")
	assert.ErrorIs(t, err, domain.ErrAlreadyCompleted)

	got, err = store.Get(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, "uploads/processed-b.txt", domain.Deref(got.OutputFilePath))

	err = store.RecordCompletion(ctx, "missing", "uploads/processed-b.txt")
	var writeErr *domain.WriteError
	require.ErrorAs(t, err, &writeErr)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	err = store.RecordCompletion(ctx, "job", "")
	require.Error(t, err)
}

func TestStore_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Submit(ctx, "job", domain.StringPtr("x"), nil)
	require.NoError(t, err)

	require.NoError(t, store.UpdateStatus(ctx, "job", domain.JobStatusRunning, ""))
	require.NoError(t, store.UpdateStatus(ctx, "job", domain.JobStatusFailed, "input missing"))

	got, err := store.Get(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Equal(t, "input missing", domain.Deref(got.ErrorMessage))

	require.Error(t, store.UpdateStatus(ctx, "job", domain.JobStatusDone, ""))

	require.NoError(t, store.RecordCompletion(ctx, "job", "uploads/processed-job.txt"))
	err = store.UpdateStatus(ctx, "job", domain.JobStatusRunning, "")
	assert.ErrorIs(t, err, domain.ErrAlreadyCompleted)
}

func TestStore_ChangeLog(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Submit(ctx, "a", domain.StringPtr("x"), nil)
	require.NoError(t, err)
	_, err = store.Submit(ctx, "b", nil, domain.StringPtr("uploads/b.txt"))
	require.NoError(t, err)
	require.NoError(t, store.UpdateStatus(ctx, "a", domain.JobStatusRunning, ""))
	require.NoError(t, store.RecordCompletion(ctx, "a", "uploads/processed-a.txt"))

	entries, err := store.PendingChanges(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	events := decodeChanges(t, entries)
	assert.Equal(t, domain.EventInsert, events[0].Name)
	assert.Equal(t, "a", events[0].Record.ID)
	assert.True(t, events[0].IsCreation())
	assert.True(t, events[1].IsCreation())
	assert.False(t, events[2].IsCreation())
	assert.Equal(t, domain.EventModify, events[3].Name)
	assert.Equal(t, "uploads/processed-a.txt", domain.Deref(events[3].Record.OutputFilePath))
	assert.False(t, events[3].IsCreation())

	for i := 1; i < len(entries); i++ {
		assert.Greater(t, entries[i].Seq, entries[i-1].Seq)
	}

	require.NoError(t, store.MarkPublished(ctx, entries[0].Seq))
	require.NoError(t, store.MarkPublished(ctx, entries[1].Seq))

	rest, err := store.PendingChanges(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, entries[2].Seq, rest[0].Seq)
}

func TestStore_List(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		_, err := store.Submit(ctx, id, domain.StringPtr(id), nil)
		require.NoError(t, err)
	}
	require.NoError(t, store.UpdateStatus(ctx, "c", domain.JobStatusRunning, ""))

	page, err := store.List(ctx, JobFilter{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "e", page[0].ID)
	assert.Equal(t, "d", page[1].ID)

	last := page[1]
	page, err = store.List(ctx, JobFilter{PageSize: 2, Cursor: &JobCursor{CreatedAt: last.CreatedAt, JobID: last.ID}})
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "c", page[0].ID)

	running, err := store.List(ctx, JobFilter{PageSize: 10, Status: domain.JobStatusRunning})
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, "c", running[0].ID)
}

func TestStore_ConcurrentCompletionHasOneWinner(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Submit(ctx, "job", domain.StringPtr("x"), nil)
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.RecordCompletion(ctx, "job", "uploads/processed-job.txt")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, domain.ErrAlreadyCompleted):
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	assert.Equal(t, 4, rejected)
}
