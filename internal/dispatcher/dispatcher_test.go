package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/textjob/internal/domain"
	"github.com/cuongbtq/textjob/internal/feed"
	"github.com/cuongbtq/textjob/internal/mocks"
	"github.com/cuongbtq/textjob/internal/provisioner"
	"github.com/cuongbtq/textjob/shared/logger"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func creation(id string) domain.ChangeEvent {
	return domain.ChangeEvent{
		Name: domain.EventInsert,
		Record: domain.JobRecord{
			ID:            id,
			InputText:     domain.StringPtr("text of " + id),
			InputFilePath: domain.StringPtr("uploads/" + id + ".txt"),
			Status:        domain.JobStatusPending,
		},
	}
}

func completion(id string) domain.ChangeEvent {
	ev := creation(id)
	ev.Name = domain.EventModify
	ev.Record.OutputFilePath = domain.StringPtr("uploads/processed-" + id + ".txt")
	ev.Record.Status = domain.JobStatusDone
	return ev
}

func testBuilder(t *testing.T) *provisioner.Builder {
	t.Helper()
	b, err := provisioner.NewBuilder(provisioner.BuilderConfig{
		Env:              domain.WorkerEnv{Store: "uploads", Table: "jobs"},
		WorkerBinary:     "worker-service",
		TerminateCommand: "shutdown -h now",
	})
	require.NoError(t, err)
	return b
}

// callLog counts provisioning calls per job id
type callLog struct {
	mu    sync.Mutex
	calls map[string]int
	total int
}

func (c *callLog) record(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = make(map[string]int)
	}
	c.calls[id]++
	c.total++
	return c.calls[id]
}

func newTestDispatcher(t *testing.T, prov provisioner.Provisioner, dedup Deduplicator, sink DeadLetterSink) *Dispatcher {
	t.Helper()

	d, err := New(Dependencies{
		Builder:     testBuilder(t),
		Provisioner: prov,
		Dedup:       dedup,
		DeadLetters: sink,
		Logger:      logger.Discard(),
	}, Config{MaxRetries: 2, RetryBackoff: time.Second})
	require.NoError(t, err)

	d.sleep = func(context.Context, time.Duration) error { return nil }
	d.now = func() time.Time { return time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC) }
	return d
}

func TestNew_Validation(t *testing.T) {
	ctrl := gomock.NewController(t)
	prov := mocks.NewMockProvisioner(ctrl)
	b := testBuilder(t)

	_, err := New(Dependencies{Provisioner: prov, DeadLetters: &MemorySink{}}, Config{})
	require.Error(t, err)
	_, err = New(Dependencies{Builder: b, DeadLetters: &MemorySink{}}, Config{})
	require.Error(t, err)
	_, err = New(Dependencies{Builder: b, Provisioner: prov}, Config{})
	require.Error(t, err)
	_, err = New(Dependencies{Builder: b, Provisioner: prov, DeadLetters: &MemorySink{}}, Config{MaxRetries: -1})
	require.Error(t, err)
}

func TestProcessBatch_DispatchesCreationEvents(t *testing.T) {
	ctrl := gomock.NewController(t)
	prov := mocks.NewMockProvisioner(ctrl)
	d := newTestDispatcher(t, prov, NewMemoryDeduplicator(time.Hour), &MemorySink{})

	var got []domain.JobParams
	var mu sync.Mutex
	prov.EXPECT().Provision(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, spec provisioner.LaunchSpec) (string, error) {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, spec.Params)
			assert.Contains(t, spec.Script, "export JOB_ID='"+spec.Params.JobID+"'")
			return "pid-" + spec.Params.JobID, nil
		}).
		Times(2)

	report, err := d.ProcessBatch(context.Background(), []domain.ChangeEvent{
		creation("a"),
		completion("b"),
		creation("c"),
	})
	require.NoError(t, err)

	assert.Equal(t, 3, report.Received)
	assert.Equal(t, []string{"b"}, report.Filtered)
	assert.Equal(t, map[string]string{"a": "pid-a", "c": "pid-c"}, report.Dispatched)
	assert.Equal(t, 1, report.Attempts)
	assert.Empty(t, report.DeadLettered)

	assert.ElementsMatch(t, []domain.JobParams{
		{JobID: "a", InputText: "text of a", InputFilePath: "uploads/a.txt"},
		{JobID: "c", InputText: "text of c", InputFilePath: "uploads/c.txt"},
	}, got)
}

func TestProcessBatch_CompletionEventsNeverDispatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	prov := mocks.NewMockProvisioner(ctrl)
	prov.EXPECT().Provision(gomock.Any(), gomock.Any()).Times(0)
	d := newTestDispatcher(t, prov, NoopDeduplicator{}, &MemorySink{})

	running := creation("r")
	running.Name = domain.EventModify
	running.Record.Status = domain.JobStatusRunning

	report, err := d.ProcessBatch(context.Background(), []domain.ChangeEvent{
		completion("a"),
		completion("b"),
		running,
	})
	require.NoError(t, err)
	assert.Len(t, report.Filtered, 3)
	assert.Empty(t, report.Dispatched)
	assert.Equal(t, 0, report.Attempts)
}

func TestProcessBatch_RedeliveryWithDedup(t *testing.T) {
	ctrl := gomock.NewController(t)
	prov := mocks.NewMockProvisioner(ctrl)
	prov.EXPECT().Provision(gomock.Any(), gomock.Any()).Return("pid-1", nil).Times(1)

	d := newTestDispatcher(t, prov, NewMemoryDeduplicator(time.Hour), &MemorySink{})

	first, err := d.ProcessBatch(context.Background(), []domain.ChangeEvent{creation("a")})
	require.NoError(t, err)
	assert.Len(t, first.Dispatched, 1)

	second, err := d.ProcessBatch(context.Background(), []domain.ChangeEvent{creation("a"), creation("a")})
	require.NoError(t, err)
	assert.Empty(t, second.Dispatched)
	assert.Equal(t, []string{"a", "a"}, second.Duplicates)
}

func TestProcessBatch_RedeliveryWithoutDedupRunsTwice(t *testing.T) {
	ctrl := gomock.NewController(t)
	prov := mocks.NewMockProvisioner(ctrl)
	prov.EXPECT().Provision(gomock.Any(), gomock.Any()).Return("pid", nil).Times(2)

	d := newTestDispatcher(t, prov, NoopDeduplicator{}, &MemorySink{})

	for i := 0; i < 2; i++ {
		report, err := d.ProcessBatch(context.Background(), []domain.ChangeEvent{creation("a")})
		require.NoError(t, err)
		assert.Len(t, report.Dispatched, 1)
	}
}

func TestProcessBatch_WholeBatchRetryThenDeadLetter(t *testing.T) {
	ctrl := gomock.NewController(t)
	prov := mocks.NewMockProvisioner(ctrl)
	sink := &MemorySink{}
	dedup := NewMemoryDeduplicator(time.Hour)
	d := newTestDispatcher(t, prov, dedup, sink)

	calls := &callLog{}
	prov.EXPECT().Provision(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, spec provisioner.LaunchSpec) (string, error) {
			calls.record(spec.Params.JobID)
			if spec.Params.JobID == "e3" {
				return "", errors.New("capacity unavailable")
			}
			return "pid-" + spec.Params.JobID, nil
		}).
		AnyTimes()

	batch := []domain.ChangeEvent{creation("e1"), creation("e2"), creation("e3"), creation("e4"), creation("e5")}
	report, err := d.ProcessBatch(context.Background(), batch)
	require.NoError(t, err)

	assert.Equal(t, 15, calls.total)
	for _, id := range []string{"e1", "e2", "e3", "e4", "e5"} {
		assert.Equal(t, 3, calls.calls[id], id)
	}
	assert.Equal(t, 3, report.Attempts)
	assert.Equal(t, []string{"e3"}, report.DeadLettered)
	assert.Len(t, report.Dispatched, 4)

	letters := sink.Letters()
	require.Len(t, letters, 1)
	assert.Equal(t, "e3", letters[0].JobID)
	assert.Equal(t, ReasonDispatchFailed, letters[0].Reason)
	assert.Equal(t, 3, letters[0].Attempts)
	assert.Contains(t, letters[0].Error, "capacity unavailable")

	ev, err := feed.Decoder{}.Decode([]byte(letters[0].Payload))
	require.NoError(t, err)
	assert.Equal(t, "e3", ev.Record.ID)

	// the dead-lettered job's claim is released, the others stay claimed
	ok, err := dedup.Claim(context.Background(), "e3")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = dedup.Claim(context.Background(), "e1")
	require.NoError(t, err)
	assert.False(t, ok)

	snap := d.Metrics().GetSnapshot()
	assert.Equal(t, int64(2), snap["retried"])
	assert.Equal(t, int64(1), snap["dead_lettered"])
}

func TestProcessBatch_TransientFailureRecovers(t *testing.T) {
	ctrl := gomock.NewController(t)
	prov := mocks.NewMockProvisioner(ctrl)
	sink := &MemorySink{}
	d := newTestDispatcher(t, prov, NoopDeduplicator{}, sink)

	var waits []time.Duration
	d.sleep = func(_ context.Context, wait time.Duration) error {
		waits = append(waits, wait)
		return nil
	}

	calls := &callLog{}
	prov.EXPECT().Provision(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, spec provisioner.LaunchSpec) (string, error) {
			if n := calls.record(spec.Params.JobID); spec.Params.JobID == "e3" && n == 1 {
				return "", errors.New("throttled")
			}
			return "pid", nil
		}).
		AnyTimes()

	report, err := d.ProcessBatch(context.Background(), []domain.ChangeEvent{
		creation("e1"), creation("e2"), creation("e3"), creation("e4"), creation("e5"),
	})
	require.NoError(t, err)

	assert.Equal(t, 10, calls.total)
	assert.Equal(t, 2, report.Attempts)
	assert.Len(t, report.Dispatched, 5)
	assert.Empty(t, report.DeadLettered)
	assert.Empty(t, sink.Letters())
	assert.Equal(t, []time.Duration{time.Second}, waits)
}

func TestProcessBatch_BackoffDoubles(t *testing.T) {
	ctrl := gomock.NewController(t)
	prov := mocks.NewMockProvisioner(ctrl)
	prov.EXPECT().Provision(gomock.Any(), gomock.Any()).Return("", errors.New("down")).Times(3)

	d := newTestDispatcher(t, prov, nil, &MemorySink{})
	var waits []time.Duration
	d.sleep = func(_ context.Context, wait time.Duration) error {
		waits = append(waits, wait)
		return nil
	}

	report, err := d.ProcessBatch(context.Background(), []domain.ChangeEvent{creation("a")})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, report.DeadLettered)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, waits)
}

func TestProcessBatch_DedupUnavailableStillDispatches(t *testing.T) {
	ctrl := gomock.NewController(t)
	prov := mocks.NewMockProvisioner(ctrl)
	dedup := mocks.NewMockDeduplicator(ctrl)

	dedup.EXPECT().Claim(gomock.Any(), "a").Return(false, errors.New("connection refused"))
	prov.EXPECT().Provision(gomock.Any(), gomock.Any()).Return("pid", nil)

	d := newTestDispatcher(t, prov, dedup, &MemorySink{})
	report, err := d.ProcessBatch(context.Background(), []domain.ChangeEvent{creation("a")})
	require.NoError(t, err)
	assert.Len(t, report.Dispatched, 1)
}

type failingSink struct{}

func (failingSink) DeadLetter(context.Context, DeadLetter) error {
	return errors.New("dead-letter queue unavailable")
}

func TestProcessBatch_SinkFailureRequestsRedelivery(t *testing.T) {
	ctrl := gomock.NewController(t)
	prov := mocks.NewMockProvisioner(ctrl)
	dedup := mocks.NewMockDeduplicator(ctrl)

	dedup.EXPECT().Claim(gomock.Any(), "a").Return(true, nil)
	dedup.EXPECT().Release(gomock.Any(), "a").Return(nil)
	prov.EXPECT().Provision(gomock.Any(), gomock.Any()).Return("", errors.New("down")).Times(3)

	d := newTestDispatcher(t, prov, dedup, failingSink{})
	_, err := d.ProcessBatch(context.Background(), []domain.ChangeEvent{creation("a")})
	require.Error(t, err)
}

// flakySink fails its first failures calls, then collects letters
type flakySink struct {
	MemorySink
	failures int
}

func (s *flakySink) DeadLetter(ctx context.Context, letter DeadLetter) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("sink down")
	}
	return s.MemorySink.DeadLetter(ctx, letter)
}

// ctxDeduplicator refuses to release once ctx is done, as the redis backend does
type ctxDeduplicator struct {
	*MemoryDeduplicator
}

func (c ctxDeduplicator) Release(ctx context.Context, jobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.MemoryDeduplicator.Release(ctx, jobID)
}

func TestProcessBatch_SinkFailureReleasesEveryUndeliveredClaim(t *testing.T) {
	ctrl := gomock.NewController(t)
	prov := mocks.NewMockProvisioner(ctrl)
	calls := &callLog{}
	prov.EXPECT().Provision(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, spec provisioner.LaunchSpec) (string, error) {
			calls.record(spec.Params.JobID)
			return "", errors.New("capacity unavailable")
		}).
		AnyTimes()

	sink := &flakySink{failures: 1}
	d := newTestDispatcher(t, prov, NewMemoryDeduplicator(time.Hour), sink)
	batch := []domain.ChangeEvent{creation("a"), creation("b")}

	_, err := d.ProcessBatch(context.Background(), batch)
	require.Error(t, err)
	assert.Empty(t, sink.Letters())

	report, err := d.ProcessBatch(context.Background(), batch)
	require.NoError(t, err)
	assert.Empty(t, report.Duplicates)
	assert.ElementsMatch(t, []string{"a", "b"}, report.DeadLettered)
	assert.Equal(t, 6, calls.calls["a"])
	assert.Equal(t, 6, calls.calls["b"])
	require.Len(t, sink.Letters(), 2)
}

func TestProcessBatch_InterruptedRetryReleasesClaims(t *testing.T) {
	ctrl := gomock.NewController(t)
	prov := mocks.NewMockProvisioner(ctrl)
	calls := &callLog{}
	prov.EXPECT().Provision(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, spec provisioner.LaunchSpec) (string, error) {
			if calls.record(spec.Params.JobID) == 1 {
				return "", errors.New("throttled")
			}
			return "pid-" + spec.Params.JobID, nil
		}).
		AnyTimes()

	dedup := ctxDeduplicator{NewMemoryDeduplicator(time.Hour)}
	d := newTestDispatcher(t, prov, dedup, &MemorySink{})

	ctx, cancel := context.WithCancel(context.Background())
	d.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := d.ProcessBatch(ctx, []domain.ChangeEvent{creation("a")})
	require.ErrorIs(t, err, context.Canceled)

	d.sleep = func(context.Context, time.Duration) error { return nil }
	report, err := d.ProcessBatch(context.Background(), []domain.ChangeEvent{creation("a")})
	require.NoError(t, err)
	assert.Empty(t, report.Duplicates)
	assert.Equal(t, "pid-a", report.Dispatched["a"])
	assert.Equal(t, 2, calls.calls["a"])
}

func TestProcessBatch_DispatchErrorCarriesAttempt(t *testing.T) {
	ctrl := gomock.NewController(t)
	prov := mocks.NewMockProvisioner(ctrl)
	prov.EXPECT().Provision(gomock.Any(), gomock.Any()).Return("", errors.New("quota")).Times(1)

	d := newTestDispatcher(t, prov, nil, &MemorySink{})
	d.config.MaxRetries = 0

	_, errs := d.dispatchAll(context.Background(), []domain.ChangeEvent{creation("a")}, 1)
	var dispatchErr *domain.DispatchError
	require.ErrorAs(t, errs[0], &dispatchErr)
	assert.Equal(t, "a", dispatchErr.JobID)
	assert.Equal(t, 1, dispatchErr.Attempt)
}

func TestMemoryDeduplicator_Window(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	dedup := NewMemoryDeduplicator(time.Minute)
	dedup.SetClock(func() time.Time { return now })

	ok, _ := dedup.Claim(ctx, "a")
	assert.True(t, ok)
	ok, _ = dedup.Claim(ctx, "a")
	assert.False(t, ok)

	now = now.Add(time.Minute)
	ok, _ = dedup.Claim(ctx, "a")
	assert.True(t, ok)

	require.NoError(t, dedup.Release(ctx, "a"))
	ok, _ = dedup.Claim(ctx, "a")
	assert.True(t, ok)
}

func TestRedisDeduplicator(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	dedup := NewRedisDeduplicator(client, fmt.Sprintf("textjob:test:%d:", time.Now().UnixNano()), time.Minute)

	ok, err := dedup.Claim(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = dedup.Claim(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, dedup.Release(ctx, "a"))
	ok, err = dedup.Claim(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = dedup.Claim(ctx, "")
	require.Error(t, err)
}
