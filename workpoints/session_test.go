package workpoints

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeSyncer struct {
	mu    sync.Mutex
	fail  bool
	calls []SyncRequest
}

func (f *fakeSyncer) Sync(_ context.Context, req SyncRequest) SyncResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.fail {
		return SyncResult{Success: false, Message: "connection refused"}
	}
	return SyncResult{Success: true, Message: "synced"}
}

func (f *fakeSyncer) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *fakeSyncer) requests() []SyncRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SyncRequest(nil), f.calls...)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestSession(t *testing.T, backend Backend, syncer Syncer, clock *testClock) *Session {
	t.Helper()
	return NewSession("u1", NewLocalStore(backend, nil), syncer, Options{
		Location: time.UTC,
		Clock:    clock.Now,
		Debounce: time.Hour,
		Env:      testEnv,
	})
}

func seed(t *testing.T, backend Backend, st State) {
	t.Helper()
	if err := NewLocalStore(backend, nil).Save(context.Background(), "u1", &st); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestSessionOpenReconcilesAndSyncs(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	seed(t, backend, State{
		MillisecondsAccumulated: 150000,
		TotalWorkPoints:         5,
		LastActivity:            time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC),
	})
	syncer := &fakeSyncer{}
	clock := &testClock{now: time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC)}

	s := newTestSession(t, backend, syncer, clock)
	res := s.Open(ctx)

	if res.Outcome.Phase != DayBoundaryCrossed {
		t.Fatalf("phase = %v", res.Outcome.Phase)
	}
	if !res.Sync.Success {
		t.Errorf("sync result = %+v", res.Sync)
	}
	reqs := syncer.requests()
	if len(reqs) != 1 {
		t.Fatalf("sync calls = %d, want 1", len(reqs))
	}
	if reqs[0].Date != "2024-05-01" || reqs[0].WorkPoints != 5 || reqs[0].DeviceFingerprint != Fingerprint(testEnv) {
		t.Errorf("sync request = %+v", reqs[0])
	}

	stored := NewLocalStore(backend, nil).Load(ctx, "u1")
	if stored.CurrentStreak != 1 || stored.MillisecondsAccumulated != 0 {
		t.Errorf("stored state = %+v", stored)
	}

	// a second check on the same day neither changes state nor syncs again
	again := s.Reconcile(ctx)
	if again.Outcome.Phase != SameDay || len(syncer.requests()) != 1 {
		t.Errorf("second reconcile not a no-op: %+v, calls=%d", again.Outcome, len(syncer.requests()))
	}
}

func TestSessionReopenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	seed(t, backend, State{MillisecondsAccumulated: 60000, TotalWorkPoints: 20, LastActivity: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)})
	syncer := &fakeSyncer{}
	clock := &testClock{now: time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)}

	first := newTestSession(t, backend, syncer, clock).Open(ctx)
	if first.Outcome.PenaltyApplied != DefaultDailyPenaltyPoints {
		t.Fatalf("penalty = %d", first.Outcome.PenaltyApplied)
	}

	// page reload before any new activity
	second := newTestSession(t, backend, syncer, clock).Open(ctx)
	if second.Outcome.Phase != SameDay {
		t.Fatalf("reload phase = %v", second.Outcome.Phase)
	}
	if got := NewLocalStore(backend, nil).Load(ctx, "u1").TotalWorkPoints; got != 10 {
		t.Errorf("TotalWorkPoints = %d, want 10 (penalty applied once)", got)
	}
}

func TestSessionFailedSyncQueuedAndRetried(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	seed(t, backend, State{MillisecondsAccumulated: 300000, TotalWorkPoints: 10, LastActivity: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)})
	syncer := &fakeSyncer{fail: true}
	clock := &testClock{now: time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)}

	s := newTestSession(t, backend, syncer, clock)
	res := s.Open(ctx)
	if res.Sync.Success || res.Sync.Message == "" {
		t.Fatalf("expected failed sync result, got %+v", res.Sync)
	}
	// the local transition completed regardless
	if res.State.MillisecondsAccumulated != 0 || res.State.CurrentStreak != 1 {
		t.Errorf("local state not rolled: %+v", res.State)
	}
	store := NewLocalStore(backend, nil)
	if q := store.Pending(ctx, "u1"); len(q) != 1 || q[0].Date != "2024-05-01" || q[0].WorkPoints != 10 {
		t.Fatalf("pending queue = %+v", q)
	}

	// next day: network is back, the queued day goes out before the new one
	syncer.setFail(false)
	s.Record(ctx, 3*time.Minute)
	clock.Advance(24 * time.Hour)
	res = s.Reconcile(ctx)

	if res.Retried != 1 || !res.Sync.Success {
		t.Errorf("retry result = %+v", res)
	}
	reqs := syncer.requests()
	if len(reqs) != 3 {
		t.Fatalf("sync calls = %d, want 3", len(reqs))
	}
	if reqs[1].Date != "2024-05-01" || reqs[2].Date != "2024-05-02" || reqs[2].WorkPoints != 6 {
		t.Errorf("retry order wrong: %+v", reqs)
	}
	if q := store.Pending(ctx, "u1"); len(q) != 0 {
		t.Errorf("queue not drained: %+v", q)
	}
}

func TestSessionRecordThrottlesAndCredits(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	clock := &testClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	s := newTestSession(t, backend, &fakeSyncer{}, clock)
	s.Open(ctx)

	if got := s.Record(ctx, 20*time.Second); got != 0 {
		t.Errorf("first record credited %d points", got)
	}
	// within the throttle window: buffered, not applied
	s.Record(ctx, 20*time.Second)
	if ms := s.Snapshot().MillisecondsAccumulated; ms != 20000 {
		t.Fatalf("throttled update applied: ms = %d", ms)
	}

	clock.Advance(DefaultThrottle)
	if got := s.Record(ctx, 20*time.Second); got != 2 {
		t.Errorf("credited = %d, want 2", got)
	}
	snap := s.Snapshot()
	if snap.MillisecondsAccumulated != 60000 || snap.TotalWorkPoints != 2 {
		t.Errorf("snapshot = %+v", snap)
	}

	// point increments are saved immediately
	if stored := NewLocalStore(backend, nil).Load(ctx, "u1"); stored.TotalWorkPoints != 2 {
		t.Errorf("stored total = %d, want 2", stored.TotalWorkPoints)
	}
}

func TestSessionDebouncedSave(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	clock := &testClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	s := NewSession("u1", NewLocalStore(backend, nil), nil, Options{
		Location: time.UTC,
		Clock:    clock.Now,
		Debounce: 20 * time.Millisecond,
		Env:      testEnv,
	})
	s.Open(ctx)

	s.Record(ctx, 5*time.Second)
	if stored := NewLocalStore(backend, nil).Load(ctx, "u1"); stored.MillisecondsAccumulated != 0 {
		t.Fatalf("non-incrementing update saved immediately: %+v", stored)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if NewLocalStore(backend, nil).Load(ctx, "u1").MillisecondsAccumulated == 5000 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("debounced save never happened")
}

func TestSessionFlushAndClose(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	clock := &testClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	s := newTestSession(t, backend, &fakeSyncer{}, clock)
	s.Open(ctx)

	s.Record(ctx, 10*time.Second)
	s.Record(ctx, 10*time.Second) // buffered by the throttle
	s.Close(ctx)

	if stored := NewLocalStore(backend, nil).Load(ctx, "u1"); stored.MillisecondsAccumulated != 20000 {
		t.Errorf("stored ms = %d, want 20000", stored.MillisecondsAccumulated)
	}
	if got := s.Record(ctx, time.Minute); got != 0 {
		t.Error("closed session accepted activity")
	}
}

func TestSessionMergesConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	clock := &testClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}

	a := newTestSession(t, backend, &fakeSyncer{}, clock)
	b := newTestSession(t, backend, &fakeSyncer{}, clock)
	a.Open(ctx)
	b.Open(ctx)

	a.Record(ctx, 60*time.Second) // 2 points, saved
	b.Record(ctx, 90*time.Second) // 3 points, stale -> merged

	stored := NewLocalStore(backend, nil).Load(ctx, "u1")
	if stored.MillisecondsAccumulated != 150000 {
		t.Errorf("merged ms = %d, want 150000", stored.MillisecondsAccumulated)
	}
	if stored.TotalWorkPoints != 5 {
		t.Errorf("merged total = %d, want 5", stored.TotalWorkPoints)
	}
}

func TestSessionMergeCreditsCombinedSubPointTime(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	clock := &testClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}

	a := newTestSession(t, backend, &fakeSyncer{}, clock)
	b := newTestSession(t, backend, &fakeSyncer{}, clock)
	a.Open(ctx)
	b.Open(ctx)

	a.Record(ctx, 20*time.Second)
	a.Flush(ctx)
	b.Record(ctx, 20*time.Second) // stale, merged with a's 20s
	b.Flush(ctx)

	stored := NewLocalStore(backend, nil).Load(ctx, "u1")
	if stored.MillisecondsAccumulated != 40000 {
		t.Fatalf("merged ms = %d, want 40000", stored.MillisecondsAccumulated)
	}
	if want := PointsFor(stored.MillisecondsAccumulated); stored.TotalWorkPoints != want {
		t.Errorf("merged total = %d, want %d", stored.TotalWorkPoints, want)
	}
}

func TestSessionReset(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	clock := &testClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	s := newTestSession(t, backend, &fakeSyncer{}, clock)
	s.Open(ctx)
	s.Record(ctx, 5*time.Minute)

	s.Reset(ctx)
	if snap := s.Snapshot(); snap.TotalWorkPoints != 0 {
		t.Errorf("snapshot after reset = %+v", snap)
	}
	if stored := NewLocalStore(backend, nil).Load(ctx, "u1"); stored.TotalWorkPoints != 0 {
		t.Errorf("stored after reset = %+v", stored)
	}
}
