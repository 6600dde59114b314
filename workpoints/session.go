package workpoints

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultThrottle is the minimum spacing between applied activity updates.
	DefaultThrottle = 2 * time.Second
	// DefaultDebounce is the quiet period before a non-incrementing update is saved.
	DefaultDebounce = 2 * time.Second
)

// Options configures a Session. Zero values take defaults.
type Options struct {
	Settings Settings
	Location *time.Location
	Clock    func() time.Time
	Throttle time.Duration
	Debounce time.Duration
	Env      Env
	Logger   *zap.Logger
}

// ReconcileResult is what a caller sees after a day boundary check.
type ReconcileResult struct {
	Outcome Outcome    `json:"outcome"`
	Sync    SyncResult `json:"sync"`
	// Retried counts queued days that were pushed successfully on this pass.
	Retried int   `json:"retried"`
	State   State `json:"state"`
}

// Session is the single owner of one user's work-points record on this device.
// All reads and writes of the record go through it.
type Session struct {
	userID   string
	store    *LocalStore
	syncer   Syncer
	settings Settings
	loc      *time.Location
	now      func() time.Time
	debounce time.Duration
	limiter  *rate.Limiter
	log      *zap.Logger
	env      Env

	mu          sync.Mutex
	state       State
	device      string
	bufferedMs  int64
	unsavedMs   int64
	unsavedPts  int64
	saveTimer   *time.Timer
	dirty       bool
	closed      bool
	lastOutcome Outcome
}

// NewSession builds a session; call Open before recording activity.
func NewSession(userID string, store *LocalStore, syncer Syncer, opts Options) *Session {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Throttle <= 0 {
		opts.Throttle = DefaultThrottle
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Session{
		userID:   userID,
		store:    store,
		syncer:   syncer,
		settings: opts.Settings.withDefaults(),
		loc:      opts.Location,
		now:      opts.Clock,
		debounce: opts.Debounce,
		limiter:  rate.NewLimiter(rate.Every(opts.Throttle), 1),
		log:      opts.Logger.With(zap.String("user_id", userID)),
		env:      opts.Env,
	}
}

// Open loads the record, resolves the device fingerprint and runs the day boundary check.
func (s *Session) Open(ctx context.Context) ReconcileResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = s.store.Load(ctx, s.userID)
	s.device = s.store.DeviceFingerprint(ctx, s.env)
	s.closed = false
	return s.reconcileLocked(ctx)
}

// DeviceFingerprint returns the id this session tags its syncs with.
func (s *Session) DeviceFingerprint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device
}

// Snapshot returns a copy of the current record including buffered activity.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastOutcome returns the result of the most recent reconciliation.
func (s *Session) LastOutcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastOutcome
}

// Reconcile runs the day boundary check. Safe to call repeatedly: without a
// day change in between it is a no-op.
func (s *Session) Reconcile(ctx context.Context) ReconcileResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconcileLocked(ctx)
}

// Record adds active time. Updates are throttled: activity arriving faster
// than the throttle interval is buffered and applied with the next allowed update.
// It reports the points credited by this call.
func (s *Session) Record(ctx context.Context, active time.Duration) int64 {
	if active <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	s.bufferedMs += active.Milliseconds()
	if !s.limiter.AllowN(s.now(), 1) {
		return 0
	}
	return s.applyLocked(ctx)
}

// Flush applies buffered activity and saves immediately.
func (s *Session) Flush(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bufferedMs > 0 {
		s.applyLocked(ctx)
	}
	if s.dirty {
		s.saveLocked(ctx)
	}
}

// FlushPending retries queued syncs without waiting for the next day boundary.
func (s *Session) FlushPending(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryPendingLocked(ctx)
}

// Reset wipes the user's record and queue on this device.
func (s *Session) Reset(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked()
	s.store.Clear(ctx, s.userID)
	s.state = State{}
	s.bufferedMs, s.unsavedMs, s.unsavedPts = 0, 0, 0
	s.dirty = false
}

// Close flushes pending writes. The session records nothing afterwards.
func (s *Session) Close(ctx context.Context) {
	s.Flush(ctx)
	s.mu.Lock()
	s.stopTimerLocked()
	s.closed = true
	s.mu.Unlock()
}

func (s *Session) applyLocked(ctx context.Context) int64 {
	// a session left open across midnight closes the old day first
	s.reconcileLocked(ctx)

	ms := s.bufferedMs
	s.bufferedMs = 0

	before := s.settings.Points(s.state.MillisecondsAccumulated)
	s.state.MillisecondsAccumulated += ms
	s.state.LastActivity = s.now().In(s.loc)
	gained := s.settings.Points(s.state.MillisecondsAccumulated) - before
	s.state.TotalWorkPoints += gained

	s.unsavedMs += ms
	s.unsavedPts += gained
	s.dirty = true

	if gained > 0 {
		s.saveLocked(ctx)
	} else {
		s.scheduleSaveLocked()
	}
	return gained
}

func (s *Session) reconcileLocked(ctx context.Context) ReconcileResult {
	next, out := Reconcile(s.state, s.now(), s.loc, s.settings)
	s.lastOutcome = out
	res := ReconcileResult{Outcome: out}

	if out.Phase == SameDay {
		if s.state.LastActivity.IsZero() {
			// first use: persist the fresh record
			s.state = next
			s.dirty = true
			s.saveLocked(ctx)
		}
		res.State = s.state
		return res
	}

	s.state = next
	s.unsavedMs, s.unsavedPts = 0, 0
	s.dirty = true
	// the local transition is committed before any network call
	s.saveLocked(ctx)

	if out.StreakLost {
		s.log.Info("streak lost", zap.String("date", out.Date), zap.Int("previous_streak", out.PreviousStreak))
	}
	if out.PenaltyApplied > 0 {
		s.log.Info("daily penalty applied", zap.String("date", out.Date), zap.Int64("penalty", out.PenaltyApplied))
	}

	res.Retried = s.retryPendingLocked(ctx)
	res.Sync = s.pushLocked(ctx, out.Date, out.Points)
	res.State = s.state
	return res
}

func (s *Session) pushLocked(ctx context.Context, date string, points int64) SyncResult {
	if points > MaxDailyWorkPoints {
		points = MaxDailyWorkPoints
	}
	if s.syncer == nil {
		return SyncResult{Success: false, Message: "sync disabled"}
	}
	res := s.syncer.Sync(ctx, SyncRequest{Date: date, WorkPoints: points, DeviceFingerprint: s.device})
	if !res.Success {
		s.log.Warn("work points sync failed, queued for retry", zap.String("date", date), zap.String("message", res.Message))
		s.enqueueLocked(ctx, PendingSync{Date: date, WorkPoints: points})
	}
	return res
}

func (s *Session) enqueueLocked(ctx context.Context, item PendingSync) {
	queue := s.store.Pending(ctx, s.userID)
	replaced := false
	for i := range queue {
		if queue[i].Date == item.Date {
			queue[i] = item
			replaced = true
		}
	}
	if !replaced {
		queue = append(queue, item)
	}
	s.store.SetPending(ctx, s.userID, queue)
}

func (s *Session) retryPendingLocked(ctx context.Context) int {
	queue := s.store.Pending(ctx, s.userID)
	if len(queue) == 0 || s.syncer == nil {
		return 0
	}
	var remaining []PendingSync
	sent := 0
	for _, item := range queue {
		res := s.syncer.Sync(ctx, SyncRequest{Date: item.Date, WorkPoints: item.WorkPoints, DeviceFingerprint: s.device})
		if res.Success {
			sent++
			continue
		}
		remaining = append(remaining, item)
	}
	s.store.SetPending(ctx, s.userID, remaining)
	return sent
}

func (s *Session) scheduleSaveLocked() {
	if s.saveTimer != nil {
		s.saveTimer.Stop()
	}
	s.saveTimer = time.AfterFunc(s.debounce, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.dirty && !s.closed {
			s.saveLocked(context.Background())
		}
	})
}

func (s *Session) stopTimerLocked() {
	if s.saveTimer != nil {
		s.saveTimer.Stop()
		s.saveTimer = nil
	}
}

func (s *Session) saveLocked(ctx context.Context) {
	s.stopTimerLocked()
	err := s.store.Save(ctx, s.userID, &s.state)
	if errors.Is(err, ErrStaleState) {
		s.log.Info("work points record changed elsewhere, merging")
		s.state = s.mergeLocked(s.store.Load(ctx, s.userID))
		err = s.store.Save(ctx, s.userID, &s.state)
	}
	if err != nil {
		// a second conflict means another writer is active right now; keep
		// our copy dirty and let the next save try again
		s.log.Warn("work points save deferred", zap.Error(err))
		return
	}
	s.dirty = false
	s.unsavedMs, s.unsavedPts = 0, 0
}

// mergeLocked folds this session's unsaved activity into a record another
// writer saved in the meantime.
func (s *Session) mergeLocked(fresh State) State {
	ours := s.state
	freshDay := ""
	if !fresh.LastActivity.IsZero() {
		freshDay = DateKey(fresh.LastActivity.In(s.loc))
	}
	ourDay := DateKey(ours.LastActivity.In(s.loc))

	switch {
	case freshDay == ourDay:
		merged := fresh
		merged.MillisecondsAccumulated += s.unsavedMs
		// credit whole points reached by the combined time, not each writer's rounded share
		merged.TotalWorkPoints += s.settings.Points(merged.MillisecondsAccumulated) - s.settings.Points(fresh.MillisecondsAccumulated)
		if ours.LastActivity.After(merged.LastActivity) {
			merged.LastActivity = ours.LastActivity
		}
		return merged
	case freshDay < ourDay:
		// the other writer is still on an older day; our rollover wins
		ours.Version = fresh.Version
		return ours
	default:
		// the other writer already closed our day; keep only the points we earned
		merged := fresh
		merged.TotalWorkPoints += s.unsavedPts
		return merged
	}
}
