package workpoints

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrStaleState is returned by Save when another writer updated the record first.
var ErrStaleState = errors.New("work points state was modified concurrently")

const (
	deviceIDKey = "workPointsDeviceId"
)

func stateKey(userID string) string   { return "workPoints_" + userID }
func pendingKey(userID string) string { return "workPointsPending_" + userID }

// PendingSync is a daily tally that could not be pushed yet.
type PendingSync struct {
	Date       string `json:"date"`
	WorkPoints int64  `json:"workPoints"`
}

// LocalStore reads and writes work-points records on top of a Backend.
// Load never fails and Save only reports version conflicts; storage
// errors are logged and swallowed so callers on the UI path never block.
type LocalStore struct {
	backend Backend
	log     *zap.Logger
}

// NewLocalStore wraps backend. A nil logger disables logging.
func NewLocalStore(backend Backend, log *zap.Logger) *LocalStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &LocalStore{backend: backend, log: log}
}

// Load returns the user's record, or a zero record if it is absent or unreadable.
func (s *LocalStore) Load(ctx context.Context, userID string) State {
	b, version, err := s.backend.Get(ctx, stateKey(userID))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.Warn("load work points state failed", zap.String("user_id", userID), zap.Error(err))
		}
		return State{}
	}
	st, err := decodeState(b)
	if err != nil {
		s.log.Warn("discarding corrupt work points state", zap.String("user_id", userID), zap.Error(err))
		// keep the version so the next save overwrites the corrupt record
		return State{Version: version}
	}
	st.Version = version
	return st
}

// Save writes st if nobody else wrote since it was loaded, and advances st.Version.
func (s *LocalStore) Save(ctx context.Context, userID string, st *State) error {
	b, err := encodeState(*st)
	if err != nil {
		s.log.Error("encode work points state failed", zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	version, err := s.backend.Put(ctx, stateKey(userID), b, st.Version)
	if errors.Is(err, ErrVersionConflict) {
		return ErrStaleState
	}
	if err != nil {
		s.log.Error("save work points state failed", zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	st.Version = version
	return nil
}

// Clear removes the user's record and pending queue.
func (s *LocalStore) Clear(ctx context.Context, userID string) {
	for _, key := range []string{stateKey(userID), pendingKey(userID)} {
		if err := s.backend.Delete(ctx, key); err != nil {
			s.log.Warn("clear work points key failed", zap.String("key", key), zap.Error(err))
		}
	}
}

// Pending returns queued tallies that still need to reach the server.
func (s *LocalStore) Pending(ctx context.Context, userID string) []PendingSync {
	b, _, err := s.backend.Get(ctx, pendingKey(userID))
	if err != nil {
		return nil
	}
	var items []PendingSync
	if err := json.Unmarshal(b, &items); err != nil {
		s.log.Warn("discarding corrupt pending sync queue", zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	return items
}

// SetPending replaces the queue; an empty queue deletes the key.
func (s *LocalStore) SetPending(ctx context.Context, userID string, items []PendingSync) {
	if len(items) == 0 {
		if err := s.backend.Delete(ctx, pendingKey(userID)); err != nil {
			s.log.Warn("clear pending sync queue failed", zap.String("user_id", userID), zap.Error(err))
		}
		return
	}
	b, err := json.Marshal(items)
	if err != nil {
		return
	}
	if _, err := s.backend.Put(ctx, pendingKey(userID), b, AnyVersion); err != nil {
		s.log.Warn("save pending sync queue failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *LocalStore) deviceID(ctx context.Context) (string, error) {
	b, _, err := s.backend.Get(ctx, deviceIDKey)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *LocalStore) setDeviceID(ctx context.Context, id string) error {
	if _, err := s.backend.Put(ctx, deviceIDKey, []byte(id), AnyVersion); err != nil {
		return fmt.Errorf("persist device id: %w", err)
	}
	return nil
}
