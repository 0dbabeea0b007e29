package cart

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/identity"
)

// Sessions keeps one Store per client session and drives identity
// transitions as requests arrive with a new identity.
type Sessions struct {
	mu       sync.Mutex
	storages StorageFactory
	stores   map[string]*session
	bc       Broadcaster
	origin   string
	now      func() time.Time
}

type session struct {
	store    *Store
	lastSeen time.Time
}

// SessionsOption configures Sessions.
type SessionsOption func(*Sessions)

// WithBroadcaster publishes every successful snapshot write through bc.
func WithBroadcaster(bc Broadcaster) SessionsOption {
	return func(s *Sessions) {
		s.bc = bc
	}
}

// NewSessions creates a registry backed by storages.
func NewSessions(storages StorageFactory, opts ...SessionsOption) *Sessions {
	s := &Sessions{
		storages: storages,
		stores:   make(map[string]*session),
		origin:   uuid.NewString(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Origin identifies this registry in published changes.
func (s *Sessions) Origin() string {
	return s.origin
}

// Resolve returns the store of sessionID switched to id, creating it on
// first use.
func (s *Sessions) Resolve(ctx context.Context, sessionID string, id identity.Identity) (*Store, error) {
	s.mu.Lock()
	sess, ok := s.stores[sessionID]
	if !ok {
		sess = &session{store: s.newStore(ctx, sessionID)}
		s.stores[sessionID] = sess
	}
	sess.lastSeen = s.now()
	s.mu.Unlock()

	if err := sess.store.SwitchIdentity(ctx, id); err != nil {
		return nil, err
	}
	return sess.store, nil
}

// newStore starts every session as guest so the first authenticated request
// runs the merge against whatever the session saved as guest.
func (s *Sessions) newStore(ctx context.Context, sessionID string) *Store {
	st := NewStore(ctx, s.storages(sessionID), identity.Guest())
	if s.bc != nil {
		st.onWrite = func(ctx context.Context, key string) {
			c := Change{Namespace: sessionID, Key: key, Origin: s.origin}
			if err := s.bc.Publish(ctx, c); err != nil {
				zctx.From(ctx).Warn("Cart change publish failed",
					zap.String("session", sessionID),
					zap.String("key", key),
					zap.Error(err),
				)
			}
		}
	}
	return st
}

// HandleChange reconciles the affected store when another writer touched a
// key it owns. Echoes of this registry's own writes are ignored.
func (s *Sessions) HandleChange(ctx context.Context, c Change) {
	if c.Origin == s.origin {
		return
	}
	s.mu.Lock()
	sess, ok := s.stores[c.Namespace]
	s.mu.Unlock()
	if !ok {
		return
	}
	sess.store.Reconcile(ctx, c.Key)
}

// Sweep forgets sessions idle for longer than idle and returns how many
// were dropped. Their snapshots stay in storage.
func (s *Sessions) Sweep(idle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-idle)
	n := 0
	for id, sess := range s.stores {
		if sess.lastSeen.Before(cutoff) {
			delete(s.stores, id)
			n++
		}
	}
	return n
}

// SweepLoop runs Sweep every interval until ctx is done.
func (s *Sessions) SweepLoop(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(idle); n > 0 {
				zctx.From(ctx).Debug("Swept idle cart sessions", zap.Int("count", n))
			}
		}
	}
}

// Len returns the number of live sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stores)
}
