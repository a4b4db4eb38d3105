// Package memory implements the repository interfaces in process memory.
//
// Transactions are serialized: WithinTx runs fn against a private copy of the
// data and publishes it on success, so a failed fn leaves no trace. Calls made
// through the Store itself (not the Tx) must not happen inside fn.
package memory

import (
	"context"
	"sync"

	"github.com/Kerhoff/tripbot/internal/models"
	"github.com/Kerhoff/tripbot/internal/repository"
)

type state struct {
	nextID        int64
	users         map[int64]models.User
	plans         map[int64]models.Plan
	memberships   map[int64]models.Membership
	notifications map[int64]models.Notification
}

func newState() *state {
	return &state{
		users:         make(map[int64]models.User),
		plans:         make(map[int64]models.Plan),
		memberships:   make(map[int64]models.Membership),
		notifications: make(map[int64]models.Notification),
	}
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

// clone copies the maps. Stored values are replaced, never mutated in place,
// so sharing their pointer fields is safe.
func (s *state) clone() *state {
	cp := &state{
		nextID:        s.nextID,
		users:         make(map[int64]models.User, len(s.users)),
		plans:         make(map[int64]models.Plan, len(s.plans)),
		memberships:   make(map[int64]models.Membership, len(s.memberships)),
		notifications: make(map[int64]models.Notification, len(s.notifications)),
	}
	for k, v := range s.users {
		cp.users[k] = v
	}
	for k, v := range s.plans {
		cp.plans[k] = v
	}
	for k, v := range s.memberships {
		cp.memberships[k] = v
	}
	for k, v := range s.notifications {
		cp.notifications[k] = v
	}
	return cp
}

// access runs f against a state for reading or writing.
type access interface {
	read(f func(st *state) error) error
	write(f func(st *state) error) error
}

// Store is an in-memory repository.Store.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	st   *state
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{st: newState()}
}

func (s *Store) read(f func(st *state) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return f(s.st)
}

func (s *Store) write(f func(st *state) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	return f(s.st)
}

func (s *Store) Users() repository.UserRepository { return &userRepository{s} }

func (s *Store) Plans() repository.PlanRepository { return &planRepository{s} }

func (s *Store) Memberships() repository.MembershipRepository { return &membershipRepository{s} }

func (s *Store) Notifications() repository.NotificationRepository {
	return &notificationRepository{s}
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// WithinTx runs fn on a private copy of the data and publishes the copy if fn
// succeeds and ctx is still alive.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	work := s.st.clone()
	s.mu.RUnlock()

	if err := fn(ctx, &tx{st: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.st = work
	s.mu.Unlock()
	return nil
}

type tx struct {
	st *state
}

func (t *tx) read(f func(st *state) error) error { return f(t.st) }

func (t *tx) write(f func(st *state) error) error { return f(t.st) }

func (t *tx) Users() repository.UserRepository { return &userRepository{t} }

func (t *tx) Plans() repository.PlanRepository { return &planRepository{t} }

func (t *tx) Memberships() repository.MembershipRepository { return &membershipRepository{t} }

func (t *tx) Notifications() repository.NotificationRepository {
	return &notificationRepository{t}
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
