// Package storetest provides an in-memory store.Store with fault injection.
package storetest

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/internal/store"
	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/pkg/models"
)

// OpCommit names the commit step of RunInTransaction for fault injection.
const OpCommit = "Commit"

type state struct {
	users map[int64]models.User
	logs  []models.UserEventLog
}

func (s state) clone() state {
	c := state{users: make(map[int64]models.User, len(s.users)), logs: make([]models.UserEventLog, len(s.logs))}
	for id, u := range s.users {
		c.users[id] = u
	}
	copy(c.logs, s.logs)
	return c
}

type fault struct {
	err  error
	once bool
}

// Store keeps users and audit records in memory. Transactions are serialized
// and roll back by restoring a snapshot.
type Store struct {
	txMu sync.Mutex

	mu       sync.Mutex
	state    state
	nextUser int64
	nextLog  int64
	faults   map[string]fault
	calls    map[string]int
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		state:  state{users: make(map[int64]models.User)},
		faults: make(map[string]fault),
		calls:  make(map[string]int),
	}
}

// FailOn makes every call to op return err until cleared with a nil err.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, op)
		return
	}
	s.faults[op] = fault{err: err}
}

// FailNext makes only the next call to op return err.
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = fault{err: err, once: true}
}

// Calls reports how many times op was invoked.
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Seed inserts u directly, assigning an id when it has none.
func (s *Store) Seed(u models.User) *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == 0 {
		s.nextUser++
		u.ID = s.nextUser
	} else if u.ID > s.nextUser {
		s.nextUser = u.ID
	}
	s.state.users[u.ID] = u
	return &u
}

// User returns the stored copy of id.
func (s *Store) User(id int64) (models.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.state.users[id]
	return u, ok
}

// EventLogs returns every audit record in insertion order.
func (s *Store) EventLogs() []models.UserEventLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.UserEventLog, len(s.state.logs))
	copy(out, s.state.logs)
	return out
}

// enter records the call and returns any injected fault. Caller holds mu.
func (s *Store) enter(op string) error {
	s.calls[op]++
	f, ok := s.faults[op]
	if !ok {
		return nil
	}
	if f.once {
		delete(s.faults, op)
	}
	return f.err
}

func (s *Store) Close() error { return nil }

func (s *Store) CreateUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("CreateUser"); err != nil {
		return err
	}
	for _, existing := range s.state.users {
		if existing.Email == u.Email || existing.Nickname == u.Nickname {
			return fmt.Errorf("create user %s: %w", u.Email, store.ErrConflict)
		}
	}
	s.nextUser++
	u.ID = s.nextUser
	s.state.users[u.ID] = *u
	return nil
}

func (s *Store) GetUser(_ context.Context, id int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetUser"); err != nil {
		return nil, err
	}
	u, ok := s.state.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, store.ErrNotFound)
	}
	return &u, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetUserByEmail"); err != nil {
		return nil, err
	}
	for _, u := range s.state.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, fmt.Errorf("user %s: %w", email, store.ErrNotFound)
}

func (s *Store) UpdateUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("UpdateUser"); err != nil {
		return err
	}
	existing, ok := s.state.users[u.ID]
	if !ok {
		return fmt.Errorf("update user %d: %w", u.ID, store.ErrNotFound)
	}
	updated := *u
	updated.PasswordHash = existing.PasswordHash
	updated.CreatedAt = existing.CreatedAt
	s.state.users[u.ID] = updated
	return nil
}

func (s *Store) LockUser(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("LockUser"); err != nil {
		return false, err
	}
	_, ok := s.state.users[id]
	return ok, nil
}

func (s *Store) DeleteUser(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("DeleteUser"); err != nil {
		return err
	}
	if _, ok := s.state.users[id]; !ok {
		return fmt.Errorf("delete user %d: %w", id, store.ErrNotFound)
	}
	delete(s.state.users, id)
	return nil
}

func (s *Store) ScheduleDeletion(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ScheduleDeletion"); err != nil {
		return err
	}
	u, ok := s.state.users[id]
	if !ok || u.IsDeleted {
		return fmt.Errorf("schedule deletion of user %d: %w", id, store.ErrNotFound)
	}
	u.DeletedAt = &at
	s.state.users[id] = u
	return nil
}

func (s *Store) RecoverUser(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("RecoverUser"); err != nil {
		return err
	}
	u, ok := s.state.users[id]
	if !ok || !u.PendingDeletion() {
		return fmt.Errorf("recover user %d: %w", id, store.ErrNotFound)
	}
	u.DeletedAt = nil
	s.state.users[id] = u
	return nil
}

func (s *Store) AnonymizeUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("AnonymizeUser"); err != nil {
		return err
	}
	cur, ok := s.state.users[u.ID]
	if !ok || !cur.PendingDeletion() {
		return fmt.Errorf("anonymize user %d: %w", u.ID, store.ErrNotFound)
	}
	cur.Email = u.Email
	cur.Nickname = u.Nickname
	cur.ProfileImageURL = ""
	cur.ProfileImageURLSmall = ""
	cur.Content = ""
	cur.FCMToken = ""
	cur.IsDeleted = true
	cur.UpdatedAt = u.UpdatedAt
	s.state.users[u.ID] = cur
	return nil
}

func (s *Store) ListPurgeable(_ context.Context, before time.Time, limit int) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListPurgeable"); err != nil {
		return nil, err
	}
	var ids []int64
	for id, u := range s.state.users {
		if !u.IsDeleted && u.DeletedAt != nil && !u.DeletedAt.After(before) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *Store) AppendEventLog(_ context.Context, l *models.UserEventLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("AppendEventLog"); err != nil {
		return err
	}
	s.nextLog++
	l.ID = s.nextLog
	s.state.logs = append(s.state.logs, *l)
	return nil
}

func (s *Store) FinishEventLog(_ context.Context, l *models.UserEventLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("FinishEventLog"); err != nil {
		return err
	}
	if !l.Terminal() {
		return fmt.Errorf("finish event log %d: status %s is not terminal", l.ID, l.Status)
	}
	for i := range s.state.logs {
		if s.state.logs[i].ID != l.ID {
			continue
		}
		if s.state.logs[i].Terminal() {
			return fmt.Errorf("finish event log %d: %w", l.ID, models.ErrEventLogFinalized)
		}
		s.state.logs[i] = *l
		return nil
	}
	return fmt.Errorf("finish event log %d: %w", l.ID, store.ErrNotFound)
}

func (s *Store) ListEventLogs(_ context.Context, userID int64) ([]*models.UserEventLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListEventLogs"); err != nil {
		return nil, err
	}
	var out []*models.UserEventLog
	for _, l := range s.state.logs {
		if l.UserID == userID {
			l := l
			out = append(out, &l)
		}
	}
	return out, nil
}

func (s *Store) Savepoint(_ context.Context, _ string, fn func() error) error {
	return fn()
}

func (s *Store) RunInTransaction(_ context.Context, _ *sql.TxOptions, fn func(tx store.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snapshot := s.snapshot()
	if err := fn(&txStore{Store: s}); err != nil {
		s.restore(snapshot)
		return err
	}

	s.mu.Lock()
	err := s.enter(OpCommit)
	s.mu.Unlock()
	if err != nil {
		s.restore(snapshot)
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) snapshot() state {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

func (s *Store) restore(st state) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

type txStore struct {
	*Store
}

func (t *txStore) RunInTransaction(_ context.Context, _ *sql.TxOptions, fn func(tx store.Store) error) error {
	return fn(t)
}

func (t *txStore) Savepoint(_ context.Context, _ string, fn func() error) error {
	snapshot := t.snapshot()
	if err := fn(); err != nil {
		t.restore(snapshot)
		return err
	}
	return nil
}
