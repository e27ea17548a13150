package contactstore

import (
	"context"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// RemoteStore holds the per-user list of emergency contact numbers, the equivalent of
// users/<userId>/contacts. Only full reads and full overwrites exist.
type RemoteStore interface {
	Load(ctx context.Context, userId string) ([]string, error)
	Save(ctx context.Context, userId string, phones []string) error
}

// SQLRemoteStore keeps the lists in the emergency_contacts table, one row per number.
type SQLRemoteStore struct {
	db *sqlx.DB
}

// NewSQLRemoteStore wraps db.
func NewSQLRemoteStore(db *sqlx.DB) *SQLRemoteStore {
	return &SQLRemoteStore{db: db}
}

// Load implements RemoteStore.
func (s *SQLRemoteStore) Load(ctx context.Context, userId string) ([]string, error) {
	phones := []string{}
	err := s.db.SelectContext(ctx, &phones, `
		SELECT phone FROM emergency_contacts WHERE user_id = ? ORDER BY position
	`, userId)
	if err != nil {
		return nil, errors.Wrapf(err, "load contacts of user %s", userId)
	}
	return phones, nil
}

// Save implements RemoteStore. The previous list is replaced within one transaction.
func (s *SQLRemoteStore) Save(ctx context.Context, userId string, phones []string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin contact list write")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM emergency_contacts WHERE user_id = ?`, userId); err != nil {
		return errors.Wrapf(err, "clear contacts of user %s", userId)
	}
	for position, phone := range phones {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO emergency_contacts (user_id, position, phone) VALUES (?, ?, ?)
		`, userId, position, phone)
		if err != nil {
			return errors.Wrapf(err, "write contact %d of user %s", position, userId)
		}
	}
	return errors.Wrap(tx.Commit(), "commit contact list write")
}

// MemoryRemoteStore is an in-process RemoteStore.
type MemoryRemoteStore struct {
	mu    sync.RWMutex
	lists map[string][]string
}

// NewMemoryRemoteStore returns an empty store.
func NewMemoryRemoteStore() *MemoryRemoteStore {
	return &MemoryRemoteStore{lists: make(map[string][]string)}
}

// Load implements RemoteStore.
func (s *MemoryRemoteStore) Load(_ context.Context, userId string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string{}, s.lists[userId]...), nil
}

// Save implements RemoteStore.
func (s *MemoryRemoteStore) Save(_ context.Context, userId string, phones []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[userId] = append([]string{}, phones...)
	return nil
}
