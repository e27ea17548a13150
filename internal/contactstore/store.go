// Package contactstore reads device address books and keeps each user's list of
// emergency contacts.
package contactstore

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gitlab.com/dirk.krummacker/sos-service/internal/model"
)

var (
	// ErrNoUser is returned when an operation needs a signed-in user and there is none.
	ErrNoUser = errors.New("no authenticated user")

	// ErrEmptySelection is returned when there is nothing to save.
	ErrEmptySelection = errors.New("no contacts selected")

	// ErrRemoteRead marks a failure to read the remote contact list.
	ErrRemoteRead = errors.New("failed to retrieve existing contacts")

	// ErrRemoteWrite marks a failure to write the remote contact list.
	ErrRemoteWrite = errors.New("failed to save contacts")
)

// Store combines the address books with the remote contact lists.
type Store struct {
	book   DeviceBook
	remote RemoteStore
	log    zerolog.Logger
}

// NewStore creates a Store.
func NewStore(book DeviceBook, remote RemoteStore, log zerolog.Logger) *Store {
	return &Store{book: book, remote: remote, log: log}
}

// ListDeviceContacts returns the user's address book, filtered by name.
func (s *Store) ListDeviceContacts(ctx context.Context, userId string, filter string, page Page) ([]model.DeviceContact, error) {
	if userId == "" {
		return nil, ErrNoUser
	}
	return s.book.ListDeviceContacts(ctx, userId, filter, page), nil
}

// ImportDeviceContacts replaces the user's address book.
func (s *Store) ImportDeviceContacts(ctx context.Context, userId string, contacts []model.DeviceContact) error {
	if userId == "" {
		return ErrNoUser
	}
	return s.book.ImportDeviceContacts(ctx, userId, contacts)
}

// EmergencyContacts reads the user's saved contact list.
func (s *Store) EmergencyContacts(ctx context.Context, userId string) ([]string, error) {
	if userId == "" {
		return nil, ErrNoUser
	}
	phones, err := s.remote.Load(ctx, userId)
	if err != nil {
		return nil, &remoteError{kind: ErrRemoteRead, cause: err}
	}
	return phones, nil
}

// PersistSelection merges selection into the user's saved list and returns the list as
// written. The saved list never shrinks through this path. A concurrent writer between
// the read and the write may be overwritten.
func (s *Store) PersistSelection(ctx context.Context, userId string, selection []string) ([]string, error) {
	if userId == "" {
		return nil, ErrNoUser
	}
	if len(selection) == 0 {
		return nil, ErrEmptySelection
	}
	s.log.Debug().Str("user", userId).Strs("selected", selection).Msg("saving selected contacts")

	existing, err := s.remote.Load(ctx, userId)
	if err != nil {
		return nil, &remoteError{kind: ErrRemoteRead, cause: err}
	}
	merged := Merge(existing, selection)
	if err := s.remote.Save(ctx, userId, merged); err != nil {
		return nil, &remoteError{kind: ErrRemoteWrite, cause: err}
	}
	return merged, nil
}

// Merge returns the union of existing and selected. Existing numbers keep their order,
// new numbers follow in the order given. Duplicates and blank numbers are dropped.
func Merge(existing []string, selected []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(selected))
	merged := make([]string, 0, len(existing)+len(selected))
	for _, list := range [][]string{existing, selected} {
		for _, phone := range list {
			if phone == "" {
				continue
			}
			if _, ok := seen[phone]; ok {
				continue
			}
			seen[phone] = struct{}{}
			merged = append(merged, phone)
		}
	}
	return merged
}

// remoteError ties a remote store failure to its category.
type remoteError struct {
	kind  error
	cause error
}

func (e *remoteError) Error() string { return e.kind.Error() + ": " + e.cause.Error() }

func (e *remoteError) Is(target error) bool { return target == e.kind }

func (e *remoteError) Unwrap() error { return e.cause }
