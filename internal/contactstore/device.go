package contactstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gitlab.com/dirk.krummacker/sos-service/internal/model"
)

// maxInt is the largest possible int value
const maxInt = int(^uint(0) >> 1)

// Page restricts a listing. A zero Limit means no limit.
type Page struct {
	Limit  int
	Offset int
}

func (p Page) limit() int {
	if p.Limit <= 0 {
		return maxInt
	}
	return p.Limit
}

// offset treats a negative Offset as no offset.
func (p Page) offset() int {
	if p.Offset < 0 {
		return 0
	}
	return p.Offset
}

// DeviceBook is the device address book of each user.
type DeviceBook interface {
	// ListDeviceContacts returns the user's address book entries whose display name
	// contains filter, ignoring case. An empty filter matches everything. The listing
	// never fails; an unavailable book yields an empty result.
	ListDeviceContacts(ctx context.Context, userId string, filter string, page Page) []model.DeviceContact

	// ImportDeviceContacts replaces the user's address book.
	ImportDeviceContacts(ctx context.Context, userId string, contacts []model.DeviceContact) error
}

// SQLDeviceBook keeps address books in the device_contacts table.
type SQLDeviceBook struct {
	db  *sqlx.DB
	log zerolog.Logger

	// selectAll is a prepared statement for listing a user's whole address book.
	selectAll *sqlx.Stmt

	// selectLike is a prepared statement for listing entries matching a name pattern.
	selectLike *sqlx.Stmt
}

// NewSQLDeviceBook prepares all statements against db.
func NewSQLDeviceBook(db *sqlx.DB, log zerolog.Logger) (*SQLDeviceBook, error) {
	b := &SQLDeviceBook{db: db, log: log}
	var err error
	b.selectAll, err = db.Preparex(`
		SELECT id, user_id, name, phone FROM device_contacts
		WHERE user_id = ?
		ORDER BY name, id
		LIMIT ? OFFSET ?
	`)
	if err != nil {
		return nil, errors.Wrap(err, "prepare device contact listing")
	}
	b.selectLike, err = db.Preparex(`
		SELECT id, user_id, name, phone FROM device_contacts
		WHERE user_id = ? AND LOWER(name) LIKE ? ESCAPE '!'
		ORDER BY name, id
		LIMIT ? OFFSET ?
	`)
	if err != nil {
		return nil, errors.Wrap(err, "prepare device contact search")
	}
	return b, nil
}

// ListDeviceContacts implements DeviceBook.
func (b *SQLDeviceBook) ListDeviceContacts(ctx context.Context, userId string, filter string, page Page) []model.DeviceContact {
	contacts := []model.DeviceContact{}
	var err error
	if filter == "" {
		err = b.selectAll.SelectContext(ctx, &contacts, userId, page.limit(), page.offset())
	} else {
		err = b.selectLike.SelectContext(ctx, &contacts, userId, likePattern(filter), page.limit(), page.offset())
	}
	if err != nil {
		b.log.Warn().Err(err).Str("user", userId).Str("filter", filter).Msg("device contacts unavailable")
		return []model.DeviceContact{}
	}
	return contacts
}

// ImportDeviceContacts implements DeviceBook.
func (b *SQLDeviceBook) ImportDeviceContacts(ctx context.Context, userId string, contacts []model.DeviceContact) error {
	tx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin address book import")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM device_contacts WHERE user_id = ?`, userId); err != nil {
		return errors.Wrap(err, "clear address book")
	}
	for _, c := range contacts {
		c.UserId = userId
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO device_contacts (user_id, name, phone)
			VALUES (:user_id, :name, :phone)
		`, &c)
		if err != nil {
			return errors.Wrapf(err, "insert address book entry %q", c.Name)
		}
	}
	return errors.Wrap(tx.Commit(), "commit address book import")
}

// likePattern builds a case-insensitive substring pattern, escaping LIKE wildcards
// with '!'.
func likePattern(filter string) string {
	escaped := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(strings.ToLower(filter))
	return "%" + escaped + "%"
}

// MemoryDeviceBook is an in-process DeviceBook.
type MemoryDeviceBook struct {
	mu     sync.RWMutex
	nextId int64
	books  map[string][]model.DeviceContact
}

// NewMemoryDeviceBook returns an empty in-memory address book store.
func NewMemoryDeviceBook() *MemoryDeviceBook {
	return &MemoryDeviceBook{books: make(map[string][]model.DeviceContact)}
}

// ListDeviceContacts implements DeviceBook.
func (b *MemoryDeviceBook) ListDeviceContacts(_ context.Context, userId string, filter string, page Page) []model.DeviceContact {
	b.mu.RLock()
	defer b.mu.RUnlock()
	matches := FilterByName(b.books[userId], filter)
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Name != matches[j].Name {
			return matches[i].Name < matches[j].Name
		}
		return matches[i].Id < matches[j].Id
	})
	offset := page.offset()
	if offset >= len(matches) {
		return []model.DeviceContact{}
	}
	matches = matches[offset:]
	if limit := page.limit(); limit < len(matches) {
		matches = matches[:limit]
	}
	return matches
}

// ImportDeviceContacts implements DeviceBook.
func (b *MemoryDeviceBook) ImportDeviceContacts(_ context.Context, userId string, contacts []model.DeviceContact) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	book := make([]model.DeviceContact, 0, len(contacts))
	for _, c := range contacts {
		b.nextId++
		c.Id = b.nextId
		c.UserId = userId
		book = append(book, c)
	}
	b.books[userId] = book
	return nil
}

// FilterByName returns the entries whose name contains filter, ignoring case.
func FilterByName(contacts []model.DeviceContact, filter string) []model.DeviceContact {
	needle := strings.ToLower(filter)
	matches := []model.DeviceContact{}
	for _, c := range contacts {
		if strings.Contains(strings.ToLower(c.Name), needle) {
			matches = append(matches, c)
		}
	}
	return matches
}
