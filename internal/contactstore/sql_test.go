package contactstore

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/dirk.krummacker/sos-service/internal/model"
)

// createMockObjects builds a mock database handle and a mock object for defining our expected SQL
// calls.
func createMockObjects(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	return db, mock
}

// expectPreparedStatements instructs the mock object to expect that the address book statements
// are being prepared.
func expectPreparedStatements(mock sqlmock.Sqlmock) {
	mock.ExpectPrepare("SELECT id, user_id, name, phone FROM device_contacts")
	mock.ExpectPrepare("SELECT id, user_id, name, phone FROM device_contacts")
}

func newDeviceBook(t *testing.T, db *sql.DB) *SQLDeviceBook {
	book, err := NewSQLDeviceBook(sqlx.NewDb(db, "mysql"), zerolog.Nop())
	require.NoError(t, err)
	return book
}

// TestSQLListDeviceContactsFiltered expects a lower-cased LIKE pattern for the name filter.
func TestSQLListDeviceContactsFiltered(t *testing.T) {
	db, mock := createMockObjects(t)
	defer db.Close()

	expectPreparedStatements(mock)
	rows := mock.NewRows([]string{"id", "user_id", "name", "phone"}).
		AddRow(1, "u1", "Anna Novak", "+420 222").
		AddRow(2, "u1", "Joanna Smith", "+420 111")
	mock.ExpectQuery("SELECT id, user_id, name, phone FROM device_contacts").
		WithArgs("u1", "%ann%", 20, 0).
		WillReturnRows(rows)

	book := newDeviceBook(t, db)
	contacts := book.ListDeviceContacts(context.Background(), "u1", "Ann", Page{Limit: 20})
	require.Len(t, contacts, 2)
	assert.Equal(t, "Anna Novak", contacts[0].Name)
	assert.Equal(t, "+420 111", contacts[1].Phone)
	assert.Equal(t, "u1", contacts[1].UserId)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

// TestSQLListDeviceContactsUnavailable expects an empty result instead of an error.
func TestSQLListDeviceContactsUnavailable(t *testing.T) {
	db, mock := createMockObjects(t)
	defer db.Close()

	expectPreparedStatements(mock)
	mock.ExpectQuery("SELECT id, user_id, name, phone FROM device_contacts").
		WithArgs("u1", maxInt, 5).
		WillReturnError(errors.New("bad connection"))

	book := newDeviceBook(t, db)
	contacts := book.ListDeviceContacts(context.Background(), "u1", "", Page{Offset: 5})
	assert.NotNil(t, contacts)
	assert.Empty(t, contacts)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

// TestSQLListDeviceContactsNegativeOffset expects a negative offset to be sent as zero.
func TestSQLListDeviceContactsNegativeOffset(t *testing.T) {
	db, mock := createMockObjects(t)
	defer db.Close()

	expectPreparedStatements(mock)
	rows := mock.NewRows([]string{"id", "user_id", "name", "phone"}).
		AddRow(1, "u1", "Anna Novak", "+420 222")
	mock.ExpectQuery("SELECT id, user_id, name, phone FROM device_contacts").
		WithArgs("u1", maxInt, 0).
		WillReturnRows(rows)

	book := newDeviceBook(t, db)
	contacts := book.ListDeviceContacts(context.Background(), "u1", "", Page{Offset: -3})
	require.Len(t, contacts, 1)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

// TestSQLImportDeviceContacts expects the old book to be replaced in one transaction.
func TestSQLImportDeviceContacts(t *testing.T) {
	db, mock := createMockObjects(t)
	defer db.Close()

	expectPreparedStatements(mock)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM device_contacts").
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("INSERT INTO device_contacts").
		WithArgs("u1", "Anna Novak", "+420 222").
		WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectCommit()

	book := newDeviceBook(t, db)
	err := book.ImportDeviceContacts(context.Background(), "u1", []model.DeviceContact{
		{Name: "Anna Novak", Phone: "+420 222"},
	})
	assert.NoError(t, err)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

// TestSQLRemoteLoad expects the numbers in stored order.
func TestSQLRemoteLoad(t *testing.T) {
	db, mock := createMockObjects(t)
	defer db.Close()

	mock.ExpectQuery("SELECT phone FROM emergency_contacts").
		WithArgs("u1").
		WillReturnRows(mock.NewRows([]string{"phone"}).AddRow("+420 111").AddRow("+420 222"))

	store := NewSQLRemoteStore(sqlx.NewDb(db, "mysql"))
	phones, err := store.Load(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"+420 111", "+420 222"}, phones)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

// TestSQLRemoteSave expects a full overwrite with positions.
func TestSQLRemoteSave(t *testing.T) {
	db, mock := createMockObjects(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM emergency_contacts").
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO emergency_contacts").
		WithArgs("u1", 0, "+420 111").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO emergency_contacts").
		WithArgs("u1", 1, "+420 333").
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	store := NewSQLRemoteStore(sqlx.NewDb(db, "mysql"))
	assert.NoError(t, store.Save(context.Background(), "u1", []string{"+420 111", "+420 333"}))

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

// TestSQLRemoteSaveRollsBack expects a failed insert to roll the transaction back.
func TestSQLRemoteSaveRollsBack(t *testing.T) {
	db, mock := createMockObjects(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM emergency_contacts").
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO emergency_contacts").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	store := NewSQLRemoteStore(sqlx.NewDb(db, "mysql"))
	err := store.Save(context.Background(), "u1", []string{"+420 111"})
	assert.ErrorContains(t, err, "disk full")

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}
