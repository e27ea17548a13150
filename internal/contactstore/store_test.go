package contactstore

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/dirk.krummacker/sos-service/internal/model"
)

// failingRemote fails every read or every write.
type failingRemote struct {
	failLoad bool
	inner    *MemoryRemoteStore
}

func (f *failingRemote) Load(ctx context.Context, userId string) ([]string, error) {
	if f.failLoad {
		return nil, errors.New("connection refused")
	}
	return f.inner.Load(ctx, userId)
}

func (f *failingRemote) Save(ctx context.Context, userId string, phones []string) error {
	return errors.New("permission denied")
}

func newMemoryStore() (*Store, *MemoryRemoteStore) {
	remote := NewMemoryRemoteStore()
	return NewStore(NewMemoryDeviceBook(), remote, zerolog.Nop()), remote
}

// TestPersistSelectionMerges expects the saved list to be the union of old and new.
func TestPersistSelectionMerges(t *testing.T) {
	store, remote := newMemoryStore()
	ctx := context.Background()
	require.NoError(t, remote.Save(ctx, "u1", []string{"+420 111", "+420 222"}))

	merged, err := store.PersistSelection(ctx, "u1", []string{"+420 333", "+420 111"})
	require.NoError(t, err)
	assert.Equal(t, []string{"+420 111", "+420 222", "+420 333"}, merged)

	saved, err := store.EmergencyContacts(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, merged, saved)
}

// TestPersistSelectionIsIdempotent applies the same selection twice.
func TestPersistSelectionIsIdempotent(t *testing.T) {
	store, _ := newMemoryStore()
	ctx := context.Background()
	selection := []string{"+15551234567", "+15557654321"}

	once, err := store.PersistSelection(ctx, "u1", selection)
	require.NoError(t, err)
	twice, err := store.PersistSelection(ctx, "u1", selection)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

// TestPersistSelectionWithoutUser expects no remote access at all.
func TestPersistSelectionWithoutUser(t *testing.T) {
	store := NewStore(NewMemoryDeviceBook(), &failingRemote{failLoad: true}, zerolog.Nop())
	_, err := store.PersistSelection(context.Background(), "", []string{"+420 111"})
	assert.ErrorIs(t, err, ErrNoUser)
	_, err = store.EmergencyContacts(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoUser)
}

// TestPersistEmptySelection expects that nothing is written.
func TestPersistEmptySelection(t *testing.T) {
	store, _ := newMemoryStore()
	_, err := store.PersistSelection(context.Background(), "u1", nil)
	assert.ErrorIs(t, err, ErrEmptySelection)
}

// TestPersistSelectionRemoteFailures expects read and write failures to be told apart.
func TestPersistSelectionRemoteFailures(t *testing.T) {
	store := NewStore(NewMemoryDeviceBook(), &failingRemote{failLoad: true}, zerolog.Nop())
	_, err := store.PersistSelection(context.Background(), "u1", []string{"+420 111"})
	assert.ErrorIs(t, err, ErrRemoteRead)
	assert.Contains(t, err.Error(), "connection refused")

	store = NewStore(NewMemoryDeviceBook(), &failingRemote{inner: NewMemoryRemoteStore()}, zerolog.Nop())
	_, err = store.PersistSelection(context.Background(), "u1", []string{"+420 111"})
	assert.ErrorIs(t, err, ErrRemoteWrite)
	assert.NotErrorIs(t, err, ErrRemoteRead)
}

// TestMerge covers ordering and duplicates.
func TestMerge(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, Merge([]string{"a", "b"}, []string{"b", "c", "c", ""}))
	assert.Equal(t, []string{"x"}, Merge(nil, []string{"x"}))
	assert.Empty(t, Merge(nil, nil))
	first := Merge([]string{"a"}, []string{"b"})
	assert.Equal(t, first, Merge(first, []string{"b"}))
}

// TestMemoryDeviceBookFilter expects a case-insensitive substring match on the name.
func TestMemoryDeviceBookFilter(t *testing.T) {
	store, _ := newMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.ImportDeviceContacts(ctx, "u1", []model.DeviceContact{
		{Name: "Joanna Smith", Phone: "+420 111"},
		{Name: "ANNA Novak", Phone: "+420 222"},
		{Name: "Bob Dylan", Phone: "+420 333"},
		{Name: "Hannes Berg", Phone: "+420 444"},
	}))
	require.NoError(t, store.ImportDeviceContacts(ctx, "u2", []model.DeviceContact{
		{Name: "Annette", Phone: "+420 555"},
	}))

	matches, err := store.ListDeviceContacts(ctx, "u1", "ann", Page{})
	require.NoError(t, err)
	var names []string
	for _, c := range matches {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"ANNA Novak", "Hannes Berg", "Joanna Smith"}, names)

	all, err := store.ListDeviceContacts(ctx, "u1", "", Page{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, "Bob Dylan", all[0].Name)

	none, err := store.ListDeviceContacts(ctx, "u1", "", Page{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, none)

	// a negative offset starts at the beginning
	first, err := store.ListDeviceContacts(ctx, "u1", "", Page{Limit: 1, Offset: -1})
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "ANNA Novak", first[0].Name)
}
