package controller

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/dirk.krummacker/sos-service/internal/contactstore"
	"gitlab.com/dirk.krummacker/sos-service/internal/model"
	"gitlab.com/dirk.krummacker/sos-service/internal/notify"
)

type stubAlerter struct {
	calls []string
}

func (a *stubAlerter) Alert(_ context.Context, userId string) (model.Report, error) {
	a.calls = append(a.calls, userId)
	return model.Report{FlowId: "f1", Outcomes: []model.Outcome{{Phone: "+1", Sent: true}}}, nil
}

// brokenRemote fails every write.
type brokenRemote struct{}

func (brokenRemote) Load(context.Context, string) ([]string, error) { return nil, nil }

func (brokenRemote) Save(context.Context, string, []string) error { return errors.New("read only") }

func newController(remote contactstore.RemoteStore) (*Controller, *notify.Recorder, *stubAlerter) {
	store := contactstore.NewStore(contactstore.NewMemoryDeviceBook(), remote, zerolog.Nop())
	notices := notify.NewRecorder()
	alerter := &stubAlerter{}
	return New(store, alerter, notices, zerolog.Nop()), notices, alerter
}

// TestSelectAndSave picks two numbers, saves them and expects a cleared selection.
func TestSelectAndSave(t *testing.T) {
	ctrl, notices, _ := newController(contactstore.NewMemoryRemoteStore())
	ctx := context.Background()

	_, err := ctrl.Dispatch(ctx, Command{Kind: SetSelected, UserId: "u1", Phone: "+420 111", Checked: true})
	require.NoError(t, err)
	res, err := ctrl.Dispatch(ctx, Command{Kind: ToggleSelected, UserId: "u1", Phone: "+420 222"})
	require.NoError(t, err)
	assert.Equal(t, []string{"+420 111", "+420 222"}, res.Selected)

	res, err = ctrl.Dispatch(ctx, Command{Kind: SaveSelection, UserId: "u1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"+420 111", "+420 222"}, res.Saved)
	assert.Equal(t, []string{"Contacts saved successfully"}, notices.Messages("u1"))

	res, err = ctrl.Dispatch(ctx, Command{Kind: ListSelection, UserId: "u1"})
	require.NoError(t, err)
	assert.Empty(t, res.Selected)
}

// TestSaveEmptySelection expects the "No contacts selected" notice.
func TestSaveEmptySelection(t *testing.T) {
	ctrl, notices, _ := newController(contactstore.NewMemoryRemoteStore())
	_, err := ctrl.Dispatch(context.Background(), Command{Kind: SaveSelection, UserId: "u1"})
	assert.ErrorIs(t, err, contactstore.ErrEmptySelection)
	assert.Equal(t, []string{"No contacts selected"}, notices.Messages("u1"))
}

// TestSaveFailureKeepsSelection expects the selection to survive a failed write.
func TestSaveFailureKeepsSelection(t *testing.T) {
	ctrl, notices, _ := newController(brokenRemote{})
	ctx := context.Background()
	ctrl.Dispatch(ctx, Command{Kind: SetSelected, UserId: "u1", Phone: "+420 111", Checked: true})

	res, err := ctrl.Dispatch(ctx, Command{Kind: SaveSelection, UserId: "u1"})
	assert.ErrorIs(t, err, contactstore.ErrRemoteWrite)
	assert.Equal(t, []string{"+420 111"}, res.Selected)
	assert.Equal(t, []string{"Failed to save contacts"}, notices.Messages("u1"))
}

// TestSelectionsArePerUser expects users not to see each other's picks.
func TestSelectionsArePerUser(t *testing.T) {
	ctrl, _, _ := newController(contactstore.NewMemoryRemoteStore())
	ctx := context.Background()
	ctrl.Dispatch(ctx, Command{Kind: SetSelected, UserId: "u1", Phone: "+1", Checked: true})
	res, err := ctrl.Dispatch(ctx, Command{Kind: ListSelection, UserId: "u2"})
	require.NoError(t, err)
	assert.Empty(t, res.Selected)

	ctrl.Dispatch(ctx, Command{Kind: ClearSelection, UserId: "u1"})
	res, _ = ctrl.Dispatch(ctx, Command{Kind: ListSelection, UserId: "u1"})
	assert.Empty(t, res.Selected)
}

// TestSearchContacts expects the name filter to be passed through.
func TestSearchContacts(t *testing.T) {
	ctrl, _, _ := newController(contactstore.NewMemoryRemoteStore())
	ctx := context.Background()
	require.NoError(t, ctrl.store.ImportDeviceContacts(ctx, "u1", []model.DeviceContact{
		{Name: "Anna", Phone: "+1"},
		{Name: "Bert", Phone: "+2"},
	}))
	res, err := ctrl.Dispatch(ctx, Command{Kind: SearchContacts, UserId: "u1", Query: "ANN"})
	require.NoError(t, err)
	require.Len(t, res.Contacts, 1)
	assert.Equal(t, "+1", res.Contacts[0].Phone)
}

// TestSendAlert expects the alert to be forwarded.
func TestSendAlert(t *testing.T) {
	ctrl, _, alerter := newController(contactstore.NewMemoryRemoteStore())
	res, err := ctrl.Dispatch(context.Background(), Command{Kind: SendAlert, UserId: "u1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, alerter.calls)
	assert.Equal(t, "f1", res.Report.FlowId)
}

// TestNoUserAndUnknownCommand covers the rejected commands.
func TestNoUserAndUnknownCommand(t *testing.T) {
	ctrl, notices, alerter := newController(contactstore.NewMemoryRemoteStore())
	_, err := ctrl.Dispatch(context.Background(), Command{Kind: SendAlert})
	assert.ErrorIs(t, err, contactstore.ErrNoUser)
	assert.Empty(t, alerter.calls)
	assert.Empty(t, notices.Messages(""))

	_, err = ctrl.Dispatch(context.Background(), Command{Kind: Kind(99), UserId: "u1"})
	assert.ErrorIs(t, err, ErrUnknownCommand)
	assert.Equal(t, "unknown", Kind(99).String())
}
