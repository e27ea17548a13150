// Package controller handles the commands of the app's screens: the contact picker
// and the alert button.
package controller

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gitlab.com/dirk.krummacker/sos-service/internal/contactstore"
	"gitlab.com/dirk.krummacker/sos-service/internal/model"
	"gitlab.com/dirk.krummacker/sos-service/internal/notify"
)

// Kind enumerates the commands.
type Kind int

const (
	SetSelected Kind = iota + 1
	ToggleSelected
	ClearSelection
	ListSelection
	SearchContacts
	SaveSelection
	SendAlert
)

func (k Kind) String() string {
	switch k {
	case SetSelected:
		return "set_selected"
	case ToggleSelected:
		return "toggle_selected"
	case ClearSelection:
		return "clear_selection"
	case ListSelection:
		return "list_selection"
	case SearchContacts:
		return "search_contacts"
	case SaveSelection:
		return "save_selection"
	case SendAlert:
		return "send_alert"
	}
	return "unknown"
}

// ErrUnknownCommand is returned for a command kind Dispatch does not know.
var ErrUnknownCommand = errors.New("unknown command")

// Command is one user action. Only the fields relevant to its Kind are read.
type Command struct {
	Kind    Kind
	UserId  string
	Phone   string
	Checked bool
	Query   string
	Page    contactstore.Page
}

// Result carries what a command produced.
type Result struct {
	Contacts []model.DeviceContact `json:"contacts,omitempty"`
	Selected []string              `json:"selected,omitempty"`
	Saved    []string              `json:"saved,omitempty"`
	Report   *model.Report         `json:"report,omitempty"`
}

// Alerter runs a manual SOS flow.
type Alerter interface {
	Alert(ctx context.Context, userId string) (model.Report, error)
}

// Controller dispatches commands. It owns the selection set of every user.
type Controller struct {
	store    *contactstore.Store
	alerter  Alerter
	notifier notify.Notifier
	log      zerolog.Logger

	mu         sync.Mutex
	selections map[string]*contactstore.Selection
}

// New creates a Controller.
func New(store *contactstore.Store, alerter Alerter, notifier notify.Notifier, log zerolog.Logger) *Controller {
	return &Controller{
		store:      store,
		alerter:    alerter,
		notifier:   notifier,
		log:        log,
		selections: make(map[string]*contactstore.Selection),
	}
}

func (c *Controller) selection(userId string) *contactstore.Selection {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.selections[userId]
	if !ok {
		s = contactstore.NewSelection()
		c.selections[userId] = s
	}
	return s
}

// Dispatch executes a command. Every command needs a signed-in user; without one
// contactstore.ErrNoUser is returned and nothing happens.
func (c *Controller) Dispatch(ctx context.Context, cmd Command) (Result, error) {
	if cmd.UserId == "" {
		return Result{}, contactstore.ErrNoUser
	}
	c.log.Debug().Str("user", cmd.UserId).Stringer("command", cmd.Kind).Msg("dispatching command")

	switch cmd.Kind {
	case SetSelected:
		s := c.selection(cmd.UserId)
		s.Set(cmd.Phone, cmd.Checked)
		return Result{Selected: s.Numbers()}, nil
	case ToggleSelected:
		s := c.selection(cmd.UserId)
		s.Toggle(cmd.Phone)
		return Result{Selected: s.Numbers()}, nil
	case ClearSelection:
		c.selection(cmd.UserId).Clear()
		return Result{Selected: []string{}}, nil
	case ListSelection:
		return Result{Selected: c.selection(cmd.UserId).Numbers()}, nil
	case SearchContacts:
		contacts, err := c.store.ListDeviceContacts(ctx, cmd.UserId, cmd.Query, cmd.Page)
		return Result{Contacts: contacts}, err
	case SaveSelection:
		return c.save(ctx, cmd.UserId)
	case SendAlert:
		report, err := c.alerter.Alert(ctx, cmd.UserId)
		return Result{Report: &report}, err
	}
	return Result{}, errors.Wrapf(ErrUnknownCommand, "kind %d", cmd.Kind)
}

func (c *Controller) save(ctx context.Context, userId string) (Result, error) {
	s := c.selection(userId)
	saved, err := c.store.PersistSelection(ctx, userId, s.Numbers())
	switch {
	case err == nil:
		s.Clear()
		c.notifier.Notify(userId, model.Notice{Kind: model.NoticeInfo, Message: "Contacts saved successfully"})
		return Result{Saved: saved, Selected: []string{}}, nil
	case errors.Is(err, contactstore.ErrEmptySelection):
		c.notifier.Notify(userId, model.Notice{Kind: model.NoticeInfo, Message: "No contacts selected"})
	case errors.Is(err, contactstore.ErrRemoteRead):
		c.log.Error().Err(err).Str("user", userId).Msg("database error")
		c.notifier.Notify(userId, model.Notice{Kind: model.NoticeError, Message: "Failed to retrieve existing contacts"})
	case errors.Is(err, contactstore.ErrRemoteWrite):
		c.log.Error().Err(err).Str("user", userId).Msg("database error")
		c.notifier.Notify(userId, model.Notice{Kind: model.NoticeError, Message: "Failed to save contacts"})
	}
	return Result{Selected: s.Numbers()}, err
}
