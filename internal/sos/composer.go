// Package sos formats emergency messages and sends them to a list of contacts.
package sos

import (
	"context"
	"strconv"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gitlab.com/dirk.krummacker/sos-service/internal/model"
)

// MessagePrefix is the fixed part of every SOS message.
const MessagePrefix = "Emergency! I need help immediately. I am in danger. Here is my location: "

// ErrNoContacts is returned when there is nobody to send the message to.
var ErrNoContacts = errors.New("no contact phone numbers found")

// MapLink returns a map search link for the location.
func MapLink(loc model.Location) string {
	return "https://www.google.com/maps/search/?api=1&query=" +
		strconv.FormatFloat(loc.Latitude, 'f', -1, 64) + "," +
		strconv.FormatFloat(loc.Longitude, 'f', -1, 64)
}

// FormatMessage returns the SOS text for the location.
func FormatMessage(loc model.Location) string {
	return MessagePrefix + MapLink(loc)
}

// Composer sends SOS messages through a Transport.
type Composer struct {
	transport Transport
	log       zerolog.Logger
}

// NewComposer creates a Composer.
func NewComposer(transport Transport, log zerolog.Logger) *Composer {
	return &Composer{transport: transport, log: log}
}

// ComposeAndSend sends one message per contact. A failed send is recorded in the report
// and the remaining contacts are still attempted. With no contacts nothing is sent and
// ErrNoContacts is returned together with a report flagged NoContacts.
func (c *Composer) ComposeAndSend(ctx context.Context, loc model.Location, contacts []string) (model.Report, error) {
	message := FormatMessage(loc)
	report := model.Report{Message: message, Outcomes: []model.Outcome{}}
	if len(contacts) == 0 {
		report.NoContacts = true
		return report, ErrNoContacts
	}
	for _, phone := range contacts {
		outcome := model.Outcome{Phone: phone}
		if err := c.send(ctx, phone, message); err != nil {
			outcome.Error = err.Error()
			c.log.Warn().Err(err).Str("phone", phone).Msg("failed to send SOS message")
		} else {
			outcome.Sent = true
			c.log.Info().Str("phone", phone).Msg("SOS message sent")
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}
	return report, nil
}

// send isolates one recipient, including transports that panic.
func (c *Composer) send(ctx context.Context, phone string, message string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("transport panic: %v", r)
		}
	}()
	return c.transport.Send(ctx, phone, message)
}
