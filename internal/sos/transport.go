package sos

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Transport delivers one text message. There is no delivery receipt.
type Transport interface {
	Send(ctx context.Context, phone string, body string) error
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, phone string, body string) error

// Send implements Transport.
func (f TransportFunc) Send(ctx context.Context, phone string, body string) error {
	return f(ctx, phone, body)
}

// LogTransport only logs messages. It is used when no gateway is configured.
type LogTransport struct {
	Log zerolog.Logger
}

// Send implements Transport.
func (t LogTransport) Send(_ context.Context, phone string, body string) error {
	t.Log.Info().Str("to", phone).Str("body", body).Msg("dry run, message not sent")
	return nil
}

// HTTPGateway posts messages to an SMS gateway. The form fields To, From and Body are
// understood by Twilio-compatible APIs.
type HTTPGateway struct {
	URL      string
	Username string
	Password string
	From     string
	Client   *http.Client
}

// NewHTTPGateway creates a gateway client with the given request timeout.
func NewHTTPGateway(endpoint, username, password, from string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		URL:      endpoint,
		Username: username,
		Password: password,
		From:     from,
		Client:   &http.Client{Timeout: timeout},
	}
}

// Send implements Transport.
func (g *HTTPGateway) Send(ctx context.Context, phone string, body string) error {
	form := url.Values{}
	form.Set("To", phone)
	form.Set("Body", body)
	if g.From != "" {
		form.Set("From", g.From)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrap(err, "could not create gateway request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if g.Username != "" {
		req.SetBasicAuth(g.Username, g.Password)
	}

	client := g.Client
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(req)
	if err != nil {
		return errors.Wrap(err, "error making gateway request")
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return errors.Errorf("gateway answered %d: %s", res.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}
