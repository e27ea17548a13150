// Package trigger runs the SOS flow: permission check, location fetch, contact
// retrieval and dispatch. A flow starts from a detected shake or from a manual alert.
package trigger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gitlab.com/dirk.krummacker/sos-service/internal/contactstore"
	"gitlab.com/dirk.krummacker/sos-service/internal/model"
	"gitlab.com/dirk.krummacker/sos-service/internal/notify"
	"gitlab.com/dirk.krummacker/sos-service/internal/platform"
	"gitlab.com/dirk.krummacker/sos-service/internal/shake"
	"gitlab.com/dirk.krummacker/sos-service/internal/sos"
)

var (
	// ErrBusy is returned when a flow for the user is already in progress.
	ErrBusy = errors.New("an SOS flow is already in progress")

	// ErrPermissionDenied is returned when the device lacks a required permission.
	ErrPermissionDenied = errors.New("location and SMS permissions are required")

	// ErrNoLocation is returned when no location fix is available.
	ErrNoLocation = errors.New("failed to get location")

	// ErrContactsUnavailable is returned when the saved contacts cannot be read.
	ErrContactsUnavailable = errors.New("failed to retrieve contacts")
)

// Required lists the permissions an SOS flow needs.
var Required = []model.Permission{model.SendSMS, model.FineLocation}

// ContactSource reads a user's saved emergency contacts.
type ContactSource interface {
	EmergencyContacts(ctx context.Context, userId string) ([]string, error)
}

// Dispatcher sends the SOS message to the contacts.
type Dispatcher interface {
	ComposeAndSend(ctx context.Context, loc model.Location, contacts []string) (model.Report, error)
}

// Origin tells what started a flow.
type Origin string

const (
	OriginShake  Origin = "shake"
	OriginManual Origin = "manual"
)

// Config tunes the service.
type Config struct {
	// FlowTimeout bounds the total duration of one flow. Zero means no bound.
	FlowTimeout time.Duration

	// DetectorOptions are applied to every user's shake detector.
	DetectorOptions []shake.Option
}

// Service owns one Engine per user.
type Service struct {
	perms      platform.PermissionChecker
	locator    platform.Locator
	contacts   ContactSource
	dispatcher Dispatcher
	notifier   notify.Notifier
	log        zerolog.Logger
	cfg        Config

	mu      sync.Mutex
	engines map[string]*Engine

	// flows counts the flows in progress; idle is signalled when it drops to zero.
	flowMu sync.Mutex
	idle   *sync.Cond
	flows  int
}

// NewService wires the flow to its collaborators.
func NewService(perms platform.PermissionChecker, locator platform.Locator, contacts ContactSource,
	dispatcher Dispatcher, notifier notify.Notifier, log zerolog.Logger, cfg Config) *Service {
	s := &Service{
		perms:      perms,
		locator:    locator,
		contacts:   contacts,
		dispatcher: dispatcher,
		notifier:   notifier,
		log:        log,
		cfg:        cfg,
		engines:    make(map[string]*Engine),
	}
	s.idle = sync.NewCond(&s.flowMu)
	return s
}

// engine returns the user's engine, creating it on first use.
func (s *Service) engine(userId string) *Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.engines[userId]
	if !ok {
		e = &Engine{userId: userId, svc: s}
		e.detector = shake.NewDetector(e.onShake, s.cfg.DetectorOptions...)
		s.engines[userId] = e
		s.log.Debug().Str("user", userId).Msg("shake detector armed")
	}
	return e
}

// Arm makes sure the user's detector exists and shows the foreground notice.
func (s *Service) Arm(userId string) {
	s.engine(userId)
	s.notifier.Notify(userId, model.Notice{
		Kind:    model.NoticeForeground,
		Title:   "Shake Service",
		Message: "Shake Service is running in the foreground",
	})
}

// Observe feeds accelerometer samples of a user's device to the user's detector. It
// returns the number of accepted shakes. Flows started by a shake run in the background.
func (s *Service) Observe(userId string, samples []model.Sample) int {
	if userId == "" {
		return 0
	}
	e := s.engine(userId)
	shakes := 0
	for _, sample := range samples {
		if e.detector.Observe(sample) {
			shakes++
		}
	}
	return shakes
}

// Alert runs a flow for the user synchronously, as the alert button does.
func (s *Service) Alert(ctx context.Context, userId string) (model.Report, error) {
	if userId == "" {
		return model.Report{}, contactstore.ErrNoUser
	}
	e := s.engine(userId)
	if !e.begin() {
		return model.Report{}, ErrBusy
	}
	s.startFlow()
	defer s.endFlow()
	return e.run(ctx, OriginManual)
}

// State returns the user's current flow state.
func (s *Service) State(userId string) State {
	s.mu.Lock()
	e, ok := s.engines[userId]
	s.mu.Unlock()
	if !ok {
		return Idle
	}
	return e.State()
}

// Wait blocks until no flow is in progress. Flows that start while it waits are waited
// for as well.
func (s *Service) Wait() {
	s.flowMu.Lock()
	defer s.flowMu.Unlock()
	for s.flows > 0 {
		s.idle.Wait()
	}
}

func (s *Service) startFlow() {
	s.flowMu.Lock()
	s.flows++
	s.flowMu.Unlock()
}

func (s *Service) endFlow() {
	s.flowMu.Lock()
	defer s.flowMu.Unlock()
	s.flows--
	if s.flows == 0 {
		s.idle.Broadcast()
	}
}

// Engine is the state machine of one user.
type Engine struct {
	userId   string
	svc      *Service
	detector *shake.Detector

	mu    sync.Mutex
	state State
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// begin leaves Idle. It fails if a flow is in progress.
func (e *Engine) begin() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Idle {
		return false
	}
	e.state = AwaitingPermissions
	return true
}

func (e *Engine) set(state State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = state
}

// onShake runs on the goroutine delivering samples and must not block it.
func (e *Engine) onShake() {
	log := e.svc.log.With().Str("user", e.userId).Logger()
	log.Debug().Msg("shake detected")
	if !e.begin() {
		log.Info().Msg("ignoring shake, SOS flow already in progress")
		return
	}
	e.svc.startFlow()
	go func() {
		defer e.svc.endFlow()
		e.run(context.Background(), OriginShake)
	}()
}

// run executes one flow. The engine is back in Idle when it returns.
func (e *Engine) run(ctx context.Context, origin Origin) (model.Report, error) {
	defer e.set(Idle)
	s := e.svc
	flowId := uuid.NewString()
	log := s.log.With().Str("user", e.userId).Str("flow", flowId).Str("origin", string(origin)).Logger()
	if s.cfg.FlowTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.FlowTimeout)
		defer cancel()
	}
	log.Info().Msg("SOS flow started")

	// AwaitingPermissions
	if missing := s.perms.Missing(e.userId, Required...); len(missing) > 0 {
		log.Warn().Interface("missing", missing).Msg("permissions not granted")
		notice := model.Notice{Kind: model.NoticeError, Message: "Location and SMS permissions are required for this app"}
		if origin == OriginManual {
			notice.Kind = model.NoticePermissionRequest
			notice.Permissions = missing
		}
		s.notifier.Notify(e.userId, notice)
		return model.Report{FlowId: flowId}, ErrPermissionDenied
	}

	// AwaitingLocation
	e.set(AwaitingLocation)
	loc, err := s.locator.LastLocation(ctx, e.userId)
	if err != nil {
		log.Warn().Err(err).Msg("location unavailable")
		s.notifier.Notify(e.userId, model.Notice{Kind: model.NoticeError, Message: "Failed to get location"})
		return model.Report{FlowId: flowId}, &flowError{kind: ErrNoLocation, cause: err}
	}
	log.Debug().Float64("lat", loc.Latitude).Float64("lon", loc.Longitude).Msg("location obtained")

	// AwaitingContacts
	e.set(AwaitingContacts)
	contacts, err := s.contacts.EmergencyContacts(ctx, e.userId)
	if errors.Is(err, contactstore.ErrNoUser) {
		log.Debug().Msg("no authenticated user")
		return model.Report{FlowId: flowId}, err
	}
	if err != nil {
		log.Warn().Err(err).Msg("get contacts failed")
		s.notifier.Notify(e.userId, model.Notice{Kind: model.NoticeError, Message: "Failed to retrieve contacts"})
		return model.Report{FlowId: flowId}, &flowError{kind: ErrContactsUnavailable, cause: err}
	}
	if len(contacts) == 0 {
		s.notifier.Notify(e.userId, model.Notice{Kind: model.NoticeError, Message: "No contact phone numbers found"})
		return model.Report{FlowId: flowId, NoContacts: true, Outcomes: []model.Outcome{}}, sos.ErrNoContacts
	}

	// Dispatching
	e.set(Dispatching)
	report, err := s.dispatcher.ComposeAndSend(ctx, loc, contacts)
	report.FlowId = flowId
	if err != nil {
		log.Warn().Err(err).Msg("dispatch failed")
		return report, err
	}
	for _, o := range report.Outcomes {
		if o.Sent {
			s.notifier.Notify(e.userId, model.Notice{Kind: model.NoticeInfo, Message: "SOS message sent to " + o.Phone})
		} else {
			s.notifier.Notify(e.userId, model.Notice{Kind: model.NoticeError, Message: "Failed to send SOS message to " + o.Phone + ": " + o.Error})
		}
	}
	log.Info().Int("recipients", len(report.Outcomes)).Int("failed", report.Failed()).Msg("SOS flow finished")
	return report, nil
}

// flowError ties the cause of an aborted flow to its category.
type flowError struct {
	kind  error
	cause error
}

func (e *flowError) Error() string {
	if e.cause.Error() == e.kind.Error() {
		return e.kind.Error()
	}
	return e.kind.Error() + ": " + e.cause.Error()
}

func (e *flowError) Is(target error) bool { return target == e.kind }

func (e *flowError) Unwrap() error { return e.cause }
