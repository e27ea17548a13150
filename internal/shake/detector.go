// Package shake turns a stream of accelerometer samples into shake events.
package shake

import (
	"math"
	"sync"
	"time"

	"gitlab.com/dirk.krummacker/sos-service/internal/model"
)

const (
	// GravityEarth is standard gravity in m/s².
	GravityEarth = 9.80665

	// DefaultThresholdGravity is the g-force a sample must exceed to count as a shake.
	DefaultThresholdGravity = 2.7

	// DefaultSlopTime is the minimum spacing between two accepted shake events.
	DefaultSlopTime = 500 * time.Millisecond
)

// Detector recognizes shakes. It emits at most one event per debounce window.
type Detector struct {
	mu        sync.Mutex
	threshold float64
	slop      time.Duration
	now       func() time.Time
	onShake   func()

	// lastShake is the sample time of the last accepted event. It is zero until the
	// first one.
	lastShake time.Time

	// lastSeen is the detector clock reading of the last accepted event.
	lastSeen time.Time
}

// Option customizes a Detector.
type Option func(*Detector)

// WithThreshold sets the g-force threshold.
func WithThreshold(g float64) Option {
	return func(d *Detector) {
		if g > 0 {
			d.threshold = g
		}
	}
}

// WithSlopTime sets the debounce window.
func WithSlopTime(slop time.Duration) Option {
	return func(d *Detector) {
		if slop >= 0 {
			d.slop = slop
		}
	}
}

// WithClock replaces the detector clock.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDetector creates a detector that calls onShake for every accepted shake.
func NewDetector(onShake func(), opts ...Option) *Detector {
	d := &Detector{
		threshold: DefaultThresholdGravity,
		slop:      DefaultSlopTime,
		now:       time.Now,
		onShake:   onShake,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// GForce returns the gravity-normalized magnitude of a sample. It is close to 1 when
// the device is at rest.
func GForce(s model.Sample) float64 {
	gX := s.X / GravityEarth
	gY := s.Y / GravityEarth
	gZ := s.Z / GravityEarth
	return math.Sqrt(gX*gX + gY*gY + gZ*gZ)
}

// Observe feeds one sample into the detector and reports whether it produced a shake
// event. The callback runs on the caller's goroutine after the detector state has been
// updated.
//
// Sample timestamps space the events of a batch. A timestamp ahead of the detector clock
// is clamped to it, and a shake is only discarded when it is within the debounce window
// both by sample time and by detector clock, so a skewed device clock delays a shake by
// at most one window.
func (d *Detector) Observe(s model.Sample) bool {
	if !valid(s) {
		return false
	}
	if GForce(s) <= d.threshold {
		return false
	}
	now := d.now()
	at := s.Timestamp
	if at.IsZero() || at.After(now) {
		at = now
	}

	d.mu.Lock()
	if !d.lastShake.IsZero() && d.debounced(at, now) {
		d.mu.Unlock()
		return false
	}
	d.lastShake = at
	d.lastSeen = now
	d.mu.Unlock()

	if d.onShake != nil {
		d.onShake()
	}
	return true
}

// debounced reports whether a shake at sample time at, observed at now, falls into the
// window of the last accepted one. A sample dated before the last event means the
// device clock went back; only the detector clock counts then.
func (d *Detector) debounced(at time.Time, now time.Time) bool {
	byClock := now.Sub(d.lastSeen) < d.slop
	if at.Before(d.lastShake) {
		return byClock
	}
	return byClock && at.Sub(d.lastShake) < d.slop
}

// LastShake returns the sample time of the last accepted event.
func (d *Detector) LastShake() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastShake
}

func valid(s model.Sample) bool {
	for _, v := range []float64{s.X, s.Y, s.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
