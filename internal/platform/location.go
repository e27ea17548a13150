package platform

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gitlab.com/dirk.krummacker/sos-service/internal/model"
)

// ErrNoFix is returned when no usable last-known location exists.
var ErrNoFix = errors.New("failed to get location")

// ErrInvalidFix is returned for coordinates outside the valid range.
var ErrInvalidFix = errors.New("invalid location")

// Locator provides the last-known location of a user's device.
type Locator interface {
	LastLocation(ctx context.Context, userId string) (model.Location, error)
}

type fix struct {
	location model.Location
	at       time.Time
}

// LocationCache keeps the last fix each device reported. Nothing is persisted.
type LocationCache struct {
	mu     sync.RWMutex
	maxAge time.Duration
	now    func() time.Time
	fixes  map[string]fix
}

// NewLocationCache creates a cache. Fixes older than maxAge are treated as unavailable;
// a zero maxAge keeps fixes forever.
func NewLocationCache(maxAge time.Duration) *LocationCache {
	return &LocationCache{maxAge: maxAge, now: time.Now, fixes: make(map[string]fix)}
}

// Update records a new fix for a user.
func (c *LocationCache) Update(userId string, loc model.Location) error {
	if !ValidLocation(loc) {
		return ErrInvalidFix
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fixes[userId] = fix{location: loc, at: c.now()}
	return nil
}

// LastLocation implements Locator.
func (c *LocationCache) LastLocation(ctx context.Context, userId string) (model.Location, error) {
	if err := ctx.Err(); err != nil {
		return model.Location{}, err
	}
	c.mu.RLock()
	f, ok := c.fixes[userId]
	c.mu.RUnlock()
	if !ok {
		return model.Location{}, ErrNoFix
	}
	if c.maxAge > 0 && c.now().Sub(f.at) > c.maxAge {
		return model.Location{}, errors.Wrapf(ErrNoFix, "last fix is %s old", c.now().Sub(f.at).Round(time.Second))
	}
	return f.location, nil
}

// ValidLocation reports whether the coordinates are finite decimal degrees in range.
func ValidLocation(loc model.Location) bool {
	if math.IsNaN(loc.Latitude) || math.IsNaN(loc.Longitude) {
		return false
	}
	return loc.Latitude >= -90 && loc.Latitude <= 90 && loc.Longitude >= -180 && loc.Longitude <= 180
}
