// Package platform holds the server side stand-ins for the phone's permission and
// location services. Devices report their state; the SOS flow reads it back.
package platform

import (
	"sync"

	"gitlab.com/dirk.krummacker/sos-service/internal/model"
)

// PermissionChecker answers whether a user's device has granted permissions.
type PermissionChecker interface {
	// Missing returns the permissions out of required that are not granted.
	Missing(userId string, required ...model.Permission) []model.Permission
}

// GrantRegistry remembers the permissions each device last reported as granted.
type GrantRegistry struct {
	mu     sync.RWMutex
	grants map[string]map[model.Permission]bool
}

// NewGrantRegistry returns a registry in which nothing is granted.
func NewGrantRegistry() *GrantRegistry {
	return &GrantRegistry{grants: make(map[string]map[model.Permission]bool)}
}

// Report replaces the set of granted permissions of a user.
func (r *GrantRegistry) Report(userId string, granted []model.Permission) {
	set := make(map[model.Permission]bool, len(granted))
	for _, p := range granted {
		set[p] = true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.grants[userId] = set
}

// Granted returns the permissions currently granted to a user, in request order.
func (r *GrantRegistry) Granted(userId string) []model.Permission {
	r.mu.RLock()
	defer r.mu.RUnlock()
	granted := []model.Permission{}
	for _, p := range model.AllPermissions {
		if r.grants[userId][p] {
			granted = append(granted, p)
		}
	}
	return granted
}

// Missing implements PermissionChecker.
func (r *GrantRegistry) Missing(userId string, required ...model.Permission) []model.Permission {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var missing []model.Permission
	for _, p := range required {
		if !r.grants[userId][p] {
			missing = append(missing, p)
		}
	}
	return missing
}
