package permission

import "github.com/trailmark/markers/pkg/core"

// PlatformStatus is the raw authorization status reported by the platform.
type PlatformStatus string

const (
	StatusNotDetermined       PlatformStatus = "notDetermined"
	StatusRestricted          PlatformStatus = "restricted"
	StatusDenied              PlatformStatus = "denied"
	StatusAuthorizedAlways    PlatformStatus = "authorizedAlways"
	StatusAuthorizedWhenInUse PlatformStatus = "authorizedWhenInUse"
)

// State maps a platform status to the three-valued authorization state.
// Unrecognized statuses are treated as denied.
func (s PlatformStatus) State() core.AuthorizationState {
	switch s {
	case StatusNotDetermined:
		return core.AuthorizationUndetermined
	case StatusAuthorizedAlways, StatusAuthorizedWhenInUse:
		return core.AuthorizationGranted
	default:
		return core.AuthorizationDenied
	}
}

// Known reports whether s is one of the platform's defined statuses.
func (s PlatformStatus) Known() bool {
	switch s {
	case StatusNotDetermined, StatusRestricted, StatusDenied, StatusAuthorizedAlways, StatusAuthorizedWhenInUse:
		return true
	}
	return false
}
