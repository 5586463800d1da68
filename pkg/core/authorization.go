// pkg/core/authorization.go
package core

// AuthorizationState is the normalized location permission state.
type AuthorizationState int

const (
	AuthorizationUndetermined AuthorizationState = iota
	AuthorizationGranted
	AuthorizationDenied
)

func (s AuthorizationState) String() string {
	switch s {
	case AuthorizationUndetermined:
		return "undetermined"
	case AuthorizationGranted:
		return "granted"
	case AuthorizationDenied:
		return "denied"
	default:
		return "denied"
	}
}

// MarshalText encodes the state by name for JSON payloads.
func (s AuthorizationState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name. Unknown names read as denied.
func (s *AuthorizationState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "undetermined":
		*s = AuthorizationUndetermined
	case "granted":
		*s = AuthorizationGranted
	default:
		*s = AuthorizationDenied
	}
	return nil
}
