package permission

import (
	"sync"

	"github.com/trailmark/markers/internal/config"
)

// StaticPlatform is a Platform whose status comes from configuration and
// can be changed at runtime, standing in for the OS permission dialog.
type StaticPlatform struct {
	mu             sync.Mutex
	status         PlatformStatus
	grantOnRequest bool
	handler        func(PlatformStatus)
	requests       int
}

// NewStaticPlatform creates a platform in the configured status.
// Unknown status strings are kept as-is and read as denied.
func NewStaticPlatform(cfg config.PermissionConfig) *StaticPlatform {
	status := PlatformStatus(cfg.Status)
	if status == "" {
		status = StatusNotDetermined
	}
	return &StaticPlatform{status: status, grantOnRequest: cfg.GrantOnRequest}
}

func (p *StaticPlatform) AuthorizationStatus() PlatformStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// RequestAuthorization answers asynchronously, the way a permission dialog
// would. Without grantOnRequest the request stays unanswered.
func (p *StaticPlatform) RequestAuthorization() {
	p.mu.Lock()
	p.requests++
	answer := p.status == StatusNotDetermined && p.grantOnRequest
	p.mu.Unlock()

	if answer {
		go p.SetStatus(StatusAuthorizedWhenInUse)
	}
}

func (p *StaticPlatform) SetAuthorizationHandler(h func(PlatformStatus)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = h
}

// SetStatus changes the status and notifies the handler when it differs.
func (p *StaticPlatform) SetStatus(status PlatformStatus) {
	p.mu.Lock()
	changed := p.status != status
	p.status = status
	h := p.handler
	p.mu.Unlock()

	if changed && h != nil {
		h(status)
	}
}

// Requests returns how many authorization requests were issued.
func (p *StaticPlatform) Requests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests
}
