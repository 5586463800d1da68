// Package events delivers tracker, pipeline and permission notifications
// to registered observers.
package events

import "github.com/trailmark/markers/pkg/core"

// Kind names a notification type. The values double as websocket envelope types.
type Kind string

const (
	KindTrackingStarted      Kind = "tracking_started"
	KindMarkersChanged       Kind = "markers_changed"
	KindAuthorizationChanged Kind = "authorization_changed"
)

// Observer receives notifications. Implementations must not modify the
// slices they are given; the same snapshot is shared by every observer.
type Observer interface {
	OnTrackingStarted(at core.Coordinate)
	OnMarkersChanged(markers []core.Marker)
	OnAuthorizationChanged(state core.AuthorizationState)
}

// Funcs adapts plain functions to Observer. Nil fields are skipped.
type Funcs struct {
	TrackingStarted      func(at core.Coordinate)
	MarkersChanged       func(markers []core.Marker)
	AuthorizationChanged func(state core.AuthorizationState)
}

func (f Funcs) OnTrackingStarted(at core.Coordinate) {
	if f.TrackingStarted != nil {
		f.TrackingStarted(at)
	}
}

func (f Funcs) OnMarkersChanged(markers []core.Marker) {
	if f.MarkersChanged != nil {
		f.MarkersChanged(markers)
	}
}

func (f Funcs) OnAuthorizationChanged(state core.AuthorizationState) {
	if f.AuthorizationChanged != nil {
		f.AuthorizationChanged(state)
	}
}

// Nop ignores every notification.
var Nop Observer = Funcs{}

// notification is one queued delivery.
type notification struct {
	kind    Kind
	at      core.Coordinate
	markers []core.Marker
	state   core.AuthorizationState
}

func (n notification) deliver(o Observer) {
	switch n.kind {
	case KindTrackingStarted:
		o.OnTrackingStarted(n.at)
	case KindMarkersChanged:
		o.OnMarkersChanged(n.markers)
	case KindAuthorizationChanged:
		o.OnAuthorizationChanged(n.state)
	}
}
