package influx

import (
	"log/slog"
	"sync"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/trailmark/markers/pkg/core"
)

// Measurement names.
const (
	MeasurementMarker        = "marker"
	MeasurementTracking      = "tracking_started"
	MeasurementAuthorization = "authorization"
)

// PointWriter accepts points; Manager is the production implementation.
type PointWriter interface {
	WritePoint(point *influxdb2_write.Point) error
}

// TagService is set on every point so line protocol always has a tag set.
const TagService = "service"

// Observer turns pipeline events into points. New markers are detected by
// count, since the collection only grows between clears.
type Observer struct {
	writer  PointWriter
	service string
	logger  *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	seen int
}

// NewObserver creates an observer writing to w. Points are tagged with service.
func NewObserver(w PointWriter, service string, logger *slog.Logger) *Observer {
	if logger == nil {
		logger = slog.Default()
	}
	if service == "" {
		service = "markerd"
	}
	return &Observer{writer: w, service: service, logger: logger, now: time.Now}
}

func (o *Observer) point(measurement string) *influxdb2_write.Point {
	return influxdb2_write.NewPointWithMeasurement(measurement).
		AddTag(TagService, o.service)
}

func (o *Observer) OnTrackingStarted(at core.Coordinate) {
	p := o.point(MeasurementTracking).
		AddField("latitude", at.Latitude).
		AddField("longitude", at.Longitude).
		SetTime(o.now())
	o.write(p)
}

// OnMarkersChanged writes one point per marker added since the last event.
// Points are stamped with the marker timestamp so replays overwrite.
func (o *Observer) OnMarkersChanged(markers []core.Marker) {
	o.mu.Lock()
	start := o.seen
	if len(markers) < start {
		start = 0
	}
	o.seen = len(markers)
	o.mu.Unlock()

	for i := start; i < len(markers); i++ {
		m := markers[i]
		ts := m.Timestamp
		if ts.IsZero() {
			ts = o.now()
		}
		p := o.point(MeasurementMarker).
			AddField("latitude", m.Latitude).
			AddField("longitude", m.Longitude).
			AddField("address", m.Address).
			AddField("count", i+1).
			SetTime(ts)
		o.write(p)
	}
}

func (o *Observer) OnAuthorizationChanged(state core.AuthorizationState) {
	p := o.point(MeasurementAuthorization).
		AddTag("state", state.String()).
		AddField("granted", state == core.AuthorizationGranted).
		SetTime(o.now())
	o.write(p)
}

func (o *Observer) write(p *influxdb2_write.Point) {
	if err := o.writer.WritePoint(p); err != nil {
		o.logger.Error("failed to write point", "measurement", p.Name(), "error", err)
	}
}
