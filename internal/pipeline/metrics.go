package pipeline

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/trailmark/markers/internal/pipeline"

type metrics struct {
	markersCreated  metric.Int64Counter
	duplicates      metric.Int64Counter
	geocodeFallback metric.Int64Counter
	persistFailures metric.Int64Counter
}

func newMetrics() (*metrics, error) {
	m := otel.Meter(instrumentationName)
	out := &metrics{}
	var err error

	out.markersCreated, err = m.Int64Counter("pipeline.markers.created",
		metric.WithDescription("Markers appended to the collection"))
	if err != nil {
		return nil, fmt.Errorf("creating markers counter: %w", err)
	}
	out.duplicates, err = m.Int64Counter("pipeline.markers.duplicates",
		metric.WithDescription("Movements discarded by the dedup check"))
	if err != nil {
		return nil, fmt.Errorf("creating duplicates counter: %w", err)
	}
	out.geocodeFallback, err = m.Int64Counter("pipeline.geocode.fallbacks",
		metric.WithDescription("Markers stored with a fallback address"))
	if err != nil {
		return nil, fmt.Errorf("creating fallback counter: %w", err)
	}
	out.persistFailures, err = m.Int64Counter("pipeline.persistence.failures",
		metric.WithDescription("Failed writes of the marker collection"))
	if err != nil {
		return nil, fmt.Errorf("creating persistence counter: %w", err)
	}
	return out, nil
}

func (m *metrics) created(ctx context.Context)        { m.markersCreated.Add(ctx, 1) }
func (m *metrics) duplicate(ctx context.Context)      { m.duplicates.Add(ctx, 1) }
func (m *metrics) fallback(ctx context.Context)       { m.geocodeFallback.Add(ctx, 1) }
func (m *metrics) persistFailure(ctx context.Context) { m.persistFailures.Add(ctx, 1) }
