package session

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/trackrec/trackrec/internal/session"

type metrics struct {
	fixesReceived  metric.Int64Counter
	pointsAdmitted metric.Int64Counter
	fixesRejected  metric.Int64Counter
	lowAccuracy    metric.Int64Counter
	providerErrors metric.Int64Counter
	enrichFailures metric.Int64Counter
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}

	var (
		m   metrics
		err error
	)
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.fixesReceived, "trackrec.session.fixes.received", "Fixes delivered while recording"},
		{&m.pointsAdmitted, "trackrec.session.points.admitted", "Fixes recorded as points"},
		{&m.fixesRejected, "trackrec.session.fixes.rejected", "Fixes below the admission threshold"},
		{&m.lowAccuracy, "trackrec.session.fixes.low_accuracy", "Fixes dropped for exceeding the accuracy ceiling"},
		{&m.providerErrors, "trackrec.session.provider.errors", "Location subscriptions that failed mid-session"},
		{&m.enrichFailures, "trackrec.session.enrichment.failures", "Enrichment lookups that failed or timed out"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit("{fix}"))
		if err != nil {
			return nil, err
		}
	}
	return &m, nil
}

func inc(c metric.Int64Counter) {
	c.Add(context.Background(), 1)
}
