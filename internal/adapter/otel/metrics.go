package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "peopleforge"

// Metrics holds the authorization pipeline metric instruments.
type Metrics struct {
	RateLimited  metric.Int64Counter
	IPBlocks     metric.Int64Counter
	AccessDenied metric.Int64Counter
	Logins       metric.Int64Counter
	TenantHits   metric.Int64Counter
	TenantMisses metric.Int64Counter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.RateLimited, err = meter.Int64Counter("peopleforge.ratelimit.exceeded",
		metric.WithDescription("Requests rejected by a rate limit window"))
	if err != nil {
		return nil, err
	}

	m.IPBlocks, err = meter.Int64Counter("peopleforge.ratelimit.blocks",
		metric.WithDescription("Temporary IP blocks issued"))
	if err != nil {
		return nil, err
	}

	m.AccessDenied, err = meter.Int64Counter("peopleforge.guard.denied",
		metric.WithDescription("Requests rejected by an authorization guard"))
	if err != nil {
		return nil, err
	}

	m.Logins, err = meter.Int64Counter("peopleforge.auth.logins",
		metric.WithDescription("Successful logins"))
	if err != nil {
		return nil, err
	}

	m.TenantHits, err = meter.Int64Counter("peopleforge.tenant.cache_hits",
		metric.WithDescription("Tenant resolutions served from cache"))
	if err != nil {
		return nil, err
	}

	m.TenantMisses, err = meter.Int64Counter("peopleforge.tenant.cache_misses",
		metric.WithDescription("Tenant resolutions that required a store lookup"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
