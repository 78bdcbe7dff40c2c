// Package tenant resolves which company an inbound request belongs to.
//
// Three signals compete for every request: the verified companyId claim, the
// Host subdomain, and the client-supplied X-Company-Id header. Resolution is
// always returned as a value, never an error, so tenant-less routes (health
// checks, login) are never blocked by a failed lookup.
package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/peopleforge/peopleforge/internal/adapter/otel"
	"github.com/peopleforge/peopleforge/internal/domain"
	"github.com/peopleforge/peopleforge/internal/domain/company"
	"github.com/peopleforge/peopleforge/internal/port/cache"
	"github.com/peopleforge/peopleforge/internal/port/database"
	"github.com/peopleforge/peopleforge/internal/resilience"
)

// Source identifies which signal produced a resolution.
type Source string

const (
	SourceJWT       Source = "jwt"
	SourceSubdomain Source = "subdomain"
	SourceHeader    Source = "header"
	SourceFallback  Source = "fallback"
)

// Resolution is the outcome of one resolution attempt.
// Success=false covers both "no such company" and store failure; Message
// distinguishes them for logging.
type Resolution struct {
	Success   bool
	CompanyID string
	Company   *company.Company
	Source    Source
	Message   string
}

// Context is the tenant context attached to one in-flight request.
// Company is optional: cheap paths may carry only the id. A later pipeline
// stage replaces the whole value rather than mutating it.
type Context struct {
	CompanyID string
	Company   *company.Company
}

// Resolver translates tenant signals into Resolutions, caching active
// companies for a short TTL to avoid a directory round trip per request.
type Resolver struct {
	store   database.Store
	cache   cache.Cache
	breaker *resilience.Breaker
	metrics *otel.Metrics
	ttl     time.Duration
	timeout time.Duration
	log     *slog.Logger
}

// NewResolver creates a Resolver. ttl bounds cache staleness; timeout bounds
// every store call so a slow directory cannot wedge the pipeline. metrics may
// be nil.
func NewResolver(store database.Store, c cache.Cache, breaker *resilience.Breaker, metrics *otel.Metrics, ttl, timeout time.Duration, log *slog.Logger) *Resolver {
	return &Resolver{
		store:   store,
		cache:   c,
		breaker: breaker,
		metrics: metrics,
		ttl:     ttl,
		timeout: timeout,
		log:     log,
	}
}

func subdomainKey(sub string) string { return "company:subdomain:" + sub }
func idKey(id string) string         { return "company:id:" + id }

// ResolveFromSubdomain looks up an active company by subdomain
// (case-insensitive). Not-found and inactive companies are soft failures and
// are not cached, so a reactivated company is visible without waiting out a
// TTL.
func (r *Resolver) ResolveFromSubdomain(ctx context.Context, subdomain string) Resolution {
	sub := strings.ToLower(strings.TrimSpace(subdomain))
	if sub == "" {
		return Resolution{Source: SourceSubdomain, Message: "empty subdomain"}
	}

	if c, ok := r.cached(ctx, subdomainKey(sub)); ok {
		return Resolution{Success: true, CompanyID: c.ID, Company: c, Source: SourceSubdomain}
	}

	c, err := r.lookup(ctx, func(ctx context.Context) (*company.Company, error) {
		return r.store.GetCompanyBySubdomain(ctx, sub)
	})
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return Resolution{Source: SourceSubdomain, Message: fmt.Sprintf("no active company for subdomain %q", sub)}
	case err != nil:
		r.log.Error("subdomain resolution failed", "subdomain", sub, "error", err)
		return Resolution{Source: SourceSubdomain, Message: "company directory unavailable"}
	case !c.Active:
		return Resolution{Source: SourceSubdomain, Message: fmt.Sprintf("company %q is deactivated", sub)}
	}

	r.put(ctx, subdomainKey(sub), c)
	return Resolution{Success: true, CompanyID: c.ID, Company: c, Source: SourceSubdomain}
}

// ResolveFromVerifiedClaim resolves a company id taken from a verified claim.
// The id is trusted input but existence and active status are still
// re-validated: a revoked or deleted company must not silently pass. Success
// cross-populates the subdomain cache key so subsequent subdomain lookups
// benefit.
func (r *Resolver) ResolveFromVerifiedClaim(ctx context.Context, companyID string) Resolution {
	return r.resolveByID(ctx, companyID, SourceJWT)
}

// ResolveFromHeader resolves a client-asserted company id. Same contract as
// ResolveFromVerifiedClaim but tagged SourceHeader; the signal is unsigned
// and callers must treat it as lowest priority.
func (r *Resolver) ResolveFromHeader(ctx context.Context, companyID string) Resolution {
	return r.resolveByID(ctx, companyID, SourceHeader)
}

func (r *Resolver) resolveByID(ctx context.Context, companyID string, src Source) Resolution {
	id := strings.TrimSpace(companyID)
	if id == "" {
		return Resolution{Source: src, Message: "empty company id"}
	}

	if c, ok := r.cached(ctx, idKey(id)); ok {
		return Resolution{Success: true, CompanyID: c.ID, Company: c, Source: src}
	}

	c, err := r.lookup(ctx, func(ctx context.Context) (*company.Company, error) {
		return r.store.GetCompanyByID(ctx, id)
	})
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return Resolution{Source: src, Message: fmt.Sprintf("company %s not found", id)}
	case err != nil:
		r.log.Error("company id resolution failed", "company_id", id, "error", err)
		return Resolution{Source: src, Message: "company directory unavailable"}
	case !c.Active:
		return Resolution{Source: src, Message: fmt.Sprintf("company %s is deactivated", id)}
	}

	r.put(ctx, idKey(id), c)
	if c.Subdomain != "" {
		r.put(ctx, subdomainKey(strings.ToLower(c.Subdomain)), c)
	}
	return Resolution{Success: true, CompanyID: c.ID, Company: c, Source: src}
}

// ClearCache flushes all cached companies. Used by tests and the
// administrative cache-bust endpoint.
func (r *Resolver) ClearCache() {
	if err := r.cache.Clear(context.Background()); err != nil {
		r.log.Warn("cache clear failed", "error", err)
	}
}

// lookup runs fn through the circuit breaker with a bounded timeout.
func (r *Resolver) lookup(ctx context.Context, fn func(context.Context) (*company.Company, error)) (*company.Company, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var c *company.Company
	err := r.breaker.Execute(func() error {
		var err error
		c, err = fn(ctx)
		if errors.Is(err, domain.ErrNotFound) {
			// Absence is an answer, not a directory failure.
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, domain.ErrNotFound
	}
	return c, nil
}

func (r *Resolver) cached(ctx context.Context, key string) (*company.Company, bool) {
	data, ok, err := r.cache.Get(ctx, key)
	if err != nil || !ok {
		if r.metrics != nil {
			r.metrics.TenantMisses.Add(ctx, 1)
		}
		return nil, false
	}
	var c company.Company
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, false
	}
	if r.metrics != nil {
		r.metrics.TenantHits.Add(ctx, 1)
	}
	return &c, true
}

func (r *Resolver) put(ctx context.Context, key string, c *company.Company) {
	data, err := json.Marshal(c)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, key, data, r.ttl); err != nil {
		r.log.Warn("cache set failed", "key", key, "error", err)
	}
}
