package tenant

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/peopleforge/peopleforge/internal/domain"
	"github.com/peopleforge/peopleforge/internal/domain/company"
	"github.com/peopleforge/peopleforge/internal/domain/event"
	"github.com/peopleforge/peopleforge/internal/domain/identity"
	"github.com/peopleforge/peopleforge/internal/domain/payroll"
	"github.com/peopleforge/peopleforge/internal/port/cache"
	"github.com/peopleforge/peopleforge/internal/port/database"
	"github.com/peopleforge/peopleforge/internal/resilience"
)

// Ensure the fakes satisfy their ports at compile time.
var (
	_ database.Store = (*mockStore)(nil)
	_ cache.Cache    = (*memCache)(nil)
)

// mockStore implements database.Store with in-memory company data. Only the
// company lookups matter for resolution; the rest are inert.
type mockStore struct {
	companies []company.Company

	companyErr   error
	companyCalls int
}

func (m *mockStore) GetCompanyByID(_ context.Context, id string) (*company.Company, error) {
	m.companyCalls++
	if m.companyErr != nil {
		return nil, m.companyErr
	}
	for i := range m.companies {
		if m.companies[i].ID == id {
			return &m.companies[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) GetCompanyBySubdomain(_ context.Context, subdomain string) (*company.Company, error) {
	m.companyCalls++
	if m.companyErr != nil {
		return nil, m.companyErr
	}
	for i := range m.companies {
		if m.companies[i].Subdomain == subdomain {
			return &m.companies[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) ListEnabledModules(_ context.Context, _ string) (company.ModuleSet, error) {
	return nil, nil
}

func (m *mockStore) GetUser(_ context.Context, _ string) (*identity.User, error) {
	return nil, domain.ErrNotFound
}

func (m *mockStore) GetUserByEmail(_ context.Context, _ string) (*identity.User, error) {
	return nil, domain.ErrNotFound
}

func (m *mockStore) ListUsersByCompany(_ context.Context, _ string) ([]identity.User, error) {
	return nil, nil
}

func (m *mockStore) CreateRefreshToken(_ context.Context, _ *identity.RefreshToken) error {
	return nil
}

func (m *mockStore) GetRefreshTokenByHash(_ context.Context, _ string) (*identity.RefreshToken, error) {
	return nil, domain.ErrNotFound
}

func (m *mockStore) RotateRefreshToken(_ context.Context, _ string, _ *identity.RefreshToken) error {
	return nil
}

func (m *mockStore) DeleteRefreshToken(_ context.Context, _ string) error { return nil }

func (m *mockStore) DeleteRefreshTokensForUser(_ context.Context, _ string) error { return nil }

func (m *mockStore) ListPayrollRuns(_ context.Context, _ string, _ int) ([]payroll.Run, error) {
	return nil, nil
}

func (m *mockStore) CreateSecurityEvent(_ context.Context, _ *event.SecurityEvent) error {
	return nil
}

func (m *mockStore) ListSecurityEvents(_ context.Context, _ int) ([]event.SecurityEvent, error) {
	return nil, nil
}

// memCache is a TTL-ignoring in-memory cache.
type memCache struct {
	entries map[string][]byte
}

func newMemCache() *memCache { return &memCache{entries: make(map[string][]byte)} }

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := c.entries[key]
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.entries[key] = value
	return nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	delete(c.entries, key)
	return nil
}

func (c *memCache) Clear(_ context.Context) error {
	c.entries = make(map[string][]byte)
	return nil
}

func acme() company.Company {
	return company.Company{
		ID:        "company-1",
		Name:      "Acme Corp",
		Subdomain: "acme",
		Active:    true,
	}
}

func newResolver(store *mockStore, c cache.Cache) *Resolver {
	breaker := resilience.NewBreaker(5, time.Minute)
	log := slog.New(slog.DiscardHandler)
	return NewResolver(store, c, breaker, nil, 5*time.Minute, time.Second, log)
}

func TestResolveFromSubdomain(t *testing.T) {
	store := &mockStore{companies: []company.Company{acme()}}
	res := newResolver(store, newMemCache())

	got := res.ResolveFromSubdomain(context.Background(), "acme")
	if !got.Success {
		t.Fatalf("resolution failed: %s", got.Message)
	}
	if got.CompanyID != "company-1" || got.Source != SourceSubdomain {
		t.Errorf("got %+v, want company-1 via subdomain", got)
	}
	if got.Company == nil || got.Company.Name != "Acme Corp" {
		t.Error("expected full company detail in resolution")
	}
}

func TestResolveFromSubdomainCaches(t *testing.T) {
	store := &mockStore{companies: []company.Company{acme()}}
	res := newResolver(store, newMemCache())

	for range 3 {
		if got := res.ResolveFromSubdomain(context.Background(), "acme"); !got.Success {
			t.Fatalf("resolution failed: %s", got.Message)
		}
	}
	if store.companyCalls != 1 {
		t.Errorf("store calls = %d, want 1 (cached)", store.companyCalls)
	}
}

func TestResolveFromSubdomainNormalizesCase(t *testing.T) {
	store := &mockStore{companies: []company.Company{acme()}}
	res := newResolver(store, newMemCache())

	if got := res.ResolveFromSubdomain(context.Background(), "  ACME  "); !got.Success {
		t.Fatalf("resolution failed: %s", got.Message)
	}
}

func TestFailedResolutionNotCached(t *testing.T) {
	store := &mockStore{}
	c := newMemCache()
	res := newResolver(store, c)

	got := res.ResolveFromSubdomain(context.Background(), "ghost")
	if got.Success {
		t.Fatal("expected failure for unknown subdomain")
	}
	if len(c.entries) != 0 {
		t.Error("failed resolution must not be cached")
	}

	// The company appears; the next request must see it immediately.
	store.companies = []company.Company{{ID: "company-9", Subdomain: "ghost", Active: true}}
	if got := res.ResolveFromSubdomain(context.Background(), "ghost"); !got.Success {
		t.Errorf("new company not visible: %s", got.Message)
	}
}

func TestInactiveCompanyRejectedAndNotCached(t *testing.T) {
	co := acme()
	co.Active = false
	store := &mockStore{companies: []company.Company{co}}
	c := newMemCache()
	res := newResolver(store, c)

	got := res.ResolveFromSubdomain(context.Background(), "acme")
	if got.Success {
		t.Fatal("inactive company must not resolve")
	}
	if len(c.entries) != 0 {
		t.Error("inactive company must not be cached")
	}

	// Reactivation is visible without waiting out a TTL.
	store.companies[0].Active = true
	if got := res.ResolveFromSubdomain(context.Background(), "acme"); !got.Success {
		t.Errorf("reactivated company not visible: %s", got.Message)
	}
}

func TestDeactivationHiddenByCacheUntilExpiry(t *testing.T) {
	store := &mockStore{companies: []company.Company{acme()}}
	c := newMemCache()
	res := newResolver(store, c)

	if got := res.ResolveFromSubdomain(context.Background(), "acme"); !got.Success {
		t.Fatalf("resolution failed: %s", got.Message)
	}

	// The company is deactivated while a cached entry is live: requests
	// keep resolving from cache until the TTL runs out. That staleness
	// window is the accepted trade for skipping a directory round trip.
	store.companies[0].Active = false
	got := res.ResolveFromSubdomain(context.Background(), "acme")
	if !got.Success {
		t.Fatalf("within TTL: expected stale cached entry to resolve, got %q", got.Message)
	}
	if store.companyCalls != 1 {
		t.Errorf("store calls = %d, want 1 while the cache entry is live", store.companyCalls)
	}

	// Once the entry expires the deactivation takes effect.
	if err := c.Delete(context.Background(), subdomainKey("acme")); err != nil {
		t.Fatalf("delete cache entry: %v", err)
	}
	if got := res.ResolveFromSubdomain(context.Background(), "acme"); got.Success {
		t.Error("after cache expiry: deactivated company must not resolve")
	}
}

func TestUnknownIDFloodKeepsBreakerClosed(t *testing.T) {
	store := &mockStore{companies: []company.Company{acme()}}
	res := newResolver(store, newMemCache())

	// A client hammering garbage company ids produces misses, not directory
	// failures; the breaker must stay closed for everyone else.
	for range 10 {
		if got := res.ResolveFromHeader(context.Background(), "not-a-uuid"); got.Success {
			t.Fatal("garbage id must not resolve")
		}
	}
	got := res.ResolveFromSubdomain(context.Background(), "acme")
	if !got.Success {
		t.Errorf("subdomain resolution failed after id misses: %s", got.Message)
	}
}

func TestStoreFailureIsSoft(t *testing.T) {
	store := &mockStore{companyErr: errors.New("connection refused")}
	res := newResolver(store, newMemCache())

	got := res.ResolveFromSubdomain(context.Background(), "acme")
	if got.Success {
		t.Fatal("store failure must not resolve")
	}
	if got.Message != "company directory unavailable" {
		t.Errorf("message = %q", got.Message)
	}
}

func TestResolveFromVerifiedClaimCrossPopulates(t *testing.T) {
	store := &mockStore{companies: []company.Company{acme()}}
	c := newMemCache()
	res := newResolver(store, c)

	got := res.ResolveFromVerifiedClaim(context.Background(), "company-1")
	if !got.Success || got.Source != SourceJWT {
		t.Fatalf("got %+v, want success via jwt", got)
	}

	// The claim lookup primed the subdomain key too.
	if got := res.ResolveFromSubdomain(context.Background(), "acme"); !got.Success {
		t.Fatalf("subdomain resolution failed: %s", got.Message)
	}
	if store.companyCalls != 1 {
		t.Errorf("store calls = %d, want 1 (cross-populated)", store.companyCalls)
	}
}

func TestResolveFromHeaderTagsSource(t *testing.T) {
	store := &mockStore{companies: []company.Company{acme()}}
	res := newResolver(store, newMemCache())

	got := res.ResolveFromHeader(context.Background(), "company-1")
	if !got.Success || got.Source != SourceHeader {
		t.Errorf("got %+v, want success via header", got)
	}
}

func TestEmptySignalsFailFast(t *testing.T) {
	store := &mockStore{companies: []company.Company{acme()}}
	res := newResolver(store, newMemCache())

	if got := res.ResolveFromSubdomain(context.Background(), "   "); got.Success {
		t.Error("blank subdomain must not resolve")
	}
	if got := res.ResolveFromVerifiedClaim(context.Background(), ""); got.Success {
		t.Error("empty claim must not resolve")
	}
	if store.companyCalls != 0 {
		t.Errorf("store calls = %d, want 0", store.companyCalls)
	}
}

func TestClearCacheForcesRefetch(t *testing.T) {
	store := &mockStore{companies: []company.Company{acme()}}
	res := newResolver(store, newMemCache())

	if got := res.ResolveFromSubdomain(context.Background(), "acme"); !got.Success {
		t.Fatalf("resolution failed: %s", got.Message)
	}
	res.ClearCache()
	if got := res.ResolveFromSubdomain(context.Background(), "acme"); !got.Success {
		t.Fatalf("resolution failed: %s", got.Message)
	}
	if store.companyCalls != 2 {
		t.Errorf("store calls = %d, want 2 after cache clear", store.companyCalls)
	}
}
