package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/peopleforge/peopleforge/internal/config"
	"github.com/peopleforge/peopleforge/internal/domain"
	"github.com/peopleforge/peopleforge/internal/domain/company"
	"github.com/peopleforge/peopleforge/internal/domain/event"
	"github.com/peopleforge/peopleforge/internal/domain/identity"
	"github.com/peopleforge/peopleforge/internal/domain/payroll"
	"github.com/peopleforge/peopleforge/internal/middleware"
	"github.com/peopleforge/peopleforge/internal/port/cache"
	"github.com/peopleforge/peopleforge/internal/port/database"
	"github.com/peopleforge/peopleforge/internal/resilience"
	"github.com/peopleforge/peopleforge/internal/service"
	"github.com/peopleforge/peopleforge/internal/tenant"
)

// Ensure the fakes satisfy their ports at compile time.
var (
	_ database.Store = (*mockStore)(nil)
	_ cache.Cache    = (*memCache)(nil)
)

type mockStore struct {
	companies     []company.Company
	modules       map[string]company.ModuleSet
	users         []identity.User
	refreshTokens []identity.RefreshToken
	payrollRuns   []payroll.Run
	events        []event.SecurityEvent
}

func (m *mockStore) GetCompanyByID(_ context.Context, id string) (*company.Company, error) {
	for i := range m.companies {
		if m.companies[i].ID == id {
			return &m.companies[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) GetCompanyBySubdomain(_ context.Context, subdomain string) (*company.Company, error) {
	for i := range m.companies {
		if m.companies[i].Subdomain == subdomain {
			return &m.companies[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) ListEnabledModules(_ context.Context, companyID string) (company.ModuleSet, error) {
	return m.modules[companyID], nil
}

func (m *mockStore) GetUser(_ context.Context, id string) (*identity.User, error) {
	for i := range m.users {
		if m.users[i].ID == id {
			return &m.users[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) GetUserByEmail(_ context.Context, email string) (*identity.User, error) {
	for i := range m.users {
		if m.users[i].Email == email {
			return &m.users[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) ListUsersByCompany(_ context.Context, companyID string) ([]identity.User, error) {
	var out []identity.User
	for _, u := range m.users {
		if u.CompanyID == companyID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *mockStore) CreateRefreshToken(_ context.Context, rt *identity.RefreshToken) error {
	m.refreshTokens = append(m.refreshTokens, *rt)
	return nil
}

func (m *mockStore) GetRefreshTokenByHash(_ context.Context, hash string) (*identity.RefreshToken, error) {
	for i := range m.refreshTokens {
		if m.refreshTokens[i].TokenHash == hash {
			return &m.refreshTokens[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) RotateRefreshToken(_ context.Context, oldID string, replacement *identity.RefreshToken) error {
	for i := range m.refreshTokens {
		if m.refreshTokens[i].ID == oldID {
			m.refreshTokens = append(m.refreshTokens[:i], m.refreshTokens[i+1:]...)
			m.refreshTokens = append(m.refreshTokens, *replacement)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *mockStore) DeleteRefreshToken(_ context.Context, id string) error {
	for i := range m.refreshTokens {
		if m.refreshTokens[i].ID == id {
			m.refreshTokens = append(m.refreshTokens[:i], m.refreshTokens[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *mockStore) DeleteRefreshTokensForUser(_ context.Context, userID string) error {
	kept := m.refreshTokens[:0]
	for _, rt := range m.refreshTokens {
		if rt.UserID != userID {
			kept = append(kept, rt)
		}
	}
	m.refreshTokens = kept
	return nil
}

func (m *mockStore) ListPayrollRuns(_ context.Context, companyID string, limit int) ([]payroll.Run, error) {
	var out []payroll.Run
	for _, run := range m.payrollRuns {
		if run.CompanyID == companyID {
			out = append(out, run)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *mockStore) CreateSecurityEvent(_ context.Context, ev *event.SecurityEvent) error {
	m.events = append(m.events, *ev)
	return nil
}

func (m *mockStore) ListSecurityEvents(_ context.Context, limit int) ([]event.SecurityEvent, error) {
	if limit > len(m.events) {
		limit = len(m.events)
	}
	return m.events[:limit], nil
}

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

// seedStore returns a store with one active company, an employee with HRM
// permissions, and one superadmin.
func seedStore(t *testing.T) *mockStore {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return &mockStore{
		companies: []company.Company{
			{ID: "company-1", Name: "Acme Corp", Subdomain: "acme", Active: true},
		},
		modules: map[string]company.ModuleSet{
			"company-1": {company.ModuleHRM: true, company.ModulePayroll: true},
		},
		users: []identity.User{
			{
				ID:           "user-1",
				Email:        "jordan@acme.test",
				Name:         "Jordan",
				CompanyID:    "company-1",
				Permissions:  []string{"employees:read", "payroll:read"},
				PasswordHash: string(hash),
				Enabled:      true,
			},
			{
				ID:           "root-1",
				Email:        "root@peopleforge.test",
				Name:         "Root",
				CompanyID:    "company-0",
				Superadmin:   true,
				PasswordHash: string(hash),
				Enabled:      true,
			},
		},
		payrollRuns: []payroll.Run{
			{ID: "run-1", CompanyID: "company-1", Status: payroll.StatusProcessed, TotalCents: 1250000},
		},
	}
}

// newTestServer assembles the pipeline the way main does, minus the rate
// limiter and transport middleware that are exercised in their own tests.
func newTestServer(store *mockStore) *chi.Mux {
	log := slog.New(slog.DiscardHandler)
	breaker := resilience.NewBreaker(5, time.Minute)
	resolver := tenant.NewResolver(store, newMemCache(), breaker, nil, 5*time.Minute, time.Second, log)
	modules := service.NewModuleService(store, newMemCache(), breaker, 5*time.Minute, time.Second, log)
	security := service.NewSecurityLog(store, nil, nil, log)
	auth := service.NewAuthService(store, &config.Auth{
		JWTSecret:          "test-secret-key",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: 7 * 24 * time.Hour,
	})

	h := &Handlers{
		Auth:     auth,
		Modules:  modules,
		Security: security,
		Resolver: resolver,
		Store:    store,
		Breaker:  breaker,
	}

	r := chi.NewRouter()
	r.Use(middleware.TenantContext(resolver))
	r.Use(middleware.Auth(auth))
	r.Use(middleware.TenantEnhancer(resolver, log))
	MountRoutes(r, h)
	return r
}

func login(t *testing.T, srv *chi.Mux, email string) (token string, cookie *http.Cookie) {
	t.Helper()
	body := strings.NewReader(`{"email":"` + email + `","password":"correct-horse"}`)
	r := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", body)
	r.Host = "acme.peopleforge.io"
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, r)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp identity.LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == refreshCookieName {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("login did not set a refresh cookie")
	}
	return resp.AccessToken, cookie
}

func TestHealth(t *testing.T) {
	srv := newTestServer(seedStore(t))

	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["directory"] != "ok" {
		t.Errorf("body = %v", body)
	}
	if body["queue"] != "disconnected" {
		t.Errorf("queue = %q, want disconnected with no queue wired", body["queue"])
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	srv := newTestServer(seedStore(t))

	body := strings.NewReader(`{"email":"jordan@acme.test","password":"wrong"}`)
	r := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", body)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, r)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	// The body must not leak whether the account exists.
	if !strings.Contains(rec.Body.String(), "invalid credentials") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestMeRequiresAuthentication(t *testing.T) {
	srv := newTestServer(seedStore(t))

	r := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, r)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestMeReportsTenantResolution(t *testing.T) {
	srv := newTestServer(seedStore(t))
	token, _ := login(t, srv, "jordan@acme.test")

	r := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	r.Host = "acme.peopleforge.io"
	r.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Identity identity.Identity `json:"identity"`
		Tenant   struct {
			Resolved  bool   `json:"resolved"`
			CompanyID string `json:"company_id"`
			Source    string `json:"source"`
		} `json:"tenant"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Identity.UserID != "user-1" {
		t.Errorf("identity = %+v", body.Identity)
	}
	if !body.Tenant.Resolved || body.Tenant.CompanyID != "company-1" {
		t.Errorf("tenant = %+v", body.Tenant)
	}
}

func TestEmployeesGuardedEndToEnd(t *testing.T) {
	srv := newTestServer(seedStore(t))
	token, _ := login(t, srv, "jordan@acme.test")

	r := httptest.NewRequest(http.MethodGet, "/api/v1/employees", nil)
	r.Host = "acme.peopleforge.io"
	r.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Employees []identity.User `json:"employees"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Employees) != 1 || body.Employees[0].ID != "user-1" {
		t.Errorf("employees = %+v", body.Employees)
	}
	// PasswordHash has json:"-"; the raw body must never carry a hash.
	if strings.Contains(rec.Body.String(), "$2a$") {
		t.Error("response leaked a password hash")
	}
}

func TestEmployeesRequiresModule(t *testing.T) {
	store := seedStore(t)
	store.modules["company-1"] = company.ModuleSet{company.ModulePayroll: true}
	srv := newTestServer(store)
	token, _ := login(t, srv, "jordan@acme.test")

	r := httptest.NewRequest(http.MethodGet, "/api/v1/employees", nil)
	r.Host = "acme.peopleforge.io"
	r.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, r)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 without the hrm module", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "hrm") {
		t.Errorf("body %s should name the missing module", rec.Body.String())
	}
}

func TestPayrollRunsStrictTenant(t *testing.T) {
	srv := newTestServer(seedStore(t))
	token, _ := login(t, srv, "jordan@acme.test")

	// No subdomain signal: the post-auth stage resolves the claim with full
	// company detail, which satisfies the strict guard.
	r := httptest.NewRequest(http.MethodGet, "/api/v1/payroll/runs", nil)
	r.Host = "localhost:3000"
	r.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, r)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Runs []payroll.Run `json:"runs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Runs) != 1 || body.Runs[0].TotalCents != 1250000 {
		t.Errorf("runs = %+v", body.Runs)
	}
}

func TestRefreshRotatesCookie(t *testing.T) {
	srv := newTestServer(seedStore(t))
	_, cookie := login(t, srv, "jordan@acme.test")

	r := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
	r.AddCookie(cookie)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var rotated *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == refreshCookieName {
			rotated = c
		}
	}
	if rotated == nil || rotated.Value == cookie.Value {
		t.Error("refresh must rotate the cookie value")
	}

	// The spent cookie no longer works.
	r = httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
	r.AddCookie(cookie)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, r)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for a spent refresh token", rec.Code)
	}
}

func TestLogoutClearsCookie(t *testing.T) {
	srv := newTestServer(seedStore(t))
	token, _ := login(t, srv, "jordan@acme.test")

	r := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == refreshCookieName && c.MaxAge >= 0 {
			t.Error("logout must expire the refresh cookie")
		}
	}
}

func TestAdminRequiresPermission(t *testing.T) {
	srv := newTestServer(seedStore(t))

	token, _ := login(t, srv, "jordan@acme.test")
	r := httptest.NewRequest(http.MethodPost, "/api/v1/admin/cache/flush", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, r)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403 for a regular operator", rec.Code)
	}

	rootToken, _ := login(t, srv, "root@peopleforge.test")
	r = httptest.NewRequest(http.MethodPost, "/api/v1/admin/cache/flush", nil)
	r.Header.Set("Authorization", "Bearer "+rootToken)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, r)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 via superadmin bypass", rec.Code)
	}
}
