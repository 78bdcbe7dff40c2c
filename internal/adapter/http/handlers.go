package http

import (
	"net/http"
	"strconv"

	"github.com/peopleforge/peopleforge/internal/domain/identity"
	"github.com/peopleforge/peopleforge/internal/middleware"
	"github.com/peopleforge/peopleforge/internal/port/database"
	"github.com/peopleforge/peopleforge/internal/port/messagequeue"
	"github.com/peopleforge/peopleforge/internal/resilience"
	"github.com/peopleforge/peopleforge/internal/service"
	"github.com/peopleforge/peopleforge/internal/tenant"
)

// Handlers bundles the services behind the HTTP API.
type Handlers struct {
	Auth     *service.AuthService
	Modules  *service.ModuleService
	Security *service.SecurityLog
	Resolver *tenant.Resolver
	Store    database.Store
	Queue    messagequeue.Queue
	Breaker  *resilience.Breaker
}

// Health handles GET /health. Reports degraded components without failing
// the probe; orchestrators treat any 200 as alive.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	directory := "ok"
	if !h.Breaker.Healthy() {
		status = "degraded"
		directory = "unavailable"
	}
	queue := "ok"
	if h.Queue == nil || !h.Queue.IsConnected() {
		queue = "disconnected"
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    status,
		"directory": directory,
		"queue":     queue,
	})
}

// Me handles GET /api/v1/me: the verified identity plus how the tenant was
// resolved for this request.
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromContext(r.Context())
	if id == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	resp := map[string]any{"identity": id}
	if res, ok := tenant.ResolutionFrom(r.Context()); ok {
		resp["tenant"] = map[string]any{
			"resolved":   res.Success,
			"company_id": res.CompanyID,
			"source":     string(res.Source),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Company handles GET /api/v1/company: full detail of the resolved company.
func (h *Handlers) Company(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenant.FromContext(r.Context())
	if !ok || tc.Company == nil {
		writeError(w, http.StatusNotFound, "no company resolved for this request")
		return
	}
	writeJSON(w, http.StatusOK, tc.Company)
}

// ListEmployees handles GET /api/v1/employees: the users belonging to the
// resolved company. Password hashes never serialize.
func (h *Handlers) ListEmployees(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenant.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusForbidden, "tenant context required")
		return
	}

	users, err := h.Store.ListUsersByCompany(r.Context(), tc.CompanyID)
	if err != nil {
		writeDomainError(w, err, "employees not found")
		return
	}
	if users == nil {
		users = []identity.User{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"employees": users})
}

// ListPayrollRuns handles GET /api/v1/payroll/runs for the resolved company.
func (h *Handlers) ListPayrollRuns(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenant.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusForbidden, "tenant context required")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	runs, err := h.Store.ListPayrollRuns(r.Context(), tc.CompanyID, limit)
	if err != nil {
		writeDomainError(w, err, "payroll runs not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// FlushCache handles POST /api/v1/admin/cache/flush.
func (h *Handlers) FlushCache(w http.ResponseWriter, _ *http.Request) {
	h.Resolver.ClearCache()
	writeJSON(w, http.StatusOK, map[string]string{"status": "flushed"})
}

// ListSecurityEvents handles GET /api/v1/admin/security-events.
func (h *Handlers) ListSecurityEvents(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	events, err := h.Security.Recent(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err, "security events not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
