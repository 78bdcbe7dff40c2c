package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/peopleforge/peopleforge/internal/domain/company"
	"github.com/peopleforge/peopleforge/internal/middleware"
)

// MountRoutes registers all API routes. Authentication, tenant resolution
// and rate limiting run globally before these routes; the guards attached
// here bind the per-route authorization requirements.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Session endpoints carry no tenant requirement: login happens
		// before any company can be resolved from claims.
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", h.Login)
			r.Post("/refresh", h.Refresh)
			r.Post("/logout", h.Logout)
		})

		r.Get("/me", h.Me)

		r.With(middleware.RequireTenant(middleware.TenantStrict, h.Security)).
			Get("/company", h.Company)

		r.With(
			middleware.RequireTenant(middleware.TenantBasic, h.Security),
			middleware.RequireModules(h.Modules, h.Security, middleware.ModuleRequirement{
				Modules: []company.Module{company.ModuleHRM},
			}),
			middleware.RequirePermissions(h.Security, middleware.PermissionRequirement{
				Permissions: []string{"employees:read"},
			}),
		).Get("/employees", h.ListEmployees)

		r.With(
			middleware.RequireTenant(middleware.TenantStrict, h.Security),
			middleware.RequireModules(h.Modules, h.Security, middleware.ModuleRequirement{
				Modules: []company.Module{company.ModulePayroll},
			}),
			middleware.RequirePermissions(h.Security, middleware.PermissionRequirement{
				Permissions: []string{"payroll:read"},
			}),
		).Get("/payroll/runs", h.ListPayrollRuns)

		// Admin surface: superadmins pass the permission guard implicitly,
		// regular operators need the explicit admin permissions.
		r.Route("/admin", func(r chi.Router) {
			r.With(middleware.RequirePermissions(h.Security, middleware.PermissionRequirement{
				Permissions: []string{"admin:cache"},
			})).Post("/cache/flush", h.FlushCache)

			r.With(middleware.RequirePermissions(h.Security, middleware.PermissionRequirement{
				Permissions: []string{"admin:security"},
			})).Get("/security-events", h.ListSecurityEvents)
		})
	})
}
