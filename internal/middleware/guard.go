package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/peopleforge/peopleforge/internal/domain/company"
	"github.com/peopleforge/peopleforge/internal/domain/event"
	"github.com/peopleforge/peopleforge/internal/service"
	"github.com/peopleforge/peopleforge/internal/tenant"
)

// TenantMode selects how strictly TenantGuard binds the request to a tenant.
type TenantMode string

const (
	// TenantBasic tolerates a missing tenant context; when one exists its id
	// must match the identity's company.
	TenantBasic TenantMode = "basic"
	// TenantStrict requires a fully resolved, active company matching the
	// identity.
	TenantStrict TenantMode = "strict"
	// TenantAllowSuperadmin is TenantBasic spelled explicitly.
	TenantAllowSuperadmin TenantMode = "allow-superadmin"
	// TenantBlockSuperadmin is TenantStrict with the superadmin bypass
	// disabled.
	TenantBlockSuperadmin TenantMode = "block-superadmin"
)

func (m TenantMode) allowSuperadmin() bool { return m != TenantBlockSuperadmin }

func (m TenantMode) strict() bool {
	return m == TenantStrict || m == TenantBlockSuperadmin
}

// RequireTenant returns the tenant isolation guard. Routes without this
// middleware carry no tenant requirement and pass untouched.
func RequireTenant(mode TenantMode, sec *service.SecurityLog) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := IdentityFromContext(r.Context())
			if id == nil {
				deny(w, r, sec, http.StatusForbidden, "authentication required")
				return
			}

			if mode.allowSuperadmin() && superadminBypass(r.Context()) {
				next.ServeHTTP(w, r)
				return
			}

			if id.CompanyID == "" {
				deny(w, r, sec, http.StatusForbidden, "identity is not linked to a company")
				return
			}

			tc, ok := tenant.FromContext(r.Context())

			if mode.strict() {
				if !ok || tc.Company == nil {
					deny(w, r, sec, http.StatusForbidden, "tenant context required")
					return
				}
				if tc.CompanyID != id.CompanyID {
					deny(w, r, sec, http.StatusForbidden, "tenant does not match identity")
					return
				}
				if !tc.Company.Active {
					deny(w, r, sec, http.StatusForbidden, "company is deactivated")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			// Basic modes tolerate an absent tenant context.
			if ok && tc.CompanyID != id.CompanyID {
				deny(w, r, sec, http.StatusForbidden, "tenant does not match identity")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ModuleRequirement declares which feature modules a route needs.
// Zero values give the default semantics: all modules required (AND) and the
// superadmin bypass enabled.
type ModuleRequirement struct {
	Modules         []company.Module
	RequireAny      bool // OR semantics instead of the default AND
	BlockSuperadmin bool
}

// RequireModules returns the feature-module entitlement guard.
func RequireModules(modules *service.ModuleService, sec *service.SecurityLog, req ModuleRequirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !req.BlockSuperadmin && superadminBypass(r.Context()) {
				next.ServeHTTP(w, r)
				return
			}

			companyID := resolvedCompanyID(r)
			if companyID == "" {
				deny(w, r, sec, http.StatusForbidden, "tenant required for module check")
				return
			}

			enabled, err := modules.EnabledModules(r.Context(), companyID)
			if err != nil {
				// Fail closed: an unreachable store must not grant access.
				deny(w, r, sec, http.StatusForbidden, "module entitlements unavailable")
				return
			}

			if req.RequireAny {
				if !enabled.HasAny(req.Modules) {
					deny(w, r, sec, http.StatusForbidden,
						fmt.Sprintf("requires one of modules: %s", joinModules(req.Modules)))
					return
				}
			} else if missing := enabled.Missing(req.Modules); len(missing) > 0 {
				deny(w, r, sec, http.StatusForbidden,
					fmt.Sprintf("missing modules: %s", joinModules(missing)))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// PermissionRequirement declares the permission keys a route needs.
// Permissions use OR semantics. RoleIDs is the legacy coarse-grained
// fallback, consulted only when Permissions is empty.
type PermissionRequirement struct {
	Permissions []string
	RoleIDs     []string
}

// RequirePermissions returns the fine-grained permission guard.
func RequirePermissions(sec *service.SecurityLog, req PermissionRequirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := IdentityFromContext(r.Context())
			if id == nil {
				deny(w, r, sec, http.StatusUnauthorized, "authentication required")
				return
			}

			if superadminBypass(r.Context()) {
				next.ServeHTTP(w, r)
				return
			}

			// Fine-grained permissions take precedence over the legacy
			// role-id annotation when both are declared.
			if len(req.Permissions) > 0 {
				if len(id.Permissions) == 0 {
					deny(w, r, sec, http.StatusForbidden, "identity has no permissions")
					return
				}
				if !id.HasPermission(req.Permissions...) {
					deny(w, r, sec, http.StatusForbidden,
						"requires permission: "+strings.Join(req.Permissions, ", "))
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			if len(req.RoleIDs) > 0 && !id.HasRole(req.RoleIDs...) {
				deny(w, r, sec, http.StatusForbidden,
					"requires role: "+strings.Join(req.RoleIDs, ", "))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// deny rejects the request and records an access-denied security event.
func deny(w http.ResponseWriter, r *http.Request, sec *service.SecurityLog, status int, message string) {
	if sec != nil {
		ev := event.SecurityEvent{
			Kind:     event.KindAccessDenied,
			Severity: event.SeverityMedium,
			Method:   r.Method,
			Path:     r.URL.Path,
			Detail:   message,
		}
		if id := IdentityFromContext(r.Context()); id != nil {
			ev.UserID = id.UserID
			ev.CompanyID = id.CompanyID
		}
		sec.Emit(ev)
	}
	reject(w, status, message)
}

// resolvedCompanyID prefers the resolved tenant context and falls back to
// the verified claim.
func resolvedCompanyID(r *http.Request) string {
	if tc, ok := tenant.FromContext(r.Context()); ok && tc.CompanyID != "" {
		return tc.CompanyID
	}
	if id := IdentityFromContext(r.Context()); id != nil {
		return id.CompanyID
	}
	return ""
}

func joinModules(modules []company.Module) string {
	names := make([]string, len(modules))
	for i, m := range modules {
		names[i] = string(m)
	}
	return strings.Join(names, ", ")
}
