package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/peopleforge/peopleforge/internal/tenant"
)

// HeaderCompanyID is the client-asserted company id header. Unsigned input:
// always the lowest-priority tenant signal.
const HeaderCompanyID = "X-Company-Id"

// reservedSubdomains are host labels that are never tenant subdomains.
var reservedSubdomains = map[string]bool{
	"www":   true,
	"api":   true,
	"admin": true,
}

// TenantContext is the pre-authentication tenant resolution stage. It runs
// unconditionally on every request using only request-intrinsic signals
// (Host subdomain, then the X-Company-Id header) and never rejects: when
// nothing resolves it records a fallback result and lets the request
// continue so tenant-less endpoints keep working.
func TenantContext(resolver *tenant.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := tenant.Resolution{Source: tenant.SourceFallback, Message: "no tenant signal"}

			if sub, ok := SubdomainFromHost(r.Host); ok {
				res = resolver.ResolveFromSubdomain(r.Context(), sub)
			}
			if !res.Success {
				if cid := r.Header.Get(HeaderCompanyID); cid != "" {
					res = resolver.ResolveFromHeader(r.Context(), cid)
				}
			}

			ctx := tenant.WithResolution(r.Context(), res)
			if res.Success {
				ctx = tenant.WithContext(ctx, tenant.Context{CompanyID: res.CompanyID, Company: res.Company})
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TenantEnhancer is the post-authentication stage. When a verified companyId
// claim exists it re-resolves the tenant from the claim, which outranks both
// subdomain and header. On success the tenant context is replaced outright;
// on failure the attempt is logged and the prior context (possibly absent)
// is left untouched.
func TenantEnhancer(resolver *tenant.Resolver, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := IdentityFromContext(r.Context())
			if id == nil || id.CompanyID == "" {
				next.ServeHTTP(w, r)
				return
			}

			if tc, ok := tenant.FromContext(r.Context()); ok && tc.Company != nil && tc.CompanyID == id.CompanyID {
				// Pre-auth stage already resolved full detail for the claimed company.
				next.ServeHTTP(w, r)
				return
			}

			res := resolver.ResolveFromVerifiedClaim(r.Context(), id.CompanyID)
			if !res.Success {
				log.Warn("claim tenant resolution failed",
					"company_id", id.CompanyID,
					"user_id", id.UserID,
					"reason", res.Message)
				next.ServeHTTP(w, r)
				return
			}

			ctx := tenant.WithResolution(r.Context(), res)
			ctx = tenant.WithContext(ctx, tenant.Context{CompanyID: res.CompanyID, Company: res.Company})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SubdomainFromHost extracts a tenant subdomain from a Host header value.
// Requires at least three labels (sub.example.com); localhost and raw IPv4
// hosts are development bypasses, and reserved labels are not tenants.
func SubdomainFromHost(host string) (string, bool) {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(host)

	if host == "localhost" || net.ParseIP(host) != nil {
		return "", false
	}

	labels := strings.Split(host, ".")
	if len(labels) < 3 {
		return "", false
	}

	sub := labels[0]
	if sub == "" || reservedSubdomains[sub] {
		return "", false
	}
	return sub, true
}
