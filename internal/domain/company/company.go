// Package company defines the company (tenant) domain model.
package company

import "time"

// Company is an immutable snapshot of a company row at resolution time.
// Resolvers cache it by value; a cached copy is never mutated.
type Company struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Subdomain string    `json:"subdomain"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Module is a toggleable feature area gating access independently of
// fine-grained permissions.
type Module string

const (
	ModuleHRM         Module = "hrm"
	ModulePayroll     Module = "payroll"
	ModuleRecruitment Module = "recruitment"
	ModuleAttendance  Module = "attendance"
	ModuleReports     Module = "reports"
)

// ModuleSet is the set of modules enabled for one company.
type ModuleSet map[Module]bool

// Has reports whether the module is enabled.
func (s ModuleSet) Has(m Module) bool { return s[m] }

// Missing returns the subset of required modules not present in the set,
// preserving the order of required.
func (s ModuleSet) Missing(required []Module) []Module {
	var missing []Module
	for _, m := range required {
		if !s[m] {
			missing = append(missing, m)
		}
	}
	return missing
}

// HasAny reports whether at least one of the required modules is enabled.
func (s ModuleSet) HasAny(required []Module) bool {
	for _, m := range required {
		if s[m] {
			return true
		}
	}
	return false
}
