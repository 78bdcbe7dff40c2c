// Package payroll defines the payroll run records exposed through the
// payroll module endpoints.
package payroll

import "time"

// Status of a payroll run.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusApproved  Status = "approved"
	StatusProcessed Status = "processed"
)

// Run is one payroll processing cycle for a company.
type Run struct {
	ID          string    `json:"id"`
	CompanyID   string    `json:"company_id"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	Status      Status    `json:"status"`
	TotalCents  int64     `json:"total_cents"`
	CreatedAt   time.Time `json:"created_at"`
}
