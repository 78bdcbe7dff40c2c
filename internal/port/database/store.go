// Package database defines the database store port (interface).
package database

import (
	"context"

	"github.com/peopleforge/peopleforge/internal/domain/company"
	"github.com/peopleforge/peopleforge/internal/domain/event"
	"github.com/peopleforge/peopleforge/internal/domain/identity"
	"github.com/peopleforge/peopleforge/internal/domain/payroll"
)

// Store is the port interface for the external HR data store. The
// authorization pipeline only reads the company directory and module
// entitlements, and writes audit/session records.
type Store interface {
	// Company directory
	GetCompanyByID(ctx context.Context, id string) (*company.Company, error)
	GetCompanyBySubdomain(ctx context.Context, subdomain string) (*company.Company, error)

	// Module entitlements
	ListEnabledModules(ctx context.Context, companyID string) (company.ModuleSet, error)

	// Users and sessions
	GetUser(ctx context.Context, id string) (*identity.User, error)
	GetUserByEmail(ctx context.Context, email string) (*identity.User, error)
	ListUsersByCompany(ctx context.Context, companyID string) ([]identity.User, error)
	CreateRefreshToken(ctx context.Context, rt *identity.RefreshToken) error
	GetRefreshTokenByHash(ctx context.Context, hash string) (*identity.RefreshToken, error)
	RotateRefreshToken(ctx context.Context, oldID string, replacement *identity.RefreshToken) error
	DeleteRefreshToken(ctx context.Context, id string) error
	DeleteRefreshTokensForUser(ctx context.Context, userID string) error

	// Payroll
	ListPayrollRuns(ctx context.Context, companyID string, limit int) ([]payroll.Run, error)

	// Audit log
	CreateSecurityEvent(ctx context.Context, ev *event.SecurityEvent) error
	ListSecurityEvents(ctx context.Context, limit int) ([]event.SecurityEvent, error)
}
