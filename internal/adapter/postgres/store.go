package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/peopleforge/peopleforge/internal/domain"
	"github.com/peopleforge/peopleforge/internal/domain/company"
	"github.com/peopleforge/peopleforge/internal/domain/event"
	"github.com/peopleforge/peopleforge/internal/domain/identity"
	"github.com/peopleforge/peopleforge/internal/domain/payroll"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Companies ---

// isAbsence reports whether err means the row does not exist rather than the
// database failing. Malformed UUID input (SQLSTATE 22P02) counts as absence:
// client-supplied ids reach these lookups, and a garbage id must not register
// as a directory outage.
func isAbsence(err error) bool {
	if errors.Is(err, pgx.ErrNoRows) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}

func (s *Store) GetCompanyByID(ctx context.Context, id string) (*company.Company, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, subdomain, active, created_at, updated_at
		 FROM companies WHERE id = $1`, id)

	c, err := scanCompany(row)
	if err != nil {
		if isAbsence(err) {
			return nil, fmt.Errorf("get company %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get company %s: %w", id, err)
	}
	return &c, nil
}

// GetCompanyBySubdomain matches case-insensitively: callers pass a lowered
// subdomain but stored values are not guaranteed lowercase.
func (s *Store) GetCompanyBySubdomain(ctx context.Context, subdomain string) (*company.Company, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, subdomain, active, created_at, updated_at
		 FROM companies WHERE LOWER(subdomain) = $1`, subdomain)

	c, err := scanCompany(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get company by subdomain %s: %w", subdomain, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get company by subdomain %s: %w", subdomain, err)
	}
	return &c, nil
}

// --- Module entitlements ---

func (s *Store) ListEnabledModules(ctx context.Context, companyID string) (company.ModuleSet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT module FROM company_modules WHERE company_id = $1 AND enabled`, companyID)
	if err != nil {
		return nil, fmt.Errorf("list modules for company %s: %w", companyID, err)
	}
	defer rows.Close()

	set := make(company.ModuleSet)
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("scan module: %w", err)
		}
		set[company.Module(m)] = true
	}
	return set, rows.Err()
}

// --- Users ---

func (s *Store) GetUser(ctx context.Context, id string) (*identity.User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, company_id, email, name, password_hash, role_ids, permissions, token_version, superadmin, enabled, created_at, updated_at
		 FROM users WHERE id = $1`, id)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get user %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return &u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*identity.User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, company_id, email, name, password_hash, role_ids, permissions, token_version, superadmin, enabled, created_at, updated_at
		 FROM users WHERE email = $1`, email)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get user by email: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &u, nil
}

func (s *Store) ListUsersByCompany(ctx context.Context, companyID string) ([]identity.User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, company_id, email, name, password_hash, role_ids, permissions, token_version, superadmin, enabled, created_at, updated_at
		 FROM users WHERE company_id = $1 ORDER BY created_at ASC`, companyID)
	if err != nil {
		return nil, fmt.Errorf("list users for company %s: %w", companyID, err)
	}
	defer rows.Close()

	var users []identity.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// --- Payroll runs ---

func (s *Store) ListPayrollRuns(ctx context.Context, companyID string, limit int) ([]payroll.Run, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, company_id, period_start, period_end, status, total_cents, created_at
		 FROM payroll_runs WHERE company_id = $1 ORDER BY period_start DESC LIMIT $2`, companyID, limit)
	if err != nil {
		return nil, fmt.Errorf("list payroll runs for company %s: %w", companyID, err)
	}
	defer rows.Close()

	var runs []payroll.Run
	for rows.Next() {
		var p payroll.Run
		if err := rows.Scan(&p.ID, &p.CompanyID, &p.PeriodStart, &p.PeriodEnd, &p.Status, &p.TotalCents, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payroll run: %w", err)
		}
		runs = append(runs, p)
	}
	return runs, rows.Err()
}

// --- Refresh tokens ---

func (s *Store) CreateRefreshToken(ctx context.Context, rt *identity.RefreshToken) error {
	return s.pool.QueryRow(ctx,
		`INSERT INTO refresh_tokens (user_id, token_hash, expires_at)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		rt.UserID, rt.TokenHash, rt.ExpiresAt,
	).Scan(&rt.ID, &rt.CreatedAt)
}

func (s *Store) GetRefreshTokenByHash(ctx context.Context, hash string) (*identity.RefreshToken, error) {
	var rt identity.RefreshToken
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, token_hash, expires_at, created_at
		 FROM refresh_tokens WHERE token_hash = $1`, hash,
	).Scan(&rt.ID, &rt.UserID, &rt.TokenHash, &rt.ExpiresAt, &rt.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get refresh token: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get refresh token: %w", err)
	}
	return &rt, nil
}

// RotateRefreshToken atomically replaces an old refresh token with a new one.
func (s *Store) RotateRefreshToken(ctx context.Context, oldID string, replacement *identity.RefreshToken) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	tag, err := tx.Exec(ctx, `DELETE FROM refresh_tokens WHERE id = $1`, oldID)
	if err != nil {
		return fmt.Errorf("delete old refresh token %s: %w", oldID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete old refresh token %s: %w", oldID, domain.ErrNotFound)
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO refresh_tokens (user_id, token_hash, expires_at)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		replacement.UserID, replacement.TokenHash, replacement.ExpiresAt,
	).Scan(&replacement.ID, &replacement.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert replacement refresh token: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *Store) DeleteRefreshToken(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete refresh token %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete refresh token %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteRefreshTokensForUser(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete refresh tokens for user %s: %w", userID, err)
	}
	return nil
}

// --- Security events ---

func (s *Store) CreateSecurityEvent(ctx context.Context, ev *event.SecurityEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO security_events (id, kind, severity, client_ip, method, path, user_id, company_id, detail, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ev.ID, string(ev.Kind), string(ev.Severity), ev.ClientIP, ev.Method, ev.Path, ev.UserID, ev.CompanyID, ev.Detail, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("create security event: %w", err)
	}
	return nil
}

func (s *Store) ListSecurityEvents(ctx context.Context, limit int) ([]event.SecurityEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, kind, severity, client_ip, method, path, user_id, company_id, detail, created_at
		 FROM security_events ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list security events: %w", err)
	}
	defer rows.Close()

	var events []event.SecurityEvent
	for rows.Next() {
		var ev event.SecurityEvent
		if err := rows.Scan(&ev.ID, &ev.Kind, &ev.Severity, &ev.ClientIP, &ev.Method, &ev.Path, &ev.UserID, &ev.CompanyID, &ev.Detail, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan security event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// --- Scanners ---

type scannable interface {
	Scan(dest ...any) error
}

func scanCompany(row scannable) (company.Company, error) {
	var c company.Company
	err := row.Scan(&c.ID, &c.Name, &c.Subdomain, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func scanUser(row scannable) (identity.User, error) {
	var u identity.User
	err := row.Scan(&u.ID, &u.CompanyID, &u.Email, &u.Name, &u.PasswordHash,
		&u.RoleIDs, &u.Permissions, &u.TokenVersion, &u.Superadmin, &u.Enabled,
		&u.CreatedAt, &u.UpdatedAt)
	return u, err
}
