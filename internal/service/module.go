package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/peopleforge/peopleforge/internal/domain/company"
	"github.com/peopleforge/peopleforge/internal/port/cache"
	"github.com/peopleforge/peopleforge/internal/port/database"
	"github.com/peopleforge/peopleforge/internal/resilience"
)

// ModuleService answers "which feature modules are enabled for this company",
// with the same short-TTL caching as tenant resolution. Lookups fail closed:
// a store error is returned to the caller, never treated as "all enabled".
type ModuleService struct {
	store   database.Store
	cache   cache.Cache
	breaker *resilience.Breaker
	ttl     time.Duration
	timeout time.Duration
	log     *slog.Logger
}

// NewModuleService creates a ModuleService.
func NewModuleService(store database.Store, c cache.Cache, breaker *resilience.Breaker, ttl, timeout time.Duration, log *slog.Logger) *ModuleService {
	return &ModuleService{
		store:   store,
		cache:   c,
		breaker: breaker,
		ttl:     ttl,
		timeout: timeout,
		log:     log,
	}
}

func moduleKey(companyID string) string { return "modules:" + companyID }

// EnabledModules returns the set of modules enabled for the company.
func (s *ModuleService) EnabledModules(ctx context.Context, companyID string) (company.ModuleSet, error) {
	if data, ok, err := s.cache.Get(ctx, moduleKey(companyID)); err == nil && ok {
		var modules []company.Module
		if err := json.Unmarshal(data, &modules); err == nil {
			set := make(company.ModuleSet, len(modules))
			for _, m := range modules {
				set[m] = true
			}
			return set, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var set company.ModuleSet
	err := s.breaker.Execute(func() error {
		var err error
		set, err = s.store.ListEnabledModules(ctx, companyID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list enabled modules for %s: %w", companyID, err)
	}

	modules := make([]company.Module, 0, len(set))
	for m := range set {
		modules = append(modules, m)
	}
	if data, err := json.Marshal(modules); err == nil {
		if err := s.cache.Set(ctx, moduleKey(companyID), data, s.ttl); err != nil {
			s.log.Warn("module cache set failed", "company_id", companyID, "error", err)
		}
	}
	return set, nil
}

// Invalidate drops the cached entitlements for one company, making a module
// toggle visible before the TTL elapses.
func (s *ModuleService) Invalidate(ctx context.Context, companyID string) {
	if err := s.cache.Delete(ctx, moduleKey(companyID)); err != nil {
		s.log.Warn("module cache delete failed", "company_id", companyID, "error", err)
	}
}
