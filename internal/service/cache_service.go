package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/campus-invoicing-api/internal/models"
	appErrors "github.com/noah-isme/campus-invoicing-api/pkg/errors"
)

// DashboardCachePattern matches every cached dashboard; transitions invalidate it.
const DashboardCachePattern = "dash:*"

// CacheRepository abstracts persistence for cached payloads.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CacheService wraps the cache repository with metrics. A disabled or nil service
// behaves as a permanent miss so callers never branch on it.
type CacheService struct {
	repo       CacheRepository
	metrics    *MetricsService
	defaultTTL time.Duration
	logger     *zap.Logger
	enabled    bool
}

// NewCacheService constructs a cache service.
func NewCacheService(repo CacheRepository, metrics *MetricsService, defaultTTL time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{repo: repo, metrics: metrics, defaultTTL: defaultTTL, logger: logger, enabled: enabled}
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

// Get loads key into dest and reports whether it was a hit.
func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !s.Enabled() {
		return false, nil
	}
	start := time.Now()
	err := s.repo.Get(ctx, key, dest)
	s.metrics.RecordCacheOperation(err == nil, time.Since(start))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, appErrors.ErrCacheMiss):
		return false, nil
	default:
		s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return false, err
	}
}

// Set stores value under key; a zero ttl uses the default.
func (s *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !s.Enabled() {
		return nil
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	start := time.Now()
	err := s.repo.Set(ctx, key, value, ttl)
	s.metrics.ObserveCacheWrite(time.Since(start))
	if err != nil {
		s.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
	return err
}

// Remember serves dest from the cache, or fills it with load and caches the result.
// Cache failures degrade to calling load; only load errors are returned.
func (s *CacheService) Remember(ctx context.Context, key string, ttl time.Duration, dest interface{}, load func(ctx context.Context) error) (bool, error) {
	if hit, err := s.Get(ctx, key, dest); err == nil && hit {
		return true, nil
	}
	if err := load(ctx); err != nil {
		return false, err
	}
	_ = s.Set(ctx, key, dest, ttl)
	return false, nil
}

// Invalidate removes cached values matching pattern.
func (s *CacheService) Invalidate(ctx context.Context, pattern string) error {
	if !s.Enabled() {
		return nil
	}
	if err := s.repo.DeleteByPattern(ctx, pattern); err != nil {
		s.logger.Warn("cache invalidate failed", zap.String("pattern", pattern), zap.Error(err))
		return err
	}
	return nil
}

// DashboardKey identifies the dashboard an actor sees for a billing month. Teachers get
// their own entry, directors share one per campus and admins/accountants share the global one.
func DashboardKey(actor models.Actor, month, year int) string {
	scope := "all"
	switch actor.Role {
	case models.RoleTeacher:
		scope = "teacher:" + actor.ID
	case models.RoleCampusDirector:
		campus := ""
		if actor.CampusID != nil {
			campus = *actor.CampusID
		}
		scope = "campus:" + campus
	}
	return fmt.Sprintf("dash:%s:%04d-%02d", scope, year, month)
}
