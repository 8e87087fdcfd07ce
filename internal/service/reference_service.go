package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/campus-invoicing-api/internal/models"
	appErrors "github.com/noah-isme/campus-invoicing-api/pkg/errors"
)

type referenceRepository interface {
	ListCampuses(ctx context.Context) ([]models.Campus, error)
	FindCampusByID(ctx context.Context, id string) (*models.Campus, error)
	ListFilieres(ctx context.Context) ([]models.Filiere, error)
	ListClasses(ctx context.Context, campusID, filiereID *string) ([]models.Class, error)
	ListCourseTitles(ctx context.Context, filiereID *string) ([]models.CourseTitle, error)
}

const campusCacheKey = "ref:campuses"

// ReferenceService serves the read-only catalogues (campuses, filieres, classes, course titles).
type ReferenceService struct {
	repo   referenceRepository
	cache  *CacheService
	ttl    time.Duration
	logger *zap.Logger
}

// NewReferenceService constructs a ReferenceService.
func NewReferenceService(repo referenceRepository, cache *CacheService, logger *zap.Logger) *ReferenceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReferenceService{repo: repo, cache: cache, ttl: time.Hour, logger: logger}
}

// ListCampuses returns every campus, served from cache when possible.
func (s *ReferenceService) ListCampuses(ctx context.Context) ([]models.Campus, error) {
	var campuses []models.Campus
	_, err := s.cache.Remember(ctx, campusCacheKey, s.ttl, &campuses, func(ctx context.Context) error {
		var err error
		campuses, err = s.repo.ListCampuses(ctx)
		return err
	})
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list campuses")
	}
	return campuses, nil
}

// GetCampus returns one campus.
func (s *ReferenceService) GetCampus(ctx context.Context, id string) (*models.Campus, error) {
	campus, err := s.repo.FindCampusByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "campus not found")
		}
		return nil, appErrors.Internal(err, "failed to load campus")
	}
	return campus, nil
}

// CampusIndex maps canonical campus names to campuses.
func (s *ReferenceService) CampusIndex(ctx context.Context) (map[string]models.Campus, error) {
	campuses, err := s.ListCampuses(ctx)
	if err != nil {
		return nil, err
	}
	index := make(map[string]models.Campus, len(campuses))
	for _, c := range campuses {
		index[c.Name] = c
	}
	return index, nil
}

// ListFilieres returns every filiere.
func (s *ReferenceService) ListFilieres(ctx context.Context) ([]models.Filiere, error) {
	items, err := s.repo.ListFilieres(ctx)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list filieres")
	}
	return items, nil
}

// ListClasses returns classes, optionally narrowed to a campus and a filiere.
func (s *ReferenceService) ListClasses(ctx context.Context, campusID, filiereID *string) ([]models.Class, error) {
	items, err := s.repo.ListClasses(ctx, campusID, filiereID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list classes")
	}
	return items, nil
}

// ListCourseTitles returns course titles, optionally narrowed to a filiere.
func (s *ReferenceService) ListCourseTitles(ctx context.Context, filiereID *string) ([]models.CourseTitle, error) {
	items, err := s.repo.ListCourseTitles(ctx, filiereID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list course titles")
	}
	return items, nil
}
