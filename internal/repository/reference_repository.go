package repository

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/campus-invoicing-api/internal/models"
)

// ReferenceRepository reads the static lookup tables.
type ReferenceRepository struct {
	db *sqlx.DB
}

// NewReferenceRepository constructs a ReferenceRepository.
func NewReferenceRepository(db *sqlx.DB) *ReferenceRepository {
	return &ReferenceRepository{db: db}
}

// ListCampuses returns active campuses ordered by name.
func (r *ReferenceRepository) ListCampuses(ctx context.Context) ([]models.Campus, error) {
	const query = `SELECT id, name, code, address, active, created_at FROM campuses WHERE active = TRUE ORDER BY name`
	var campuses []models.Campus
	if err := sqlx.SelectContext(ctx, conn(ctx, r.db), &campuses, query); err != nil {
		return nil, fmt.Errorf("list campuses: %w", err)
	}
	return campuses, nil
}

// FindCampusByID returns a campus.
func (r *ReferenceRepository) FindCampusByID(ctx context.Context, id string) (*models.Campus, error) {
	const query = `SELECT id, name, code, address, active, created_at FROM campuses WHERE id = $1`
	var campus models.Campus
	if err := sqlx.GetContext(ctx, conn(ctx, r.db), &campus, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find campus: %w", err)
	}
	return &campus, nil
}

// ListFilieres returns every field of study.
func (r *ReferenceRepository) ListFilieres(ctx context.Context) ([]models.Filiere, error) {
	const query = `SELECT id, code, name FROM filieres ORDER BY code`
	var filieres []models.Filiere
	if err := sqlx.SelectContext(ctx, conn(ctx, r.db), &filieres, query); err != nil {
		return nil, fmt.Errorf("list filieres: %w", err)
	}
	return filieres, nil
}

// ListClasses returns classes, optionally restricted to a campus and/or filiere.
func (r *ReferenceRepository) ListClasses(ctx context.Context, campusID, filiereID *string) ([]models.Class, error) {
	where := sq.Eq{}
	if campusID != nil {
		where["campus_id"] = *campusID
	}
	if filiereID != nil {
		where["filiere_id"] = *filiereID
	}
	query, args, err := psql.Select("id", "name", "filiere_id", "campus_id").From("classes").Where(where).OrderBy("name").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build class query: %w", err)
	}
	var classes []models.Class
	if err := sqlx.SelectContext(ctx, conn(ctx, r.db), &classes, query, args...); err != nil {
		return nil, fmt.Errorf("list classes: %w", err)
	}
	return classes, nil
}

// ListCourseTitles returns course titles, optionally restricted to a filiere.
func (r *ReferenceRepository) ListCourseTitles(ctx context.Context, filiereID *string) ([]models.CourseTitle, error) {
	where := sq.Eq{}
	if filiereID != nil {
		where["filiere_id"] = *filiereID
	}
	query, args, err := psql.Select("id", "title", "filiere_id").From("course_titles").Where(where).OrderBy("title").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build course title query: %w", err)
	}
	var titles []models.CourseTitle
	if err := sqlx.SelectContext(ctx, conn(ctx, r.db), &titles, query, args...); err != nil {
		return nil, fmt.Errorf("list course titles: %w", err)
	}
	return titles, nil
}
