package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/campus-invoicing-api/internal/models"
)

var profileColumns = []string{
	"p.id", "p.email", "p.first_name", "p.last_name", "p.phone", "p.role", "p.campus_id",
	"c.name AS campus_name", "p.is_new_teacher", "p.must_change_password", "p.active",
	"p.created_at", "p.updated_at",
}

// ProfileRepository persists user profiles (role, campus, contact details).
type ProfileRepository struct {
	db *sqlx.DB
}

// NewProfileRepository constructs a ProfileRepository.
func NewProfileRepository(db *sqlx.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

func (r *ProfileRepository) selectProfiles() sq.SelectBuilder {
	return psql.Select(profileColumns...).
		From("profiles p").
		LeftJoin("campuses c ON c.id = p.campus_id")
}

// FindByID returns the profile of a user.
func (r *ProfileRepository) FindByID(ctx context.Context, id string) (*models.Profile, error) {
	return r.findOne(ctx, sq.Eq{"p.id": id})
}

// FindByEmail returns the profile registered with email.
func (r *ProfileRepository) FindByEmail(ctx context.Context, email string) (*models.Profile, error) {
	return r.findOne(ctx, sq.Expr("LOWER(p.email) = ?", strings.ToLower(strings.TrimSpace(email))))
}

func (r *ProfileRepository) findOne(ctx context.Context, pred sq.Sqlizer) (*models.Profile, error) {
	query, args, err := r.selectProfiles().Where(pred).Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build profile query: %w", err)
	}
	var profile models.Profile
	if err := sqlx.GetContext(ctx, conn(ctx, r.db), &profile, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find profile: %w", err)
	}
	return &profile, nil
}

// Upsert creates the profile or refreshes its identity fields when it already exists.
func (r *ProfileRepository) Upsert(ctx context.Context, profile *models.Profile) error {
	now := time.Now().UTC()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	profile.UpdatedAt = now
	profile.Email = strings.ToLower(strings.TrimSpace(profile.Email))

	const query = `INSERT INTO profiles (id, email, first_name, last_name, phone, role, campus_id, is_new_teacher, must_change_password, active, created_at, updated_at)
VALUES (:id, :email, :first_name, :last_name, :phone, :role, :campus_id, :is_new_teacher, :must_change_password, :active, :created_at, :updated_at)
ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, first_name = EXCLUDED.first_name, last_name = EXCLUDED.last_name,
phone = EXCLUDED.phone, role = EXCLUDED.role, campus_id = EXCLUDED.campus_id, is_new_teacher = EXCLUDED.is_new_teacher,
must_change_password = EXCLUDED.must_change_password, active = EXCLUDED.active, updated_at = EXCLUDED.updated_at`
	if _, err := sqlx.NamedExecContext(ctx, conn(ctx, r.db), query, profile); err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// Update writes the administrable fields of a profile.
func (r *ProfileRepository) Update(ctx context.Context, profile *models.Profile) error {
	profile.UpdatedAt = time.Now().UTC()
	const query = `UPDATE profiles SET first_name = :first_name, last_name = :last_name, phone = :phone, role = :role, campus_id = :campus_id, is_new_teacher = :is_new_teacher, active = :active, updated_at = :updated_at WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, conn(ctx, r.db), query, profile)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetMustChangePassword toggles the forced password change flag.
func (r *ProfileRepository) SetMustChangePassword(ctx context.Context, id string, value bool) error {
	const query = `UPDATE profiles SET must_change_password = $2, updated_at = $3 WHERE id = $1`
	if _, err := conn(ctx, r.db).ExecContext(ctx, query, id, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("set must change password: %w", err)
	}
	return nil
}

// SetActive activates or deactivates a profile.
func (r *ProfileRepository) SetActive(ctx context.Context, id string, active bool) error {
	const query = `UPDATE profiles SET active = $2, updated_at = $3 WHERE id = $1`
	res, err := conn(ctx, r.db).ExecContext(ctx, query, id, active, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set profile active: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ExistingEmails returns the lower-cased emails among candidates that already have a profile, mapped to the profile id.
func (r *ProfileRepository) ExistingEmails(ctx context.Context, candidates []string) (map[string]string, error) {
	result := make(map[string]string)
	if len(candidates) == 0 {
		return result, nil
	}
	lowered := make([]string, 0, len(candidates))
	for _, c := range candidates {
		lowered = append(lowered, strings.ToLower(strings.TrimSpace(c)))
	}
	query, args, err := psql.Select("id", "LOWER(email) AS email").
		From("profiles").
		Where(sq.Eq{"LOWER(email)": lowered}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build existing emails query: %w", err)
	}
	var rows []struct {
		ID    string `db:"id"`
		Email string `db:"email"`
	}
	if err := sqlx.SelectContext(ctx, conn(ctx, r.db), &rows, query, args...); err != nil {
		return nil, fmt.Errorf("existing emails: %w", err)
	}
	for _, row := range rows {
		result[row.Email] = row.ID
	}
	return result, nil
}

// List returns profiles matching filter with the total count.
func (r *ProfileRepository) List(ctx context.Context, filter models.ProfileFilter) ([]models.Profile, int, error) {
	where := sq.And{}
	if len(filter.IDs) > 0 {
		where = append(where, sq.Eq{"p.id": filter.IDs})
	}
	if filter.Role != nil {
		where = append(where, sq.Eq{"p.role": *filter.Role})
	}
	if filter.CampusID != nil {
		where = append(where, sq.Eq{"p.campus_id": *filter.CampusID})
	}
	if filter.Active != nil {
		where = append(where, sq.Eq{"p.active": *filter.Active})
	}
	if filter.IsNewTeacher != nil {
		where = append(where, sq.Eq{"p.is_new_teacher": *filter.IsNewTeacher})
	}
	if filter.Search != "" {
		like := "%" + strings.ToLower(filter.Search) + "%"
		where = append(where, sq.Or{
			sq.Like{"LOWER(p.email)": like},
			sq.Like{"LOWER(p.first_name || ' ' || p.last_name)": like},
		})
	}

	page, pageSize := normalizePage(filter.Page, filter.PageSize)
	query, args, err := r.selectProfiles().
		Where(where).
		OrderBy("p.last_name ASC", "p.first_name ASC").
		Limit(uint64(pageSize)).
		Offset(uint64((page - 1) * pageSize)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build profile list: %w", err)
	}
	var profiles []models.Profile
	if err := sqlx.SelectContext(ctx, conn(ctx, r.db), &profiles, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list profiles: %w", err)
	}

	countQuery, countArgs, err := psql.Select("COUNT(*)").From("profiles p").Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build profile count: %w", err)
	}
	var total int
	if err := sqlx.GetContext(ctx, conn(ctx, r.db), &total, countQuery, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("count profiles: %w", err)
	}
	return profiles, total, nil
}

// ListAll returns every profile matching filter, ignoring pagination.
func (r *ProfileRepository) ListAll(ctx context.Context, filter models.ProfileFilter) ([]models.Profile, error) {
	where := sq.And{}
	if len(filter.IDs) > 0 {
		where = append(where, sq.Eq{"p.id": filter.IDs})
	}
	if filter.Role != nil {
		where = append(where, sq.Eq{"p.role": *filter.Role})
	}
	if filter.CampusID != nil {
		where = append(where, sq.Eq{"p.campus_id": *filter.CampusID})
	}
	if filter.Active != nil {
		where = append(where, sq.Eq{"p.active": *filter.Active})
	}
	if filter.IsNewTeacher != nil {
		where = append(where, sq.Eq{"p.is_new_teacher": *filter.IsNewTeacher})
	}
	query, args, err := r.selectProfiles().Where(where).OrderBy("p.last_name ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build profile list: %w", err)
	}
	var profiles []models.Profile
	if err := sqlx.SelectContext(ctx, conn(ctx, r.db), &profiles, query, args...); err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	return profiles, nil
}

// RecipientIDs resolves the active users matching a role and, when given, a campus.
func (r *ProfileRepository) RecipientIDs(ctx context.Context, q models.RecipientQuery) ([]string, error) {
	where := sq.Eq{"role": q.Role, "active": true}
	if q.CampusID != nil {
		where["campus_id"] = *q.CampusID
	}
	query, args, err := psql.Select("id").From("profiles").Where(where).OrderBy("id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build recipient query: %w", err)
	}
	var ids []string
	if err := sqlx.SelectContext(ctx, conn(ctx, r.db), &ids, query, args...); err != nil {
		return nil, fmt.Errorf("resolve recipients: %w", err)
	}
	return ids, nil
}
