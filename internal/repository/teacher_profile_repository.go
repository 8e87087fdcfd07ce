package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/campus-invoicing-api/internal/models"
)

// missingRIB matches a teacher profile with at least one empty bank field (or no row at all).
const missingRIB = `(tp.user_id IS NULL OR COALESCE(tp.iban, '') = '' OR COALESCE(tp.bic, '') = '' OR COALESCE(tp.account_holder, '') = '' OR COALESCE(tp.bank_name, '') = '')`

// TeacherProfileRepository stores banking details and rates of teachers.
type TeacherProfileRepository struct {
	db *sqlx.DB
}

// NewTeacherProfileRepository constructs a TeacherProfileRepository.
func NewTeacherProfileRepository(db *sqlx.DB) *TeacherProfileRepository {
	return &TeacherProfileRepository{db: db}
}

// FindByUserID returns the teacher profile of a user.
func (r *TeacherProfileRepository) FindByUserID(ctx context.Context, userID string) (*models.TeacherProfile, error) {
	const query = `SELECT user_id, iban, bic, account_holder, bank_name, rate_min, rate_max, updated_at FROM teacher_profiles WHERE user_id = $1`
	var tp models.TeacherProfile
	if err := sqlx.GetContext(ctx, conn(ctx, r.db), &tp, query, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find teacher profile: %w", err)
	}
	return &tp, nil
}

// CreateDefault inserts a teacher profile with the given rate bounds unless one exists.
func (r *TeacherProfileRepository) CreateDefault(ctx context.Context, userID string, rateMin, rateMax float64) error {
	const query = `INSERT INTO teacher_profiles (user_id, rate_min, rate_max, updated_at) VALUES ($1, $2, $3, $4) ON CONFLICT (user_id) DO NOTHING`
	if _, err := conn(ctx, r.db).ExecContext(ctx, query, userID, rateMin, rateMax, time.Now().UTC()); err != nil {
		return fmt.Errorf("create teacher profile: %w", err)
	}
	return nil
}

// UpdateBankDetails stores the RIB of a teacher, creating the row when missing.
func (r *TeacherProfileRepository) UpdateBankDetails(ctx context.Context, userID string, details models.BankDetails) error {
	const query = `INSERT INTO teacher_profiles (user_id, iban, bic, account_holder, bank_name, updated_at) VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (user_id) DO UPDATE SET iban = EXCLUDED.iban, bic = EXCLUDED.bic, account_holder = EXCLUDED.account_holder, bank_name = EXCLUDED.bank_name, updated_at = EXCLUDED.updated_at`
	if _, err := conn(ctx, r.db).ExecContext(ctx, query, userID, details.IBAN, details.BIC, details.AccountHolder, details.BankName, time.Now().UTC()); err != nil {
		return fmt.Errorf("update bank details: %w", err)
	}
	return nil
}

// ListMissingBankDetails returns active teachers whose RIB is incomplete.
func (r *TeacherProfileRepository) ListMissingBankDetails(ctx context.Context) ([]models.Profile, error) {
	query := `SELECT p.id, p.email, p.first_name, p.last_name, p.role, p.campus_id, p.active, p.created_at, p.updated_at
FROM profiles p LEFT JOIN teacher_profiles tp ON tp.user_id = p.id
WHERE p.role = $1 AND p.active = TRUE AND ` + missingRIB + ` ORDER BY p.last_name`
	var profiles []models.Profile
	if err := sqlx.SelectContext(ctx, conn(ctx, r.db), &profiles, query, models.RoleTeacher); err != nil {
		return nil, fmt.Errorf("list missing bank details: %w", err)
	}
	return profiles, nil
}

// CountMissingBankDetails counts active teachers whose RIB is incomplete.
func (r *TeacherProfileRepository) CountMissingBankDetails(ctx context.Context) (int, error) {
	query := `SELECT COUNT(*) FROM profiles p LEFT JOIN teacher_profiles tp ON tp.user_id = p.id WHERE p.role = $1 AND p.active = TRUE AND ` + missingRIB
	var total int
	if err := sqlx.GetContext(ctx, conn(ctx, r.db), &total, query, models.RoleTeacher); err != nil {
		return 0, fmt.Errorf("count missing bank details: %w", err)
	}
	return total, nil
}
