package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/campus-invoicing-api/internal/models"
)

// CredentialRepository stores temporary access credentials. Rows are never deleted; they form the issuance history.
type CredentialRepository struct {
	db *sqlx.DB
}

// NewCredentialRepository constructs a CredentialRepository.
func NewCredentialRepository(db *sqlx.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// Create appends one credential issuance.
func (r *CredentialRepository) Create(ctx context.Context, cred *models.TempAccessCredential) error {
	if cred.ID == "" {
		cred.ID = uuid.NewString()
	}
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO temp_access_credentials (id, user_id, email, temp_password, created_at, exported, expires_at) VALUES (:id, :user_id, :email, :temp_password, :created_at, :exported, :expires_at)`
	if _, err := sqlx.NamedExecContext(ctx, conn(ctx, r.db), query, cred); err != nil {
		return fmt.Errorf("create credential: %w", err)
	}
	return nil
}

// LatestForUser returns the most recent credential issued to a user.
func (r *CredentialRepository) LatestForUser(ctx context.Context, userID string) (*models.TempAccessCredential, error) {
	const query = `SELECT id, user_id, email, temp_password, created_at, exported, exported_at, expires_at, redacted_at FROM temp_access_credentials WHERE user_id = $1 ORDER BY created_at DESC LIMIT 1`
	var cred models.TempAccessCredential
	if err := sqlx.GetContext(ctx, conn(ctx, r.db), &cred, query, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("latest credential: %w", err)
	}
	return &cred, nil
}

// CountForUser returns how many credentials were issued to a user.
func (r *CredentialRepository) CountForUser(ctx context.Context, userID string) (int, error) {
	const query = `SELECT COUNT(*) FROM temp_access_credentials WHERE user_id = $1`
	var total int
	if err := sqlx.GetContext(ctx, conn(ctx, r.db), &total, query, userID); err != nil {
		return 0, fmt.Errorf("count credentials: %w", err)
	}
	return total, nil
}

// ListForExport returns the latest unexpired credential of each matching user.
func (r *CredentialRepository) ListForExport(ctx context.Context, filter models.CredentialFilter) ([]models.CredentialExportRow, error) {
	now := filter.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	where := sq.And{
		sq.Gt{"t.expires_at": now},
		sq.Eq{"t.redacted_at": nil},
	}
	if filter.OnlyNew {
		where = append(where, sq.Eq{"t.exported": false})
	}
	if filter.Role != nil {
		where = append(where, sq.Eq{"p.role": *filter.Role})
	}
	if filter.CampusID != nil {
		where = append(where, sq.Eq{"p.campus_id": *filter.CampusID})
	}

	query, args, err := psql.Select(
		"DISTINCT ON (t.user_id) t.id", "t.email", "t.temp_password", "p.first_name", "p.last_name",
		"p.role", "c.name AS campus_name", "t.created_at", "t.exported",
	).
		From("temp_access_credentials t").
		Join("profiles p ON p.id = t.user_id").
		LeftJoin("campuses c ON c.id = p.campus_id").
		Where(where).
		OrderBy("t.user_id", "t.created_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build credential export query: %w", err)
	}
	var rows []models.CredentialExportRow
	if err := sqlx.SelectContext(ctx, conn(ctx, r.db), &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list credentials for export: %w", err)
	}
	return rows, nil
}

// MarkExported flags credentials as exported.
func (r *CredentialRepository) MarkExported(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := psql.Update("temp_access_credentials").
		Set("exported", true).
		Set("exported_at", at).
		Where(sq.Eq{"id": ids}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build mark exported: %w", err)
	}
	if _, err := conn(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark credentials exported: %w", err)
	}
	return nil
}

// RedactExpired blanks plaintext passwords whose validity has ended and returns how many were redacted.
func (r *CredentialRepository) RedactExpired(ctx context.Context, now time.Time) (int64, error) {
	const query = `UPDATE temp_access_credentials SET temp_password = '', redacted_at = $1 WHERE expires_at <= $1 AND redacted_at IS NULL`
	res, err := conn(ctx, r.db).ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("redact expired credentials: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("redact expired credentials: %w", err)
	}
	return n, nil
}
