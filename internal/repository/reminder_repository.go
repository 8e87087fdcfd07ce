package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/campus-invoicing-api/internal/models"
)

// ReminderRepository is the shared record of which reminders already fired on which day.
type ReminderRepository struct {
	db *sqlx.DB
}

// NewReminderRepository constructs a ReminderRepository.
func NewReminderRepository(db *sqlx.DB) *ReminderRepository {
	return &ReminderRepository{db: db}
}

// Claim records that kind fires for day. Exactly one caller per (kind, day) gets true,
// whichever replica or process asks first.
func (r *ReminderRepository) Claim(ctx context.Context, kind models.ReminderKind, day time.Time, at time.Time) (bool, error) {
	const query = `INSERT INTO reminder_runs (kind, run_date, fired_at) VALUES ($1, $2, $3) ON CONFLICT (kind, run_date) DO NOTHING`
	res, err := conn(ctx, r.db).ExecContext(ctx, query, kind, day.Format("2006-01-02"), at)
	if err != nil {
		return false, fmt.Errorf("claim reminder run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim reminder run: %w", err)
	}
	return n == 1, nil
}

// Release forgets a claim so the next tick retries the run.
func (r *ReminderRepository) Release(ctx context.Context, kind models.ReminderKind, day time.Time) error {
	const query = `DELETE FROM reminder_runs WHERE kind = $1 AND run_date = $2`
	if _, err := conn(ctx, r.db).ExecContext(ctx, query, kind, day.Format("2006-01-02")); err != nil {
		return fmt.Errorf("release reminder run: %w", err)
	}
	return nil
}

// SetRecipients stores how many users a claimed run notified.
func (r *ReminderRepository) SetRecipients(ctx context.Context, kind models.ReminderKind, day time.Time, recipients int) error {
	const query = `UPDATE reminder_runs SET recipients = $3 WHERE kind = $1 AND run_date = $2`
	if _, err := conn(ctx, r.db).ExecContext(ctx, query, kind, day.Format("2006-01-02"), recipients); err != nil {
		return fmt.Errorf("update reminder run: %w", err)
	}
	return nil
}

// ListRecent returns the latest runs, newest first.
func (r *ReminderRepository) ListRecent(ctx context.Context, limit int) ([]models.ReminderRun, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT kind, run_date, fired_at, recipients FROM reminder_runs ORDER BY run_date DESC, kind LIMIT $1`
	var runs []models.ReminderRun
	if err := sqlx.SelectContext(ctx, conn(ctx, r.db), &runs, query, limit); err != nil {
		return nil, fmt.Errorf("list reminder runs: %w", err)
	}
	return runs, nil
}
