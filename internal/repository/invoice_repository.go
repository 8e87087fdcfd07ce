package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/campus-invoicing-api/internal/models"
)

// ErrDuplicate is returned when a unique constraint rejects an insert.
var ErrDuplicate = errors.New("duplicate record")

var invoiceColumns = []string{
	"i.id", "i.teacher_id", "i.campus_id", "i.month", "i.year", "i.total_hours", "i.total_amount",
	"i.status", "i.submitted_at", "i.created_at", "i.updated_at",
	"NULLIF(TRIM(p.first_name || ' ' || p.last_name), '') AS teacher_name", "c.name AS campus_name",
}

// InvoiceRepository persists invoices, their lines, validation logs and payments.
type InvoiceRepository struct {
	db *sqlx.DB
}

// NewInvoiceRepository constructs an InvoiceRepository.
func NewInvoiceRepository(db *sqlx.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

func (r *InvoiceRepository) selectInvoices() sq.SelectBuilder {
	return psql.Select(invoiceColumns...).
		From("invoices i").
		LeftJoin("profiles p ON p.id = i.teacher_id").
		LeftJoin("campuses c ON c.id = i.campus_id")
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// Create inserts the invoice and its lines. Call it inside a transaction.
func (r *InvoiceRepository) Create(ctx context.Context, invoice *models.Invoice) error {
	if invoice.ID == "" {
		invoice.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if invoice.SubmittedAt.IsZero() {
		invoice.SubmittedAt = now
	}
	invoice.CreatedAt = now
	invoice.UpdatedAt = now
	if invoice.Status == "" {
		invoice.Status = models.InvoiceStatusPending
	}

	const query = `INSERT INTO invoices (id, teacher_id, campus_id, month, year, total_hours, total_amount, status, submitted_at, created_at, updated_at)
VALUES (:id, :teacher_id, :campus_id, :month, :year, :total_hours, :total_amount, :status, :submitted_at, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, conn(ctx, r.db), query, invoice); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create invoice: %w", err)
	}
	return r.insertLines(ctx, invoice.ID, invoice.Lines)
}

func (r *InvoiceRepository) insertLines(ctx context.Context, invoiceID string, lines []models.InvoiceLine) error {
	if len(lines) == 0 {
		return nil
	}
	builder := psql.Insert("invoice_lines").Columns(
		"id", "invoice_id", "session_date", "start_time", "end_time", "hours", "unit_price", "amount",
		"course_title", "campus_id", "filiere_id", "class_name",
	)
	for i := range lines {
		line := &lines[i]
		if line.ID == "" {
			line.ID = uuid.NewString()
		}
		line.InvoiceID = invoiceID
		builder = builder.Values(line.ID, invoiceID, line.SessionDate, line.StartTime, line.EndTime, line.Hours,
			line.UnitPrice, line.Amount, line.CourseTitle, line.CampusID, line.FiliereID, line.ClassName)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build invoice lines insert: %w", err)
	}
	if _, err := conn(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert invoice lines: %w", err)
	}
	return nil
}

// FindByID returns an invoice without its lines.
func (r *InvoiceRepository) FindByID(ctx context.Context, id string) (*models.Invoice, error) {
	query, args, err := r.selectInvoices().Where(sq.Eq{"i.id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build invoice query: %w", err)
	}
	var invoice models.Invoice
	if err := sqlx.GetContext(ctx, conn(ctx, r.db), &invoice, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find invoice: %w", err)
	}
	return &invoice, nil
}

// ListLines returns the lines of an invoice in session order.
func (r *InvoiceRepository) ListLines(ctx context.Context, invoiceID string) ([]models.InvoiceLine, error) {
	const query = `SELECT id, invoice_id, session_date, start_time, end_time, hours, unit_price, amount, course_title, campus_id, filiere_id, class_name
FROM invoice_lines WHERE invoice_id = $1 ORDER BY session_date, start_time`
	var lines []models.InvoiceLine
	if err := sqlx.SelectContext(ctx, conn(ctx, r.db), &lines, query, invoiceID); err != nil {
		return nil, fmt.Errorf("list invoice lines: %w", err)
	}
	return lines, nil
}

func invoiceWhere(filter models.InvoiceFilter) sq.And {
	where := sq.And{}
	if filter.Status != nil {
		where = append(where, sq.Eq{"i.status": *filter.Status})
	}
	if filter.CampusID != nil {
		where = append(where, sq.Eq{"i.campus_id": *filter.CampusID})
	}
	if filter.TeacherID != nil {
		where = append(where, sq.Eq{"i.teacher_id": *filter.TeacherID})
	}
	if filter.Month != nil {
		where = append(where, sq.Eq{"i.month": *filter.Month})
	}
	if filter.Year != nil {
		where = append(where, sq.Eq{"i.year": *filter.Year})
	}
	return where
}

// List returns a page of invoices and the total count.
func (r *InvoiceRepository) List(ctx context.Context, filter models.InvoiceFilter) ([]models.Invoice, int, error) {
	where := invoiceWhere(filter)
	page, pageSize := normalizePage(filter.Page, filter.PageSize)
	query, args, err := r.selectInvoices().
		Where(where).
		OrderBy("i.year DESC", "i.month DESC", "i.submitted_at DESC").
		Limit(uint64(pageSize)).
		Offset(uint64((page - 1) * pageSize)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build invoice list: %w", err)
	}
	var invoices []models.Invoice
	if err := sqlx.SelectContext(ctx, conn(ctx, r.db), &invoices, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list invoices: %w", err)
	}

	countQuery, countArgs, err := psql.Select("COUNT(*)").From("invoices i").Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build invoice count: %w", err)
	}
	var total int
	if err := sqlx.GetContext(ctx, conn(ctx, r.db), &total, countQuery, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("count invoices: %w", err)
	}
	return invoices, total, nil
}

// ListAll returns every invoice matching filter, ordered by campus then teacher.
func (r *InvoiceRepository) ListAll(ctx context.Context, filter models.InvoiceFilter) ([]models.Invoice, error) {
	query, args, err := r.selectInvoices().
		Where(invoiceWhere(filter)).
		OrderBy("c.name", "p.last_name", "p.first_name").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build invoice export: %w", err)
	}
	var invoices []models.Invoice
	if err := sqlx.SelectContext(ctx, conn(ctx, r.db), &invoices, query, args...); err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	return invoices, nil
}

// UpdateStatus moves an invoice from one status to another. It reports false when the
// invoice is no longer in the expected status, which callers treat as a conflict.
func (r *InvoiceRepository) UpdateStatus(ctx context.Context, id string, from, to models.InvoiceStatus, at time.Time) (bool, error) {
	const query = `UPDATE invoices SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`
	res, err := conn(ctx, r.db).ExecContext(ctx, query, id, from, to, at)
	if err != nil {
		return false, fmt.Errorf("update invoice status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update invoice status: %w", err)
	}
	return n == 1, nil
}

// InsertLog appends a validation log entry.
func (r *InvoiceRepository) InsertLog(ctx context.Context, entry *models.ValidationLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO validation_logs (id, invoice_id, actor_id, actor_role, action, previous_status, new_status, comment, created_at)
VALUES (:id, :invoice_id, :actor_id, :actor_role, :action, :previous_status, :new_status, :comment, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, conn(ctx, r.db), query, entry); err != nil {
		return fmt.Errorf("insert validation log: %w", err)
	}
	return nil
}

// ListLogs returns the transition history of an invoice, oldest first.
func (r *InvoiceRepository) ListLogs(ctx context.Context, invoiceID string) ([]models.ValidationLogEntry, error) {
	const query = `SELECT id, invoice_id, actor_id, actor_role, action, previous_status, new_status, comment, created_at
FROM validation_logs WHERE invoice_id = $1 ORDER BY created_at`
	var entries []models.ValidationLogEntry
	if err := sqlx.SelectContext(ctx, conn(ctx, r.db), &entries, query, invoiceID); err != nil {
		return nil, fmt.Errorf("list validation logs: %w", err)
	}
	return entries, nil
}

// InsertPayment records a payment.
func (r *InvoiceRepository) InsertPayment(ctx context.Context, payment *models.Payment) error {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	const query = `INSERT INTO payments (id, invoice_id, amount, paid_at, method, reference, recorded_by)
VALUES (:id, :invoice_id, :amount, :paid_at, :method, :reference, :recorded_by)`
	if _, err := sqlx.NamedExecContext(ctx, conn(ctx, r.db), query, payment); err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// Delete removes an invoice; lines, logs and payments cascade.
func (r *InvoiceRepository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := conn(ctx, r.db).ExecContext(ctx, `DELETE FROM invoices WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete invoice: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete invoice: %w", err)
	}
	return n == 1, nil
}

// ReplaceLines swaps the lines of a pending invoice and stores the new totals.
// It reports false when the invoice is not pending anymore. Call it inside a transaction.
func (r *InvoiceRepository) ReplaceLines(ctx context.Context, id string, lines []models.InvoiceLine, totalHours, totalAmount float64) (bool, error) {
	const update = `UPDATE invoices SET total_hours = $2, total_amount = $3, updated_at = $4 WHERE id = $1 AND status = $5`
	res, err := conn(ctx, r.db).ExecContext(ctx, update, id, totalHours, totalAmount, time.Now().UTC(), models.InvoiceStatusPending)
	if err != nil {
		return false, fmt.Errorf("update invoice totals: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return false, err
	}
	if _, err := conn(ctx, r.db).ExecContext(ctx, `DELETE FROM invoice_lines WHERE invoice_id = $1`, id); err != nil {
		return false, fmt.Errorf("delete invoice lines: %w", err)
	}
	if err := r.insertLines(ctx, id, lines); err != nil {
		return false, err
	}
	return true, nil
}

// TeachersWithoutInvoice returns active teachers that have not submitted any invoice for the period.
func (r *InvoiceRepository) TeachersWithoutInvoice(ctx context.Context, month, year int) ([]models.Profile, error) {
	const query = `SELECT p.id, p.email, p.first_name, p.last_name, p.role, p.campus_id, p.active, p.created_at, p.updated_at
FROM profiles p
WHERE p.role = $1 AND p.active = TRUE
AND NOT EXISTS (SELECT 1 FROM invoices i WHERE i.teacher_id = p.id AND i.month = $2 AND i.year = $3)
ORDER BY p.last_name`
	var profiles []models.Profile
	if err := sqlx.SelectContext(ctx, conn(ctx, r.db), &profiles, query, models.RoleTeacher, month, year); err != nil {
		return nil, fmt.Errorf("teachers without invoice: %w", err)
	}
	return profiles, nil
}

// ListStale returns invoices sitting in status since before the cutoff.
func (r *InvoiceRepository) ListStale(ctx context.Context, status models.InvoiceStatus, before time.Time) ([]models.Invoice, error) {
	query, args, err := r.selectInvoices().
		Where(sq.Eq{"i.status": status}).
		Where(sq.Lt{"i.updated_at": before}).
		OrderBy("i.updated_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build stale invoice query: %w", err)
	}
	var invoices []models.Invoice
	if err := sqlx.SelectContext(ctx, conn(ctx, r.db), &invoices, query, args...); err != nil {
		return nil, fmt.Errorf("list stale invoices: %w", err)
	}
	return invoices, nil
}
