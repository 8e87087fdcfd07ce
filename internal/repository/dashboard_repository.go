package repository

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/campus-invoicing-api/internal/models"
)

// StatusTotal aggregates invoices sharing a status.
type StatusTotal struct {
	Status models.InvoiceStatus `db:"status" json:"status"`
	Count  int                  `db:"count" json:"count"`
	Hours  float64              `db:"hours" json:"hours"`
	Amount float64              `db:"amount" json:"amount"`
}

// CampusTotal aggregates invoices of one campus and status.
type CampusTotal struct {
	CampusID   string               `db:"campus_id" json:"campus_id"`
	CampusName string               `db:"campus_name" json:"campus_name"`
	Status     models.InvoiceStatus `db:"status" json:"status"`
	Count      int                  `db:"count" json:"count"`
	Amount     float64              `db:"amount" json:"amount"`
}

// DashboardRepository runs the aggregate queries behind dashboards and monthly digests.
type DashboardRepository struct {
	db *sqlx.DB
}

// NewDashboardRepository constructs a DashboardRepository.
func NewDashboardRepository(db *sqlx.DB) *DashboardRepository {
	return &DashboardRepository{db: db}
}

// StatusTotals groups the invoices matching filter by status.
func (r *DashboardRepository) StatusTotals(ctx context.Context, filter models.InvoiceFilter) ([]StatusTotal, error) {
	query, args, err := psql.Select("i.status", "COUNT(*) AS count", "COALESCE(SUM(i.total_hours), 0) AS hours", "COALESCE(SUM(i.total_amount), 0) AS amount").
		From("invoices i").
		Where(invoiceWhere(filter)).
		GroupBy("i.status").
		OrderBy("i.status").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build status totals: %w", err)
	}
	var totals []StatusTotal
	if err := sqlx.SelectContext(ctx, conn(ctx, r.db), &totals, query, args...); err != nil {
		return nil, fmt.Errorf("status totals: %w", err)
	}
	return totals, nil
}

// CampusTotals groups the invoices matching filter by campus and status.
func (r *DashboardRepository) CampusTotals(ctx context.Context, filter models.InvoiceFilter) ([]CampusTotal, error) {
	query, args, err := psql.Select("i.campus_id", "c.name AS campus_name", "i.status", "COUNT(*) AS count", "COALESCE(SUM(i.total_amount), 0) AS amount").
		From("invoices i").
		Join("campuses c ON c.id = i.campus_id").
		Where(invoiceWhere(filter)).
		GroupBy("i.campus_id", "c.name", "i.status").
		OrderBy("c.name", "i.status").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build campus totals: %w", err)
	}
	var totals []CampusTotal
	if err := sqlx.SelectContext(ctx, conn(ctx, r.db), &totals, query, args...); err != nil {
		return nil, fmt.Errorf("campus totals: %w", err)
	}
	return totals, nil
}

// CountActiveTeachers counts active ENSEIGNANT profiles, optionally on one campus.
func (r *DashboardRepository) CountActiveTeachers(ctx context.Context, campusID *string) (int, error) {
	where := sq.Eq{"role": models.RoleTeacher, "active": true}
	if campusID != nil {
		where["campus_id"] = *campusID
	}
	query, args, err := psql.Select("COUNT(*)").From("profiles").Where(where).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build teacher count: %w", err)
	}
	var total int
	if err := sqlx.GetContext(ctx, conn(ctx, r.db), &total, query, args...); err != nil {
		return 0, fmt.Errorf("count teachers: %w", err)
	}
	return total, nil
}
