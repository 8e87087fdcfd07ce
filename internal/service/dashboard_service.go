package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/campus-invoicing-api/internal/dto"
	"github.com/noah-isme/campus-invoicing-api/internal/models"
	"github.com/noah-isme/campus-invoicing-api/internal/repository"
	appErrors "github.com/noah-isme/campus-invoicing-api/pkg/errors"
)

type dashboardAggregates interface {
	StatusTotals(ctx context.Context, filter models.InvoiceFilter) ([]repository.StatusTotal, error)
	CampusTotals(ctx context.Context, filter models.InvoiceFilter) ([]repository.CampusTotal, error)
	CountActiveTeachers(ctx context.Context, campusID *string) (int, error)
}

type missingBankDetailsCounter interface {
	CountMissingBankDetails(ctx context.Context) (int, error)
}

type recentInvoiceLister interface {
	List(ctx context.Context, filter models.InvoiceFilter) ([]models.Invoice, int, error)
}

type unreadCounter interface {
	UnreadCount(ctx context.Context, userID string) (int, error)
}

// DashboardServiceConfig tunes dashboard behaviour.
type DashboardServiceConfig struct {
	CacheTTL    time.Duration
	RecentLimit int
}

// DashboardService composes the role-scoped dashboard.
type DashboardService struct {
	aggregates dashboardAggregates
	bank       missingBankDetailsCounter
	invoices   recentInvoiceLister
	unread     unreadCounter
	cache      *CacheService
	logger     *zap.Logger
	now        func() time.Time
	cfg        DashboardServiceConfig
}

// DashboardServiceParams groups constructor dependencies.
type DashboardServiceParams struct {
	Aggregates    dashboardAggregates
	BankDetails   missingBankDetailsCounter
	Invoices      recentInvoiceLister
	Notifications unreadCounter
	Cache         *CacheService
	Logger        *zap.Logger
	Config        DashboardServiceConfig
}

// NewDashboardService constructs a DashboardService with sane defaults.
func NewDashboardService(params DashboardServiceParams) *DashboardService {
	cfg := params.Config
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = 5
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DashboardService{
		aggregates: params.Aggregates,
		bank:       params.BankDetails,
		invoices:   params.Invoices,
		unread:     params.Notifications,
		cache:      params.Cache,
		logger:     logger,
		now:        time.Now,
		cfg:        cfg,
	}
}

// ForActor returns the dashboard of a billing month and reports whether it came from the cache.
// A zero month or year means the current one. The unread counter is per user and never cached.
func (s *DashboardService) ForActor(ctx context.Context, actor models.Actor, month, year int) (*dto.DashboardResponse, bool, error) {
	now := s.now().UTC()
	if month == 0 {
		month = int(now.Month())
	}
	if year == 0 {
		year = now.Year()
	}
	if month < 1 || month > 12 || year < 2000 || year > 2100 {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "invalid month or year")
	}
	filter, err := ScopeInvoiceFilter(actor, models.InvoiceFilter{Month: &month, Year: &year})
	if err != nil {
		return nil, false, err
	}

	var summary dto.DashboardResponse
	hit, err := s.cache.Remember(ctx, DashboardKey(actor, month, year), s.cfg.CacheTTL, &summary, func(ctx context.Context) error {
		composed, err := s.compose(ctx, actor, filter, month, year)
		if err != nil {
			return err
		}
		summary = *composed
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if s.unread != nil {
		unread, err := s.unread.UnreadCount(ctx, actor.ID)
		if err != nil {
			s.logger.Warn("dashboard unread count failed", zap.String("user_id", actor.ID), zap.Error(err))
		}
		summary.UnreadNotifications = unread
	}
	return &summary, hit, nil
}

func (s *DashboardService) compose(ctx context.Context, actor models.Actor, filter models.InvoiceFilter, month, year int) (*dto.DashboardResponse, error) {
	summary := &dto.DashboardResponse{Scope: dashboardScope(actor), Month: month, Year: year, ByStatus: []dto.StatusSummary{}}

	totals, err := s.aggregates.StatusTotals(ctx, filter)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load dashboard totals")
	}
	for _, total := range totals {
		summary.ByStatus = append(summary.ByStatus, dto.StatusSummary{
			Status: total.Status,
			Count:  total.Count,
			Hours:  total.Hours,
			Amount: total.Amount,
		})
		summary.Totals.Invoices += total.Count
		switch total.Status {
		case models.InvoiceStatusRejected:
			continue
		case models.InvoiceStatusPaid:
			summary.Totals.PaidAmount += total.Amount
		case models.InvoiceStatusValidated:
			summary.Totals.AwaitingPay += total.Amount
		}
		summary.Totals.Hours += total.Hours
		summary.Totals.Amount += total.Amount
	}
	summary.Totals.Hours = roundCents(summary.Totals.Hours)
	summary.Totals.Amount = roundCents(summary.Totals.Amount)
	summary.Totals.PaidAmount = roundCents(summary.Totals.PaidAmount)
	summary.Totals.AwaitingPay = roundCents(summary.Totals.AwaitingPay)

	if actor.Role != models.RoleTeacher {
		campuses, err := s.aggregates.CampusTotals(ctx, filter)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to load campus totals")
		}
		summary.ByCampus = groupCampusTotals(campuses)

		active, err := s.aggregates.CountActiveTeachers(ctx, filter.CampusID)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to count teachers")
		}
		summary.ActiveTeachers = active
	}

	if (actor.Role == models.RoleSuperAdmin || actor.Role == models.RoleAccountant) && s.bank != nil {
		missing, err := s.bank.CountMissingBankDetails(ctx)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to count missing bank details")
		}
		summary.MissingBankDetails = missing
	}

	if s.invoices != nil {
		recentFilter := filter
		recentFilter.Page = 1
		recentFilter.PageSize = s.cfg.RecentLimit
		recent, _, err := s.invoices.List(ctx, recentFilter)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to load recent invoices")
		}
		summary.Recent = recent
	}
	return summary, nil
}

func dashboardScope(actor models.Actor) string {
	switch actor.Role {
	case models.RoleTeacher:
		return "teacher"
	case models.RoleCampusDirector:
		return "campus"
	default:
		return "all"
	}
}

func groupCampusTotals(rows []repository.CampusTotal) []dto.CampusSummary {
	var out []dto.CampusSummary
	index := make(map[string]int)
	for _, row := range rows {
		pos, ok := index[row.CampusID]
		if !ok {
			pos = len(out)
			index[row.CampusID] = pos
			out = append(out, dto.CampusSummary{
				CampusID:   row.CampusID,
				CampusName: row.CampusName,
				ByStatus:   map[models.InvoiceStatus]int{},
			})
		}
		out[pos].Count += row.Count
		out[pos].ByStatus[row.Status] += row.Count
		if row.Status != models.InvoiceStatusRejected {
			out[pos].Amount = roundCents(out[pos].Amount + row.Amount)
		}
	}
	return out
}
