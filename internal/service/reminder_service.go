package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/campus-invoicing-api/internal/models"
	appErrors "github.com/noah-isme/campus-invoicing-api/pkg/errors"
)

type reminderStore interface {
	Claim(ctx context.Context, kind models.ReminderKind, day time.Time, at time.Time) (bool, error)
	Release(ctx context.Context, kind models.ReminderKind, day time.Time) error
	SetRecipients(ctx context.Context, kind models.ReminderKind, day time.Time, recipients int) error
	ListRecent(ctx context.Context, limit int) ([]models.ReminderRun, error)
}

type reminderInvoiceSource interface {
	TeachersWithoutInvoice(ctx context.Context, month, year int) ([]models.Profile, error)
	ListStale(ctx context.Context, status models.InvoiceStatus, before time.Time) ([]models.Invoice, error)
	ListAll(ctx context.Context, filter models.InvoiceFilter) ([]models.Invoice, error)
}

type missingBankDetailsLister interface {
	ListMissingBankDetails(ctx context.Context) ([]models.Profile, error)
}

type credentialPurger interface {
	RedactExpired(ctx context.Context, now time.Time) (int64, error)
}

// ReminderConfig tunes the reminder calendar.
type ReminderConfig struct {
	Interval           time.Duration
	EndOfMonthDay      int
	BankDetailsWeekday time.Weekday
	OverdueAfter       time.Duration
	Location           *time.Location
}

type reminder struct {
	kind models.ReminderKind
	due  func(local time.Time) bool
	fire func(ctx context.Context, now, local time.Time) (int, error)
}

// ReminderService fires calendar reminders. Each (kind, day) is claimed in the database
// before firing, so replicas never duplicate a reminder and a missed tick is caught up later the same day.
type ReminderService struct {
	store         reminderStore
	tx            txRunner
	invoices      reminderInvoiceSource
	teachers      missingBankDetailsLister
	credentials   credentialPurger
	notifications *NotificationService
	metrics       *MetricsService
	logger        *zap.Logger
	cfg           ReminderConfig
	reminders     []reminder
}

// ReminderServiceParams groups constructor dependencies.
type ReminderServiceParams struct {
	Store         reminderStore
	Tx            txRunner
	Invoices      reminderInvoiceSource
	Teachers      missingBankDetailsLister
	Credentials   credentialPurger
	Notifications *NotificationService
	Metrics       *MetricsService
	Logger        *zap.Logger
	Config        ReminderConfig
}

// NewReminderService constructs a ReminderService.
func NewReminderService(params ReminderServiceParams) *ReminderService {
	cfg := params.Config
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.EndOfMonthDay <= 0 || cfg.EndOfMonthDay > 28 {
		cfg.EndOfMonthDay = 25
	}
	if cfg.OverdueAfter <= 0 {
		cfg.OverdueAfter = 7 * 24 * time.Hour
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ReminderService{
		store:         params.Store,
		tx:            params.Tx,
		invoices:      params.Invoices,
		teachers:      params.Teachers,
		credentials:   params.Credentials,
		notifications: params.Notifications,
		metrics:       params.Metrics,
		logger:        logger,
		cfg:           cfg,
	}
	daily := func(time.Time) bool { return true }
	s.reminders = []reminder{
		{kind: models.ReminderMissingBankDetails, due: s.isBankDetailsDay, fire: s.fireMissingBankDetails},
		{kind: models.ReminderEndOfMonthSubmission, due: s.isEndOfMonth, fire: s.fireEndOfMonth},
		{kind: models.ReminderMonthlyReport, due: func(l time.Time) bool { return l.Day() == 1 }, fire: s.fireMonthlyReport},
		{kind: models.ReminderOverdueInvoices, due: daily, fire: s.fireOverdue},
		{kind: models.ReminderCredentialPurge, due: daily, fire: s.firePurge},
	}
	return s
}

// Start evaluates reminders immediately and then on every interval until ctx is cancelled.
func (s *ReminderService) Start(ctx context.Context) {
	s.logger.Info("reminder scheduler started", zap.Duration("interval", s.cfg.Interval), zap.String("location", s.cfg.Location.String()))
	s.RunOnce(ctx, time.Now())
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reminder scheduler stopped")
			return
		case now := <-ticker.C:
			s.RunOnce(ctx, now)
		}
	}
}

// RunOnce evaluates every reminder for the calendar day of now in the configured location.
func (s *ReminderService) RunOnce(ctx context.Context, now time.Time) []models.ReminderOutcome {
	local := now.In(s.cfg.Location)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	outcomes := make([]models.ReminderOutcome, 0, len(s.reminders))

	for _, r := range s.reminders {
		outcome := models.ReminderOutcome{Kind: r.kind, Due: r.due(local)}
		if !outcome.Due {
			outcomes = append(outcomes, outcome)
			continue
		}
		claimed, err := s.store.Claim(ctx, r.kind, day, now.UTC())
		if err != nil {
			s.logger.Warn("reminder claim failed", zap.String("kind", string(r.kind)), zap.Error(err))
			outcome.Error = err.Error()
			outcomes = append(outcomes, outcome)
			continue
		}
		outcome.Claimed = claimed
		if !claimed {
			outcomes = append(outcomes, outcome)
			continue
		}

		// notifications and bookkeeping commit together so a released claim leaves nothing behind
		var n int
		err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
			sent, err := r.fire(ctx, now, local)
			if err != nil {
				return err
			}
			n = sent
			return s.store.SetRecipients(ctx, r.kind, day, n)
		})
		if err != nil {
			s.logger.Error("reminder failed, releasing claim", zap.String("kind", string(r.kind)), zap.Error(err))
			outcome.Error = err.Error()
			if relErr := s.store.Release(ctx, r.kind, day); relErr != nil {
				s.logger.Error("reminder release failed", zap.String("kind", string(r.kind)), zap.Error(relErr))
			}
			outcomes = append(outcomes, outcome)
			continue
		}
		outcome.Recipients = n
		s.metrics.RecordReminder(r.kind)
		s.logger.Info("reminder fired", zap.String("kind", string(r.kind)), zap.Int("recipients", n))
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// Recent lists the latest reminder runs.
func (s *ReminderService) Recent(ctx context.Context, limit int) ([]models.ReminderRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	runs, err := s.store.ListRecent(ctx, limit)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list reminder runs")
	}
	return runs, nil
}

func (s *ReminderService) isBankDetailsDay(local time.Time) bool {
	return local.Weekday() == s.cfg.BankDetailsWeekday
}

func (s *ReminderService) isEndOfMonth(local time.Time) bool {
	return local.Day() >= s.cfg.EndOfMonthDay
}

func (s *ReminderService) fireMissingBankDetails(ctx context.Context, _, _ time.Time) (int, error) {
	profiles, err := s.teachers.ListMissingBankDetails(ctx)
	if err != nil {
		return 0, err
	}
	return s.notifications.NotifyMany(ctx, profileIDs(profiles), models.NotificationWarning,
		"Coordonnées bancaires manquantes",
		"Merci de renseigner votre RIB complet (IBAN, BIC, titulaire, banque) pour que vos factures puissent être payées.")
}

func (s *ReminderService) fireEndOfMonth(ctx context.Context, _, local time.Time) (int, error) {
	profiles, err := s.invoices.TeachersWithoutInvoice(ctx, int(local.Month()), local.Year())
	if err != nil {
		return 0, err
	}
	return s.notifications.NotifyMany(ctx, profileIDs(profiles), models.NotificationWarning,
		"Facture du mois à déposer",
		fmt.Sprintf("Vous n'avez pas encore déposé de facture pour %02d/%d.", int(local.Month()), local.Year()))
}

func (s *ReminderService) fireMonthlyReport(ctx context.Context, _, local time.Time) (int, error) {
	prev := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
	month, year := int(prev.Month()), prev.Year()
	invoices, err := s.invoices.ListAll(ctx, models.InvoiceFilter{Month: &month, Year: &year})
	if err != nil {
		return 0, err
	}
	counts := map[models.InvoiceStatus]int{}
	var total float64
	for _, inv := range invoices {
		counts[inv.Status]++
		total += inv.TotalAmount
	}
	msg := fmt.Sprintf("%02d/%d : %d factures pour %.2f € (en attente %d, prévalidées %d, validées %d, payées %d, rejetées %d).",
		month, year, len(invoices), roundCents(total),
		counts[models.InvoiceStatusPending], counts[models.InvoiceStatusPrevalidated],
		counts[models.InvoiceStatusValidated], counts[models.InvoiceStatusPaid], counts[models.InvoiceStatusRejected])

	sent := 0
	for _, role := range []models.UserRole{models.RoleAccountant, models.RoleSuperAdmin} {
		n, err := s.notifications.NotifyRole(ctx, role, nil, models.NotificationInfo, "Rapport mensuel", msg)
		if err != nil {
			return sent, err
		}
		sent += n
	}
	return sent, nil
}

func (s *ReminderService) fireOverdue(ctx context.Context, now, _ time.Time) (int, error) {
	cutoff := now.UTC().Add(-s.cfg.OverdueAfter)
	pending, err := s.invoices.ListStale(ctx, models.InvoiceStatusPending, cutoff)
	if err != nil {
		return 0, err
	}
	validated, err := s.invoices.ListStale(ctx, models.InvoiceStatusValidated, cutoff)
	if err != nil {
		return 0, err
	}
	byCampus := map[string]int{}
	for _, inv := range pending {
		byCampus[inv.CampusID]++
	}
	campuses := make([]string, 0, len(byCampus))
	for c := range byCampus {
		campuses = append(campuses, c)
	}
	sort.Strings(campuses)

	days := int(s.cfg.OverdueAfter.Hours() / 24)
	sent := 0
	for _, campus := range campuses {
		campusID := campus
		n, err := s.notifications.NotifyRole(ctx, models.RoleCampusDirector, &campusID, models.NotificationWarning,
			"Factures en attente de prévalidation",
			fmt.Sprintf("%d facture(s) de votre campus attendent une prévalidation depuis plus de %d jours.", byCampus[campus], days))
		if err != nil {
			return sent, err
		}
		sent += n
	}

	if len(validated) > 0 {
		n, err := s.notifications.NotifyRole(ctx, models.RoleAccountant, nil, models.NotificationWarning,
			"Factures validées non payées",
			fmt.Sprintf("%d facture(s) validée(s) attendent un paiement depuis plus de %d jours.", len(validated), days))
		if err != nil {
			return sent, err
		}
		sent += n
	}
	return sent, nil
}

func (s *ReminderService) firePurge(ctx context.Context, now, _ time.Time) (int, error) {
	n, err := s.credentials.RedactExpired(ctx, now.UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("expired temporary passwords redacted", zap.Int64("count", n))
	}
	return int(n), nil
}

func profileIDs(profiles []models.Profile) []string {
	ids := make([]string, 0, len(profiles))
	for _, p := range profiles {
		ids = append(ids, p.ID)
	}
	return ids
}
