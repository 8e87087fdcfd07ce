package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/campus-invoicing-api/internal/models"
	appErrors "github.com/noah-isme/campus-invoicing-api/pkg/errors"
)

type transitionRule struct {
	from  []models.InvoiceStatus
	to    models.InvoiceStatus
	roles []models.UserRole
}

var transitionRules = map[models.InvoiceAction]transitionRule{
	models.InvoiceActionPrevalidate: {
		from:  []models.InvoiceStatus{models.InvoiceStatusPending},
		to:    models.InvoiceStatusPrevalidated,
		roles: []models.UserRole{models.RoleCampusDirector},
	},
	models.InvoiceActionValidate: {
		from:  []models.InvoiceStatus{models.InvoiceStatusPrevalidated},
		to:    models.InvoiceStatusValidated,
		roles: []models.UserRole{models.RoleAccountant},
	},
	models.InvoiceActionReject: {
		from:  []models.InvoiceStatus{models.InvoiceStatusPending, models.InvoiceStatusPrevalidated},
		to:    models.InvoiceStatusRejected,
		roles: []models.UserRole{models.RoleCampusDirector, models.RoleAccountant},
	},
	models.InvoiceActionPay: {
		from:  []models.InvoiceStatus{models.InvoiceStatusValidated},
		to:    models.InvoiceStatusPaid,
		roles: []models.UserRole{models.RoleAccountant},
	},
}

// PaymentDetails describes the settlement recorded by the pay action.
type PaymentDetails struct {
	Amount    float64
	Method    string
	Reference string
}

// Transition applies a workflow action. The status change, its log entry and, for pay, the
// payment commit together; notifications follow the commit and are reported as side effects.
func (s *InvoiceService) Transition(ctx context.Context, invoiceID string, action models.InvoiceAction, actor models.Actor, comment string, payment *PaymentDetails) (*models.TransitionResult, error) {
	result, err := s.transition(ctx, invoiceID, action, actor, comment, payment)
	switch {
	case err != nil:
		s.metrics.RecordTransition(action, appErrors.FromError(err).Code)
	case result.Degraded():
		s.metrics.RecordTransition(action, "degraded")
	default:
		s.metrics.RecordTransition(action, "ok")
	}
	return result, err
}

func (s *InvoiceService) transition(ctx context.Context, invoiceID string, action models.InvoiceAction, actor models.Actor, comment string, payment *PaymentDetails) (*models.TransitionResult, error) {
	rule, ok := transitionRules[action]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown action %q", action))
	}
	invoice, err := s.load(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if err := authorizeTransition(rule, action, actor, invoice); err != nil {
		return nil, err
	}
	if !statusIn(invoice.Status, rule.from) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("cannot %s an invoice that is %s", action, invoice.Status))
	}

	var record *models.Payment
	if action == models.InvoiceActionPay {
		if record, err = s.preparePayment(ctx, invoice, actor, payment); err != nil {
			return nil, err
		}
	}

	previous := invoice.Status
	now := s.now().UTC()
	entry := &models.ValidationLogEntry{
		InvoiceID:      invoice.ID,
		ActorID:        actor.ID,
		ActorRole:      actor.Role,
		Action:         action,
		PreviousStatus: previous,
		NewStatus:      rule.to,
		CreatedAt:      now,
	}
	if c := strings.TrimSpace(comment); c != "" {
		entry.Comment = &c
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		moved, err := s.repo.UpdateStatus(ctx, invoice.ID, previous, rule.to, now)
		if err != nil {
			return err
		}
		if !moved {
			return appErrors.Clone(appErrors.ErrConflict, "invoice status changed concurrently, reload and retry")
		}
		if err := s.repo.InsertLog(ctx, entry); err != nil {
			return err
		}
		if record != nil {
			record.PaidAt = now
			return s.repo.InsertPayment(ctx, record)
		}
		return nil
	})
	if err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, appErrors.Internal(err, "failed to apply transition")
	}

	invoice.Status = rule.to
	invoice.UpdatedAt = now
	result := &models.TransitionResult{Invoice: invoice, Log: entry, Payment: record}
	result.SideEffects = s.transitionSideEffects(ctx, invoice, action, entry)

	s.logger.Info("invoice transition",
		zap.String("invoice_id", invoice.ID),
		zap.String("action", string(action)),
		zap.String("from", string(previous)),
		zap.String("to", string(rule.to)),
		zap.String("actor_id", actor.ID),
		zap.Bool("degraded", result.Degraded()),
	)
	return result, nil
}

func authorizeTransition(rule transitionRule, action models.InvoiceAction, actor models.Actor, invoice *models.Invoice) error {
	allowed := false
	for _, role := range rule.roles {
		if actor.Role == role {
			allowed = true
			break
		}
	}
	if !allowed {
		return appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("role %s may not %s invoices", actor.Role, action))
	}
	if actor.Role == models.RoleCampusDirector && !actor.InCampus(invoice.CampusID) {
		return appErrors.Clone(appErrors.ErrForbidden, "directors may only act on invoices of their campus")
	}
	return nil
}

func statusIn(status models.InvoiceStatus, set []models.InvoiceStatus) bool {
	for _, s := range set {
		if status == s {
			return true
		}
	}
	return false
}

func (s *InvoiceService) preparePayment(ctx context.Context, invoice *models.Invoice, actor models.Actor, details *PaymentDetails) (*models.Payment, error) {
	tp, err := s.teachers.FindByUserID(ctx, invoice.TeacherID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Internal(err, "failed to load teacher bank details")
	}
	if tp == nil || !tp.HasCompleteBankDetails() {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "the teacher has not provided complete bank details (RIB)")
	}
	payment := &models.Payment{
		InvoiceID:  invoice.ID,
		Amount:     invoice.TotalAmount,
		Method:     "virement",
		RecordedBy: actor.ID,
	}
	if details != nil {
		if details.Amount < 0 {
			return nil, appErrors.Clone(appErrors.ErrValidation, "payment amount must be positive")
		}
		if details.Amount > 0 {
			payment.Amount = roundCents(details.Amount)
		}
		if m := strings.TrimSpace(details.Method); m != "" {
			payment.Method = m
		}
		if ref := strings.TrimSpace(details.Reference); ref != "" {
			payment.Reference = &ref
		}
	}
	if payment.Amount <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "payment amount must be positive")
	}
	return payment, nil
}

func (s *InvoiceService) transitionSideEffects(ctx context.Context, invoice *models.Invoice, action models.InvoiceAction, entry *models.ValidationLogEntry) []models.SideEffect {
	period := fmt.Sprintf("%02d/%d", invoice.Month, invoice.Year)
	var (
		typ         models.NotificationType
		title, body string
	)
	switch action {
	case models.InvoiceActionPrevalidate:
		typ, title = models.NotificationInfo, "Facture prévalidée"
		body = fmt.Sprintf("Votre facture de %s a été prévalidée par la direction du campus.", period)
	case models.InvoiceActionValidate:
		typ, title = models.NotificationInfo, "Facture validée"
		body = fmt.Sprintf("Votre facture de %s a été validée par la comptabilité.", period)
	case models.InvoiceActionPay:
		typ, title = models.NotificationSuccess, "Facture payée"
		body = fmt.Sprintf("Votre facture de %s (%.2f €) a été payée.", period, invoice.TotalAmount)
	case models.InvoiceActionReject:
		typ, title = models.NotificationError, "Facture rejetée"
		body = fmt.Sprintf("Votre facture de %s a été rejetée.", period)
		if entry.Comment != nil {
			body += " Motif : " + *entry.Comment
		}
	}

	effects := []models.SideEffect{
		s.notifications.BestEffort(ctx, "notify_teacher", func(ctx context.Context) error {
			return s.notifications.Notify(ctx, invoice.TeacherID, typ, title, body)
		}),
	}
	if action == models.InvoiceActionPrevalidate {
		effects = append(effects, s.notifications.BestEffort(ctx, "notify_accountants", func(ctx context.Context) error {
			_, err := s.notifications.NotifyRole(ctx, models.RoleAccountant, nil, models.NotificationInfo,
				"Facture à valider",
				fmt.Sprintf("Une facture de %s (%.2f €) a été prévalidée et attend votre validation.", period, invoice.TotalAmount))
			return err
		}))
	}
	effects = append(effects, s.invalidateDashboard(ctx))
	return effects
}
