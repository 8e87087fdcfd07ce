package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/campus-invoicing-api/internal/dto"
	"github.com/noah-isme/campus-invoicing-api/internal/models"
	appErrors "github.com/noah-isme/campus-invoicing-api/pkg/errors"
	"github.com/noah-isme/campus-invoicing-api/pkg/export"
)

var credentialExportHeaders = []string{
	"Email",
	"Mot de passe temporaire",
	"Prénom",
	"Nom",
	"Rôle",
	"Campus",
	"Date de création",
	"Exporté",
}

// ResetPasswords issues a fresh temporary password to every targeted user. Explicit
// user ids override the scope and the acting user is never reset.
func (s *ProvisioningService) ResetPasswords(ctx context.Context, actor models.Actor, req dto.ResetPasswordsRequest) (*dto.ResetResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reset payload")
	}
	targets, err := s.resetTargets(ctx, req)
	if err != nil {
		return nil, err
	}

	result := &dto.ResetResult{Rows: make([]dto.ResetRow, 0, len(targets))}
	for _, profile := range targets {
		if profile.ID == actor.ID {
			continue
		}
		row := dto.ResetRow{UserID: profile.ID, Email: profile.Email}
		password, err := s.resetOne(ctx, profile)
		if err != nil {
			s.logger.Warn("password reset failed", zap.String("user_id", profile.ID), zap.Error(err))
			row.Error = err.Error()
			result.Failed++
			result.Rows = append(result.Rows, row)
			continue
		}
		row.OK = true
		row.TempPassword = password
		result.Succeeded++
		result.Rows = append(result.Rows, row)

		if req.SendEmail {
			userID := profile.ID
			s.notifications.BestEffort(ctx, "access_email", func(context.Context) error {
				return s.queueAccessEmail(userID)
			})
			s.notifications.BestEffort(ctx, "reset_notification", func(ctx context.Context) error {
				return s.notifications.Notify(ctx, userID, models.NotificationInfo,
					"Nouveau mot de passe",
					"Un nouveau mot de passe temporaire vous a été envoyé par email.")
			})
		}
	}

	s.writeAudit(ctx, actor, models.AuditActionPasswordReset, "profiles", nil,
		fmt.Sprintf(`{"succeeded":%d,"failed":%d}`, result.Succeeded, result.Failed))
	return result, nil
}

func (s *ProvisioningService) resetTargets(ctx context.Context, req dto.ResetPasswordsRequest) ([]models.Profile, error) {
	if len(req.UserIDs) > 0 {
		targets := make([]models.Profile, 0, len(req.UserIDs))
		seen := make(map[string]struct{}, len(req.UserIDs))
		for _, id := range req.UserIDs {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			profile, err := s.profiles.FindByID(ctx, id)
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("user %s not found", id))
			}
			if err != nil {
				return nil, appErrors.Internal(err, "failed to load user")
			}
			targets = append(targets, *profile)
		}
		return targets, nil
	}

	active := true
	filter := models.ProfileFilter{Active: &active}
	teacher := models.RoleTeacher
	switch req.Scope {
	case dto.ResetScopeAllUsers:
	case dto.ResetScopeAllTeachers:
		filter.Role = &teacher
	default:
		isNew := true
		filter.Role = &teacher
		filter.IsNewTeacher = &isNew
	}
	targets, err := s.profiles.ListAll(ctx, filter)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list users to reset")
	}
	return targets, nil
}

func (s *ProvisioningService) resetOne(ctx context.Context, profile models.Profile) (string, error) {
	password, err := GenerateTempPassword(s.cfg.PasswordLength)
	if err != nil {
		return "", err
	}
	now := s.now().UTC()
	// the password only changes once its credential is recorded
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.credentials.Create(ctx, &models.TempAccessCredential{
			UserID:       profile.ID,
			Email:        profile.Email,
			TempPassword: password,
			CreatedAt:    now,
			ExpiresAt:    now.Add(s.cfg.CredentialTTL),
		}); err != nil {
			return fmt.Errorf("record credential: %w", err)
		}
		if err := s.identities.SetPassword(ctx, profile.ID, password); err != nil {
			return fmt.Errorf("update identity: %w", err)
		}
		return s.profiles.SetMustChangePassword(ctx, profile.ID, true)
	})
	if err != nil {
		return "", err
	}
	return password, nil
}

// ExportCredentials writes the unexpired temporary credentials matching req to a CSV file,
// flags them exported and returns a signed download link.
func (s *ProvisioningService) ExportCredentials(ctx context.Context, actor models.Actor, req dto.CredentialExportRequest) (*dto.DownloadLink, error) {
	now := s.now().UTC()
	rows, err := s.credentials.ListForExport(ctx, models.CredentialFilter{
		OnlyNew:  req.OnlyNew,
		Role:     req.Role,
		CampusID: req.CampusID,
		Now:      now,
	})
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load credentials")
	}

	dataset := export.Dataset{Headers: credentialExportHeaders, Rows: make([]map[string]string, 0, len(rows))}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		campus := ""
		if row.CampusName != nil {
			campus = *row.CampusName
		}
		exported := "Non"
		if row.Exported {
			exported = "Oui"
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Email":                   row.Email,
			"Mot de passe temporaire": row.TempPassword,
			"Prénom":                  row.FirstName,
			"Nom":                     row.LastName,
			"Rôle":                    string(row.Role),
			"Campus":                  campus,
			"Date de création":        row.CreatedAt.Format("2006-01-02 15:04"),
			"Exporté":                 exported,
		})
		ids = append(ids, row.ID)
	}

	content, err := export.NewCSVExporter(true).Render(dataset)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to render credentials")
	}
	filename := fmt.Sprintf("credentials/identifiants_%s.csv", now.Format("20060102_150405"))
	stored, err := s.store.Save(filename, content)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to store export")
	}
	if err := s.credentials.MarkExported(ctx, ids, now); err != nil {
		return nil, appErrors.Internal(err, "failed to flag exported credentials")
	}

	token, expiresAt, err := s.signer.Generate(actor.ID, stored)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to sign download link")
	}
	s.writeAudit(ctx, actor, models.AuditActionCredentialsExport, "temp_access_credentials", nil,
		fmt.Sprintf(`{"rows":%d}`, len(rows)))

	return &dto.DownloadLink{
		URL:       strings.TrimRight(s.cfg.DownloadBaseURL, "/") + "/downloads/" + url.PathEscape(token),
		Filename:  stored[strings.LastIndex(stored, "/")+1:],
		Rows:      len(rows),
		ExpiresAt: expiresAt,
	}, nil
}

// SendAccessEmails queues an access email carrying the latest temporary password of each user.
// Users without a profile are reported as skipped.
func (s *ProvisioningService) SendAccessEmails(ctx context.Context, actor models.Actor, req dto.AccessEmailsRequest) (*dto.AccessEmailsResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid access email payload")
	}
	result := &dto.AccessEmailsResult{}
	for _, id := range req.UserIDs {
		if _, err := s.profiles.FindByID(ctx, id); err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Internal(err, "failed to load user")
			}
			result.Skipped = append(result.Skipped, id)
			continue
		}
		if err := s.queueAccessEmail(id); err != nil {
			s.logger.Warn("access email not queued", zap.String("user_id", id), zap.Error(err))
			result.Skipped = append(result.Skipped, id)
			continue
		}
		result.Queued++
	}
	s.logger.Info("access emails queued", zap.String("actor_id", actor.ID), zap.Int("queued", result.Queued), zap.Int("skipped", len(result.Skipped)))
	return result, nil
}
