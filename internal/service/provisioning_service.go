package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-invoicing-api/internal/dto"
	"github.com/noah-isme/campus-invoicing-api/internal/models"
	appErrors "github.com/noah-isme/campus-invoicing-api/pkg/errors"
	"github.com/noah-isme/campus-invoicing-api/pkg/jobs"
	"github.com/noah-isme/campus-invoicing-api/pkg/mail"
)

// Job types handled by the provisioning service.
const (
	JobCompensateIdentity = "provisioning.compensate_identity"
	JobSendAccessEmail    = "provisioning.access_email"
)

type provisioningProfileRepository interface {
	FindByID(ctx context.Context, id string) (*models.Profile, error)
	FindByEmail(ctx context.Context, email string) (*models.Profile, error)
	Upsert(ctx context.Context, profile *models.Profile) error
	ExistingEmails(ctx context.Context, candidates []string) (map[string]string, error)
	ListAll(ctx context.Context, filter models.ProfileFilter) ([]models.Profile, error)
	SetMustChangePassword(ctx context.Context, id string, value bool) error
}

type credentialRepository interface {
	Create(ctx context.Context, cred *models.TempAccessCredential) error
	LatestForUser(ctx context.Context, userID string) (*models.TempAccessCredential, error)
	ListForExport(ctx context.Context, filter models.CredentialFilter) ([]models.CredentialExportRow, error)
	MarkExported(ctx context.Context, ids []string, at time.Time) error
}

type teacherProfileCreator interface {
	CreateDefault(ctx context.Context, userID string, rateMin, rateMax float64) error
}

type txRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type campusIndexer interface {
	CampusIndex(ctx context.Context) (map[string]models.Campus, error)
}

type exportStore interface {
	Save(filename string, data []byte) (string, error)
}

type linkSigner interface {
	Generate(ownerID, relPath string) (string, time.Time, error)
}

// ProvisioningConfig tunes account creation.
type ProvisioningConfig struct {
	DefaultRateMin      float64
	DefaultRateMax      float64
	PasswordLength      int
	CredentialTTL       time.Duration
	CompensationRetries int
	CompensationDelay   time.Duration
	LoginURL            string
	DownloadBaseURL     string
}

// ProvisioningService creates accounts, issues temporary credentials and exports them.
type ProvisioningService struct {
	identities    IdentityProvider
	profiles      provisioningProfileRepository
	credentials   credentialRepository
	teachers      teacherProfileCreator
	tx            txRunner
	campuses      campusIndexer
	notifications *NotificationService
	mailer        mail.Mailer
	jobs          jobs.Enqueuer
	store         exportStore
	signer        linkSigner
	audit         auditWriter
	metrics       *MetricsService
	validator     *validator.Validate
	logger        *zap.Logger
	cfg           ProvisioningConfig
	now           func() time.Time
}

// ProvisioningServiceParams groups constructor dependencies.
type ProvisioningServiceParams struct {
	Identities    IdentityProvider
	Profiles      provisioningProfileRepository
	Credentials   credentialRepository
	Teachers      teacherProfileCreator
	Tx            txRunner
	Campuses      campusIndexer
	Notifications *NotificationService
	Mailer        mail.Mailer
	Jobs          jobs.Enqueuer
	Store         exportStore
	Signer        linkSigner
	Audit         auditWriter
	Metrics       *MetricsService
	Validator     *validator.Validate
	Logger        *zap.Logger
	Config        ProvisioningConfig
}

// NewProvisioningService constructs a ProvisioningService with defaults for unset tuning.
func NewProvisioningService(params ProvisioningServiceParams) *ProvisioningService {
	cfg := params.Config
	if cfg.PasswordLength < 8 {
		cfg.PasswordLength = 12
	}
	if cfg.CredentialTTL <= 0 {
		cfg.CredentialTTL = 7 * 24 * time.Hour
	}
	if cfg.CompensationRetries <= 0 {
		cfg.CompensationRetries = 3
	}
	if cfg.DefaultRateMax < cfg.DefaultRateMin {
		cfg.DefaultRateMax = cfg.DefaultRateMin
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	validate := params.Validator
	if validate == nil {
		validate = validator.New()
	}
	return &ProvisioningService{
		identities:    params.Identities,
		profiles:      params.Profiles,
		credentials:   params.Credentials,
		teachers:      params.Teachers,
		tx:            params.Tx,
		campuses:      params.Campuses,
		notifications: params.Notifications,
		mailer:        params.Mailer,
		jobs:          params.Jobs,
		store:         params.Store,
		signer:        params.Signer,
		audit:         params.Audit,
		metrics:       params.Metrics,
		validator:     validate,
		logger:        logger,
		cfg:           cfg,
		now:           time.Now,
	}
}

// RegisterJobs installs the provisioning job handlers on mux.
func (s *ProvisioningService) RegisterJobs(mux *jobs.Mux) {
	mux.Handle(JobCompensateIdentity, s.handleCompensation)
	mux.OnExhausted(JobCompensateIdentity, s.compensationExhausted)
	mux.Handle(JobSendAccessEmail, s.handleAccessEmail)
	mux.OnExhausted(JobSendAccessEmail, func(job jobs.Job, err error) {
		s.logger.Warn("access email abandoned", zap.Any("payload", job.Payload), zap.Int("attempts", job.Attempt), zap.Error(err))
		s.metrics.RecordSideEffectFailure("access_email")
	})
}

// CreateAccount provisions one user: identity, temporary credential, profile and, for teachers,
// a teacher profile. An existing email short-circuits as success. When any write after the
// identity fails, the identity is removed; if that removal fails it is retried in the background.
func (s *ProvisioningService) CreateAccount(ctx context.Context, req dto.CreateAccountRequest) (*dto.AccountResult, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid account payload")
	}
	if !req.Role.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown role")
	}
	if req.Role == models.RoleCampusDirector && (req.CampusID == nil || *req.CampusID == "") {
		return nil, appErrors.Clone(appErrors.ErrValidation, "a campus director needs a campus")
	}

	existing, err := s.profiles.FindByEmail(ctx, req.Email)
	switch {
	case err == nil:
		s.metrics.RecordAccount("exists")
		return &dto.AccountResult{UserID: existing.ID, AlreadyExists: true}, nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, appErrors.Internal(err, "failed to check existing account")
	}

	password := req.Password
	if password == "" {
		if password, err = GenerateTempPassword(s.cfg.PasswordLength); err != nil {
			return nil, appErrors.Internal(err, "failed to generate password")
		}
	}

	userID, err := s.identities.Create(ctx, req.Email, password)
	if err != nil {
		if errors.Is(err, ErrIdentityExists) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "an identity already uses this email but has no profile")
		}
		s.metrics.RecordAccount("failed")
		return nil, appErrors.Internal(err, "failed to create identity")
	}

	now := s.now().UTC()
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.credentials.Create(ctx, &models.TempAccessCredential{
			UserID:       userID,
			Email:        req.Email,
			TempPassword: password,
			CreatedAt:    now,
			ExpiresAt:    now.Add(s.cfg.CredentialTTL),
		}); err != nil {
			return err
		}
		profile := &models.Profile{
			ID:                 userID,
			Email:              req.Email,
			FirstName:          req.FirstName,
			LastName:           req.LastName,
			Role:               req.Role,
			CampusID:           req.CampusID,
			IsNewTeacher:       req.IsNewTeacher,
			MustChangePassword: true,
			Active:             true,
		}
		if phone := strings.TrimSpace(req.Phone); phone != "" {
			profile.Phone = &phone
		}
		if err := s.profiles.Upsert(ctx, profile); err != nil {
			return err
		}
		if req.Role == models.RoleTeacher {
			return s.teachers.CreateDefault(ctx, userID, s.cfg.DefaultRateMin, s.cfg.DefaultRateMax)
		}
		return nil
	})
	if err != nil {
		s.metrics.RecordAccount("failed")
		s.compensate(ctx, userID, err)
		return nil, appErrors.Internal(err, "failed to provision account")
	}

	s.metrics.RecordAccount("created")
	return &dto.AccountResult{UserID: userID, TempPassword: password}, nil
}

// compensate removes an identity whose account could not be completed.
func (s *ProvisioningService) compensate(ctx context.Context, userID string, cause error) {
	logger := s.logger.With(zap.String("user_id", userID), zap.NamedError("cause", cause))
	err := s.identities.Delete(ctx, userID)
	if err == nil {
		logger.Info("orphan identity removed")
		return
	}
	logger.Warn("orphan identity removal failed, scheduling retry", zap.Error(err))

	job := jobs.Job{
		ID:         uuid.NewString(),
		Type:       JobCompensateIdentity,
		Payload:    userID,
		Attempt:    1,
		MaxRetries: s.cfg.CompensationRetries,
		RetryDelay: s.cfg.CompensationDelay,
	}
	if s.jobs == nil {
		s.compensationExhausted(job, err)
		return
	}
	if qErr := s.jobs.Enqueue(job); qErr != nil && !errors.Is(qErr, jobs.ErrExhausted) {
		s.compensationExhausted(job, fmt.Errorf("enqueue compensation: %w (delete: %v)", qErr, err))
	}
}

func (s *ProvisioningService) handleCompensation(ctx context.Context, job jobs.Job) error {
	userID, ok := job.Payload.(string)
	if !ok || userID == "" {
		return fmt.Errorf("compensation job %s: invalid payload", job.ID)
	}
	if err := s.identities.Delete(ctx, userID); err != nil {
		s.metrics.RecordJob(job.Type, "retry")
		return err
	}
	s.metrics.RecordJob(job.Type, "ok")
	s.logger.Info("orphan identity removed", zap.String("user_id", userID), zap.Int("attempt", job.Attempt))
	return nil
}

func (s *ProvisioningService) compensationExhausted(job jobs.Job, err error) {
	s.metrics.RecordJob(job.Type, "exhausted")
	s.metrics.RecordCompensationFailure()
	s.logger.Error("compensation exhausted, orphan identity needs manual removal",
		zap.Any("user_id", job.Payload),
		zap.Int("attempts", job.Attempt),
		zap.Error(err),
	)
}

type accessEmailPayload struct {
	UserID string
}

func (s *ProvisioningService) handleAccessEmail(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(accessEmailPayload)
	if !ok {
		return fmt.Errorf("access email job %s: invalid payload", job.ID)
	}
	if err := s.sendAccessEmail(ctx, payload.UserID); err != nil {
		s.metrics.RecordJob(job.Type, "retry")
		return err
	}
	s.metrics.RecordJob(job.Type, "ok")
	return nil
}

// errNoUsableCredential marks users without an unexpired temporary password.
var errNoUsableCredential = errors.New("no usable temporary password")

func (s *ProvisioningService) sendAccessEmail(ctx context.Context, userID string) error {
	profile, err := s.profiles.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("load profile %s: %w", userID, err)
	}
	cred, err := s.credentials.LatestForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("load credential %s: %w", userID, err)
	}
	if cred.RedactedAt != nil || cred.TempPassword == "" || !cred.ExpiresAt.After(s.now()) {
		s.logger.Warn("access email skipped", zap.String("user_id", userID), zap.Error(errNoUsableCredential))
		return nil
	}
	msg, err := mail.AccessEmail(mail.AccessEmailData{
		FirstName:    profile.FirstName,
		LastName:     profile.LastName,
		Email:        profile.Email,
		TempPassword: cred.TempPassword,
		LoginURL:     s.cfg.LoginURL,
	})
	if err != nil {
		return fmt.Errorf("render access email: %w", err)
	}
	return s.mailer.Send(ctx, msg)
}

func (s *ProvisioningService) queueAccessEmail(userID string) error {
	if s.jobs == nil || s.mailer == nil {
		return errors.New("mail dispatch is not configured")
	}
	return s.jobs.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    JobSendAccessEmail,
		Payload: accessEmailPayload{UserID: userID},
		Attempt: 1,
	})
}

func (s *ProvisioningService) writeAudit(ctx context.Context, actor models.Actor, action, resource string, resourceID *string, values string) {
	if s.audit == nil {
		return
	}
	var uid *string
	if actor.ID != "" {
		id := actor.ID
		uid = &id
	}
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     uid,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		NewValues:  []byte(values),
	}); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}
