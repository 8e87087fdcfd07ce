// Package app assembles repositories and services from configuration. The API server and
// the admin CLI share it so both run the same business rules.
package app

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-invoicing-api/internal/repository"
	"github.com/noah-isme/campus-invoicing-api/internal/service"
	"github.com/noah-isme/campus-invoicing-api/pkg/config"
	"github.com/noah-isme/campus-invoicing-api/pkg/jobs"
	"github.com/noah-isme/campus-invoicing-api/pkg/mail"
	"github.com/noah-isme/campus-invoicing-api/pkg/storage"
)

// Repositories groups the SQL and cache stores.
type Repositories struct {
	Tx             *repository.TxManager
	Users          *repository.UserRepository
	Profiles       *repository.ProfileRepository
	TeacherProfile *repository.TeacherProfileRepository
	Credentials    *repository.CredentialRepository
	Reference      *repository.ReferenceRepository
	Invoices       *repository.InvoiceRepository
	Notifications  *repository.NotificationRepository
	Reminders      *repository.ReminderRepository
	Dashboard      *repository.DashboardRepository
	Audit          *repository.AuditRepository
	Cache          *repository.CacheRepository
}

// Services groups the business services.
type Services struct {
	Metrics       *service.MetricsService
	Cache         *service.CacheService
	Auth          *service.AuthService
	Reference     *service.ReferenceService
	Notifications *service.NotificationService
	Profiles      *service.ProfileService
	Provisioning  *service.ProvisioningService
	Invoices      *service.InvoiceService
	Dashboard     *service.DashboardService
	Reports       *service.ReportService
	Reminders     *service.ReminderService
}

// Container holds everything a process needs.
type Container struct {
	Config   *config.Config
	Logger   *zap.Logger
	Repos    Repositories
	Services Services
	Jobs     *jobs.Mux
	Signer   *storage.SignedURLSigner
	Files    *storage.LocalStorage
}

// Options carries process-specific collaborators.
type Options struct {
	// Enqueuer builds the job producer once the mux is populated. Nil runs jobs inline.
	Enqueuer func(mux *jobs.Mux) jobs.Enqueuer
	Metrics  *service.MetricsService
}

// New wires the container. redisClient may be nil; caching and lockout then degrade to no-ops.
func New(cfg *config.Config, logger *zap.Logger, db *sqlx.DB, redisClient *redis.Client, opts Options) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	files, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		return nil, err
	}
	signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)

	repos := Repositories{
		Tx:             repository.NewTxManager(db),
		Users:          repository.NewUserRepository(db),
		Profiles:       repository.NewProfileRepository(db),
		TeacherProfile: repository.NewTeacherProfileRepository(db),
		Credentials:    repository.NewCredentialRepository(db),
		Reference:      repository.NewReferenceRepository(db),
		Invoices:       repository.NewInvoiceRepository(db),
		Notifications:  repository.NewNotificationRepository(db),
		Reminders:      repository.NewReminderRepository(db),
		Dashboard:      repository.NewDashboardRepository(db),
		Audit:          repository.NewAuditRepository(db),
		Cache:          repository.NewCacheRepository(redisClient, logger),
	}

	validate := validator.New()
	metrics := opts.Metrics
	if metrics == nil {
		metrics = service.NewMetricsService()
	}
	cacheSvc := service.NewCacheService(repos.Cache, metrics, cfg.Dashboard.CacheTTL, logger, cfg.Dashboard.Enabled && redisClient != nil)
	notifications := service.NewNotificationService(repos.Notifications, repos.Profiles, metrics, logger)
	reference := service.NewReferenceService(repos.Reference, cacheSvc, logger)

	mux := jobs.NewMux()
	var enqueuer jobs.Enqueuer = &jobs.Inline{Mux: mux, MaxRetries: cfg.Jobs.Retries}
	if opts.Enqueuer != nil {
		enqueuer = opts.Enqueuer(mux)
	}

	svcs := Services{
		Metrics:       metrics,
		Cache:         cacheSvc,
		Reference:     reference,
		Notifications: notifications,
		Auth: service.NewAuthService(service.AuthServiceParams{
			Users:     repos.Users,
			Profiles:  repos.Profiles,
			Audit:     repos.Audit,
			Attempts:  repos.Cache,
			Metrics:   metrics,
			Validator: validate,
			Logger:    logger,
			Config: service.AuthConfig{
				AccessTokenSecret: cfg.JWT.Secret,
				AccessTokenExpiry: cfg.JWT.Expiration,
				Issuer:            cfg.JWT.Issuer,
				MaxLoginAttempts:  cfg.Auth.MaxLoginAttempts,
				LockoutWindow:     cfg.Auth.LockoutWindow,
			},
		}),
		Profiles: service.NewProfileService(repos.Profiles, repos.TeacherProfile, repos.Audit, validate, logger),
		Provisioning: service.NewProvisioningService(service.ProvisioningServiceParams{
			Identities:    service.NewUserIdentityProvider(repos.Users),
			Profiles:      repos.Profiles,
			Credentials:   repos.Credentials,
			Teachers:      repos.TeacherProfile,
			Tx:            repos.Tx,
			Campuses:      reference,
			Notifications: notifications,
			Mailer:        mail.New(cfg.Mail, logger),
			Jobs:          enqueuer,
			Store:         files,
			Signer:        signer,
			Audit:         repos.Audit,
			Metrics:       metrics,
			Validator:     validate,
			Logger:        logger,
			Config: service.ProvisioningConfig{
				DefaultRateMin:      cfg.Provisioning.DefaultRateMin,
				DefaultRateMax:      cfg.Provisioning.DefaultRateMax,
				PasswordLength:      cfg.Provisioning.PasswordLength,
				CredentialTTL:       cfg.Provisioning.CredentialTTL,
				CompensationRetries: cfg.Provisioning.CompensationRetries,
				CompensationDelay:   cfg.Provisioning.CompensationDelay,
				LoginURL:            strings.TrimRight(cfg.Mail.FrontendURL, "/") + "/login",
				DownloadBaseURL:     cfg.Exports.PublicURL,
			},
		}),
		Invoices: service.NewInvoiceService(service.InvoiceServiceParams{
			Repo:          repos.Invoices,
			Reference:     reference,
			Teachers:      repos.TeacherProfile,
			Tx:            repos.Tx,
			Notifications: notifications,
			Cache:         cacheSvc,
			Audit:         repos.Audit,
			Metrics:       metrics,
			Validator:     validate,
			Logger:        logger,
		}),
		Dashboard: service.NewDashboardService(service.DashboardServiceParams{
			Aggregates:    repos.Dashboard,
			BankDetails:   repos.TeacherProfile,
			Invoices:      repos.Invoices,
			Notifications: notifications,
			Cache:         cacheSvc,
			Logger:        logger,
			Config:        service.DashboardServiceConfig{CacheTTL: cfg.Dashboard.CacheTTL},
		}),
		Reports: service.NewReportService(repos.Invoices, logger),
		Reminders: service.NewReminderService(service.ReminderServiceParams{
			Store:         repos.Reminders,
			Tx:            repos.Tx,
			Invoices:      repos.Invoices,
			Teachers:      repos.TeacherProfile,
			Credentials:   repos.Credentials,
			Notifications: notifications,
			Metrics:       metrics,
			Logger:        logger,
			Config: service.ReminderConfig{
				Interval:           cfg.Reminders.Interval,
				EndOfMonthDay:      cfg.Reminders.EndOfMonthDay,
				BankDetailsWeekday: cfg.Reminders.BankDetailsWeekday,
				OverdueAfter:       cfg.Reminders.OverdueAfter,
				Location:           loadLocation(cfg.Reminders.Location, logger),
			},
		}),
	}
	svcs.Provisioning.RegisterJobs(mux)

	return &Container{
		Config:   cfg,
		Logger:   logger,
		Repos:    repos,
		Services: svcs,
		Jobs:     mux,
		Signer:   signer,
		Files:    files,
	}, nil
}

func loadLocation(name string, logger *zap.Logger) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		logger.Warn("unknown reminders timezone, using UTC", zap.String("timezone", name), zap.Error(err))
		return time.UTC
	}
	return loc
}
