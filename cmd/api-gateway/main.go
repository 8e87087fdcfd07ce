package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/campus-invoicing-api/api/swagger"
	"github.com/noah-isme/campus-invoicing-api/internal/app"
	"github.com/noah-isme/campus-invoicing-api/internal/handler"
	internalmiddleware "github.com/noah-isme/campus-invoicing-api/internal/middleware"
	"github.com/noah-isme/campus-invoicing-api/internal/models"
	"github.com/noah-isme/campus-invoicing-api/pkg/cache"
	"github.com/noah-isme/campus-invoicing-api/pkg/config"
	"github.com/noah-isme/campus-invoicing-api/pkg/database"
	"github.com/noah-isme/campus-invoicing-api/pkg/jobs"
	"github.com/noah-isme/campus-invoicing-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/campus-invoicing-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/campus-invoicing-api/pkg/middleware/requestid"
)

// @title Campus Invoicing API
// @version 1.0.0
// @description Teacher invoicing, validation workflow and account provisioning for a multi-campus school
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("database connection failed", "error", err)
	}
	defer db.Close() //nolint:errcheck

	if cfg.Database.AutoMigrate {
		versions, err := database.Migrate(ctx, db)
		if err != nil {
			logr.Sugar().Fatalw("migrations failed", "error", err)
		}
		logr.Sugar().Infow("migrations applied", "versions", versions)
	}

	var redisClient *redis.Client
	if client, err := cache.NewRedis(cfg.Redis); err != nil {
		logr.Warn("redis unavailable, caching and login lockout disabled", zap.Error(err))
	} else {
		redisClient = client
		defer redisClient.Close() //nolint:errcheck
	}

	var queue *jobs.Queue
	container, err := app.New(cfg, logr, db, redisClient, app.Options{
		Enqueuer: func(mux *jobs.Mux) jobs.Enqueuer {
			queue = jobs.NewQueue("jobs", mux.Process, jobs.QueueConfig{
				Workers:     cfg.Jobs.Workers,
				MaxRetries:  cfg.Jobs.Retries,
				RetryDelay:  cfg.Jobs.RetryDelay,
				Logger:      logr,
				OnExhausted: mux.Exhausted,
			})
			return queue
		},
	})
	if err != nil {
		logr.Sugar().Fatalw("failed to build services", "error", err)
	}
	// Workers keep running past the signal so Drain can finish accepted jobs.
	queue.Start(context.Background())

	if cfg.Reminders.Enabled {
		go container.Services.Reminders.Start(ctx)
	}

	checks := map[string]handler.Pinger{
		"database": db.PingContext,
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(container.Services.Metrics))

	metricsHandler := handler.NewMetricsHandler(container.Services.Metrics, checks)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	registerRoutes(r.Group(cfg.APIPrefix), container)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("http shutdown incomplete", zap.Error(err))
	}
	if err := queue.Drain(shutdownCtx); err != nil {
		logr.Warn("job queue not drained", zap.Error(err))
	}
	queue.Stop()
}

func registerRoutes(api *gin.RouterGroup, c *app.Container) {
	svcs := c.Services
	audit := c.Repos.Audit

	authHandler := handler.NewAuthHandler(svcs.Auth)
	referenceHandler := handler.NewReferenceHandler(svcs.Reference)
	profileHandler := handler.NewProfileHandler(svcs.Profiles)
	accountHandler := handler.NewAccountHandler(svcs.Provisioning)
	downloadHandler := handler.NewDownloadHandler(c.Signer, c.Files, c.Logger)
	invoiceHandler := handler.NewInvoiceHandler(svcs.Invoices)
	notificationHandler := handler.NewNotificationHandler(svcs.Notifications)
	dashboardHandler := handler.NewDashboardHandler(svcs.Dashboard)
	reportHandler := handler.NewReportHandler(svcs.Reports)
	reminderHandler := handler.NewReminderHandler(svcs.Reminders)

	admin := internalmiddleware.RequireRoles(models.RoleSuperAdmin)
	staff := internalmiddleware.RequireRoles(models.RoleSuperAdmin, models.RoleAccountant, models.RoleCampusDirector)

	api.POST("/auth/login", authHandler.Login)
	api.GET("/downloads/:token",
		internalmiddleware.Audit(audit, c.Logger, models.AuditActionDownload, "export"),
		downloadHandler.Download,
	)

	secured := api.Group("")
	secured.Use(internalmiddleware.JWT(svcs.Auth))
	secured.Use(internalmiddleware.WithResponseMeta())

	secured.GET("/auth/me", authHandler.Me)
	secured.POST("/auth/change-password", authHandler.ChangePassword)

	secured.GET("/campuses", referenceHandler.Campuses)
	secured.GET("/filieres", referenceHandler.Filieres)
	secured.GET("/classes", referenceHandler.Classes)
	secured.GET("/course-titles", referenceHandler.CourseTitles)

	profiles := secured.Group("/profiles")
	profiles.GET("", staff, profileHandler.List)
	profiles.GET("/:id", internalmiddleware.RBAC(string(models.RoleSuperAdmin), string(models.RoleAccountant), string(models.RoleCampusDirector), internalmiddleware.SelfRole), profileHandler.Get)
	profiles.PUT("/:id", admin, profileHandler.Update)
	profiles.DELETE("/:id", admin, profileHandler.Deactivate)
	profiles.PUT("/:id/bank-details",
		internalmiddleware.RBAC(string(models.RoleSuperAdmin), string(models.RoleAccountant), internalmiddleware.SelfRole),
		internalmiddleware.Audit(audit, c.Logger, models.AuditActionBankDetails, "teacher_profile"),
		profileHandler.UpdateBankDetails,
	)

	accounts := secured.Group("/accounts", admin)
	accounts.POST("", accountHandler.Create)
	accounts.POST("/import-teachers", accountHandler.ImportTeachers)
	accounts.POST("/reset-passwords", accountHandler.ResetPasswords)
	accounts.POST("/access-emails", accountHandler.AccessEmails)
	accounts.POST("/credentials/export", accountHandler.ExportCredentials)

	invoices := secured.Group("/invoices")
	invoices.GET("", invoiceHandler.List)
	invoices.POST("", invoiceHandler.Create)
	invoices.POST("/import", invoiceHandler.Import)
	invoices.GET("/:id", invoiceHandler.Get)
	invoices.DELETE("/:id", invoiceHandler.Delete)
	invoices.PUT("/:id/lines", invoiceHandler.ReplaceLines)
	invoices.GET("/:id/history", invoiceHandler.History)
	invoices.POST("/:id/prevalidate", invoiceHandler.Prevalidate)
	invoices.POST("/:id/validate", invoiceHandler.Validate)
	invoices.POST("/:id/reject", invoiceHandler.Reject)
	invoices.POST("/:id/pay", invoiceHandler.Pay)

	notifications := secured.Group("/notifications")
	notifications.GET("", notificationHandler.List)
	notifications.GET("/unread-count", notificationHandler.UnreadCount)
	notifications.POST("/read-all", notificationHandler.MarkAllRead)
	notifications.POST("/:id/read", notificationHandler.MarkRead)

	secured.GET("/dashboard", dashboardHandler.Get)
	secured.GET("/reports/monthly", staff, reportHandler.Monthly)
	secured.GET("/reminders/runs", admin, reminderHandler.Runs)
}
