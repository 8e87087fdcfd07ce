package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-invoicing-api/internal/app"
	"github.com/noah-isme/campus-invoicing-api/pkg/cache"
	"github.com/noah-isme/campus-invoicing-api/pkg/config"
	"github.com/noah-isme/campus-invoicing-api/pkg/database"
	"github.com/noah-isme/campus-invoicing-api/pkg/logger"
)

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		db        *sqlx.DB
		container *app.Container
	)
	connect := func() (*sqlx.DB, error) {
		if db != nil {
			return db, nil
		}
		conn, err := database.NewPostgres(cfg.Database)
		if err != nil {
			return nil, err
		}
		db = conn
		return db, nil
	}
	build := func() (*app.Container, error) {
		if container != nil {
			return container, nil
		}
		conn, err := connect()
		if err != nil {
			return nil, err
		}
		var redisClient *redis.Client
		if client, err := cache.NewRedis(cfg.Redis); err != nil {
			logr.Warn("redis unavailable, dashboard cache will not be invalidated", zap.Error(err))
		} else {
			redisClient = client
		}
		// jobs run inline: the process exits as soon as the command returns
		container, err = app.New(cfg, logr, conn, redisClient, app.Options{})
		return container, err
	}

	cli := &commandLine{
		out: os.Stdout,
		migrate: func(ctx context.Context) ([]int64, error) {
			conn, err := connect()
			if err != nil {
				return nil, err
			}
			return database.Migrate(ctx, conn)
		},
		provisioning: func() (provisioner, fileReader, error) {
			c, err := build()
			if err != nil {
				return nil, nil, err
			}
			return c.Services.Provisioning, c.Files, nil
		},
		reminders: func() (reminderRunner, error) {
			c, err := build()
			if err != nil {
				return nil, err
			}
			return c.Services.Reminders, nil
		},
	}

	err = cli.run(ctx, os.Args)
	if db != nil {
		_ = db.Close()
	}
	if err != nil {
		if errors.Is(err, errHelp) {
			os.Exit(2)
		}
		logr.Error("command failed", zap.Error(err))
		os.Exit(1)
	}
}
