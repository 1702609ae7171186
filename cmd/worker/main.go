package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/nats-io/nats.go"

	_ "github.com/jackc/pgx/v5/stdlib"

	"forum-api/internal/config"
	"forum-api/internal/logging"
	"forum-api/internal/repository"
	"forum-api/internal/tracing"
	"forum-api/internal/worker"
)

const serviceName = "notification-worker"

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logging.SetupGlobalHandler(serviceName, cfg.App.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracing.InitTracerProvider(ctx, serviceName, cfg.App)
	if err != nil {
		log.Fatalf("Failed to initialize OpenTelemetry: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			slog.Error("Error shutting down tracer provider", "error", err)
		}
	}()

	db, err := sqlx.Connect("pgx", cfg.DB.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	slog.Info("Notification worker connected to the database.")

	nc, err := nats.Connect(cfg.NATS.URL, nats.Name(serviceName), nats.MaxReconnects(-1))
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer nc.Drain()

	pusher, err := worker.NewAPNSPusher(cfg.APNS)
	if err != nil {
		log.Fatalf("Failed to initialize APNs: %v", err)
	}

	w := worker.New(
		nc,
		worker.NewSMTPMailer(cfg.SMTP),
		pusher,
		repository.NewPostgresDeviceTokenRepository(db),
		worker.Options{
			QueueGroup: cfg.Worker.QueueGroup,
			MaxRetries: cfg.Worker.MaxRetries,
			RetryDelay: cfg.Worker.RetryDelay,
		},
	)
	if err := w.Start(ctx); err != nil {
		log.Fatalf("Failed to start worker: %v", err)
	}

	slog.Info("Notification worker started, waiting for events...", "env", cfg.App.Env, "apns_mock", pusher.Mock())

	<-ctx.Done()

	slog.Info("Shutting down notification worker...")
	w.Stop()
}
