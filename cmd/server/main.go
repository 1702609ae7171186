package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib"

	"forum-api/internal/api"
	"forum-api/internal/cache"
	"forum-api/internal/config"
	"forum-api/internal/events"
	"forum-api/internal/jwt"
	"forum-api/internal/logging"
	"forum-api/internal/model"
	"forum-api/internal/oss"
	"forum-api/internal/repository"
	"forum-api/internal/service"
	"forum-api/internal/tracing"
	_ "forum-api/migrations"
)

const resendWindow = time.Minute

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logging.SetupGlobalHandler(cfg.App.ServiceName, cfg.App.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "migrate":
			handleMigrations(cfg.DB.URL)
			return
		case "promote":
			if len(os.Args) != 3 {
				log.Fatalf("usage: %s promote <username|email>", os.Args[0])
			}
			promoteAdmin(ctx, cfg.DB.URL, os.Args[2])
			return
		}
	}

	shutdownTracer, err := tracing.InitTracerProvider(ctx, cfg.App.ServiceName, cfg.App)
	if err != nil {
		log.Fatalf("Failed to initialize OpenTelemetry: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			slog.Error("Error shutting down tracer provider", "error", err)
		}
	}()

	db := connectDB(cfg.DB.URL)
	defer db.Close()

	rdb, err := cache.NewClient(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer rdb.Close()
	slog.Info("Successfully connected to Redis.")

	eventPublisher, natsConn, err := events.NewNatsPublisher(cfg.NATS.URL)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer natsConn.Drain()
	slog.Info("Successfully connected to NATS.")

	// a nil interface keeps file endpoints answering 503 instead of panicking
	var signer service.URLSigner
	presigner, err := oss.NewFilePresigner(ctx, cfg.OSS)
	if err != nil {
		slog.Warn("Object storage disabled", "error", err)
	} else {
		signer = presigner
	}

	namespace := cfg.CacheNamespace()
	tokens := jwt.NewManager(cfg.JWT.Secret, cfg.JWT.AccessTTL, cfg.JWT.RefreshTTL)
	urlCache := cache.NewFileURLCache(rdb, namespace)

	userRepo := repository.NewPostgresUserRepository(db)
	tokenRepo := repository.NewPostgresTokenRepository(db)
	deviceRepo := repository.NewPostgresDeviceTokenRepository(db)
	oauthRepo := repository.NewPostgresOAuthRepository(db)
	identityRepo := repository.NewPostgresIdentityRepository(db)
	fileRepo := repository.NewPostgresFileRepository(db)

	authService := service.NewAuthService(
		userRepo,
		tokenRepo,
		deviceRepo,
		tokens,
		eventPublisher,
		cache.NewTokenBlacklist(rdb, namespace),
		cache.NewThrottle(rdb, namespace, "resend_verification", resendWindow),
		service.AuthOptions{
			AllowedEmailDomains:      cfg.Auth.AllowedEmailDomains,
			RequireEmailVerification: cfg.Auth.RequireEmailVerification,
			FrontendURL:              cfg.App.FrontendURL,
		},
	)
	oauthService := service.NewOAuthService(oauthRepo, userRepo)
	identityService := service.NewIdentityService(identityRepo, fileRepo, eventPublisher)
	fileService := service.NewFileService(fileRepo, signer, urlCache, cfg.OSS.URLTTL)
	cacheService := service.NewCacheService(urlCache, fileRepo, fileService, func(ctx context.Context) (cache.ServerStats, error) {
		return cache.Stats(ctx, rdb)
	})

	app := api.NewRouter(api.RouterConfig{
		ServiceName:    cfg.App.ServiceName,
		AllowedOrigins: cfg.AllowedOrigins(),
		StripAPIPrefix: cfg.HTTP.StripAPIPrefix,
		RatePerMinute:  cfg.HTTP.RatePerMinute,
		TrustedProxies: cfg.HTTP.TrustedProxies,
	}, tokens, authService, api.Handlers{
		Auth:     api.NewAuthHandler(authService),
		OAuth:    api.NewOAuthHandler(oauthService),
		Identity: api.NewIdentityHandler(identityService),
		File:     api.NewFileHandler(fileService),
		Cache:    api.NewCacheHandler(cacheService),
	})

	go func() {
		<-ctx.Done()
		slog.Info("Shutting down HTTP server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			slog.Error("HTTP shutdown failed", "error", err)
		}
	}()

	slog.Info("Listening", "service", cfg.App.ServiceName, "port", cfg.HTTP.Port, "env", cfg.App.Env)
	if err := app.Listen(":" + cfg.HTTP.Port); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("HTTP server stopped: %v", err)
	}
}

func connectDB(dbURL string) *sqlx.DB {
	db, err := sqlx.Connect("pgx", dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	slog.Info("Successfully connected to the database.")
	return db
}

func handleMigrations(dbURL string) {
	slog.Info("Running database migrations...")

	db, err := sql.Open("pgx", dbURL)
	if err != nil {
		log.Fatalf("failed to connect to database for migration: %v", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		log.Fatalf("failed to set goose dialect: %v", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		log.Fatalf("goose: failed to run migrations: %v", err)
	}

	slog.Info("Migrations applied successfully!")
}

// promoteAdmin grants the admin role from the command line. It is how the first
// admin of a fresh deployment is created; later ones use PUT /users/:id/role.
func promoteAdmin(ctx context.Context, dbURL, login string) {
	db := connectDB(dbURL)
	defer db.Close()

	users := repository.NewPostgresUserRepository(db)
	user, err := users.FindByLogin(ctx, login)
	if err != nil {
		log.Fatalf("user %q not found: %v", login, err)
	}
	if user.IsDeleted {
		log.Fatalf("user %q is deleted", login)
	}
	if err := users.UpdateRole(ctx, user.ID, model.RoleAdmin); err != nil {
		log.Fatalf("failed to promote %q: %v", login, err)
	}

	slog.Info("User promoted to admin", "user_id", user.ID, "username", user.Username)
}
