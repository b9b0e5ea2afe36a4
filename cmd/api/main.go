package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/config"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/gateway"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/migrations"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/notify"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/registration"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/router"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/store/pgstore"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/verification"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

func main() {
	// load .env file if present so os.Getenv picks values from it
	// this is best-effort: if no .env exists, continue (use defaults or real env)
	_ = godotenv.Load()

	// init logger
	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Info("starting service-auth-go")

	cfg, err := config.ConfigFromEnv()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		sugar.Fatalf("invalid config: %v", err)
	}

	// init db
	db, err := database.Connect(database.ConfigFromEnv())
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := migrations.Run(ctx, db.DB); err != nil {
		sugar.Fatalf("migrate: %v", err)
	}

	handler, err := build(cfg, pgstore.New(db), sugar)
	if err != nil {
		sugar.Fatalf("wiring: %v", err)
	}

	// mount http server
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.RegisterRoutes(sugar, router.Options{Auth: handler, CORS: gateway.DefaultPolicy(cfg.AllowedOrigins), DB: db}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// run server in background
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()
	sugar.Infow("service is running; press Ctrl+C to stop", "addr", cfg.HTTPAddr)

	<-ctx.Done()

	sugar.Info("shutting down")

	// give a short grace period for cleanup
	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// shutdown http server
	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}

	sugar.Info("goodbye")
}

// build assembles the services behind the /auth routes.
func build(cfg config.Config, st *pgstore.Store, logger *zap.SugaredLogger) (*auth.Handler, error) {
	var mailer notify.Mailer
	switch cfg.MailDriver {
	case "log":
		logger.Warn("MAIL_DRIVER=log: verification emails are not delivered")
		mailer = notify.LogMailer{Logger: logger}
	default:
		m, err := notify.NewSMTPMailer(notify.SMTPConfig{
			Host:        cfg.SMTP.Host,
			Port:        cfg.SMTP.Port,
			Username:    cfg.SMTP.User,
			Password:    cfg.SMTP.Password,
			ImplicitTLS: cfg.SMTP.ImplicitTLS,
		})
		if err != nil {
			return nil, err
		}
		mailer = m
	}

	node, err := utilities.NewSnowflakeNode(cfg.SnowflakeNode)
	if err != nil {
		return nil, fmt.Errorf("snowflake node: %w", err)
	}
	notifier, err := notify.NewMailNotifier(mailer, notify.Config{
		AppURL:   cfg.AppURL,
		From:     cfg.MailFrom,
		FromName: cfg.MailFromName,
		Timeout:  cfg.MailTimeout,
		Retries:  cfg.MailRetries,
	}, node, logger)
	if err != nil {
		return nil, err
	}

	hasher := user.NewArgon2Hasher(user.DefaultArgon2Params)
	issuer := session.NewIssuer(session.Config{
		Secret:     []byte(cfg.JWTSecret),
		Issuer:     cfg.JWTIssuer,
		AccessTTL:  cfg.JWTExpiration,
		RefreshTTL: cfg.JWTRefreshTTL,
	})
	tokens := verification.NewManager(st, notifier, logger)

	return auth.NewHandler(auth.Deps{
		Registration: registration.NewService(st, hasher, tokens, notifier, logger),
		Verification: tokens,
		Users:        user.NewService(st.Users(), hasher, logger),
		Issuer:       issuer,
		Authn:        gateway.NewAuthenticator(issuer, st.Users(), logger),
		Lookup:       st.Users(),
		Logger:       logger,
	}), nil
}
