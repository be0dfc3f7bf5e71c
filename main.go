package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	alarmapp "github.com/Dipeshbist/Yeti-Server/internal/alarms/application"
	alarms "github.com/Dipeshbist/Yeti-Server/internal/alarms/domain"
	alarmrepo "github.com/Dipeshbist/Yeti-Server/internal/alarms/infrastructure/postgres"
	alarmhttp "github.com/Dipeshbist/Yeti-Server/internal/alarms/interfaces/http"
	alarmnotify "github.com/Dipeshbist/Yeti-Server/internal/alarms/notify"
	apihttp "github.com/Dipeshbist/Yeti-Server/internal/api/http"
	"github.com/Dipeshbist/Yeti-Server/internal/audit"
	"github.com/Dipeshbist/Yeti-Server/internal/auth"
	"github.com/Dipeshbist/Yeti-Server/internal/config"
	deviceapp "github.com/Dipeshbist/Yeti-Server/internal/devices/application"
	devicerepo "github.com/Dipeshbist/Yeti-Server/internal/devices/infrastructure/postgres"
	devicehttp "github.com/Dipeshbist/Yeti-Server/internal/devices/interfaces/http"
	"github.com/Dipeshbist/Yeti-Server/internal/logging"
	"github.com/Dipeshbist/Yeti-Server/internal/observability/metrics"
	"github.com/Dipeshbist/Yeti-Server/internal/tbadapter"
	telemetryapp "github.com/Dipeshbist/Yeti-Server/internal/telemetry/application"
	telemetryhttp "github.com/Dipeshbist/Yeti-Server/internal/telemetry/interfaces/http"
	"github.com/Dipeshbist/Yeti-Server/internal/users"
)

const serviceName = "yeti-server"

func main() {
	configPath := pflag.String("config", "", "path to a YAML config file")
	envFile := pflag.String("env-file", ".env", "path to a .env file loaded before the environment")
	addr := pflag.String("addr", "", "HTTP listen address (overrides config)")
	pflag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "load env file: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db open: %w", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	metrics.Init(db, logger)

	client, err := tbadapter.NewClient(cfg.ThingsBoard.BaseURL, cfg.ThingsBoard.Username, cfg.ThingsBoard.Password,
		tbadapter.WithTimeout(cfg.ThingsBoard.RequestTimeout),
		tbadapter.WithLogger(logger.Named("tbadapter")),
	)
	if err != nil {
		return fmt.Errorf("thingsboard client: %w", err)
	}
	streams, err := tbadapter.NewStreamManager(client.BaseURL(), client.Session(),
		tbadapter.WithStreamLogger(logger.Named("stream")),
		tbadapter.WithHandshakeTimeout(cfg.ThingsBoard.HandshakeTimeout),
		tbadapter.WithBufferSize(cfg.ThingsBoard.StreamBuffer),
	)
	if err != nil {
		return fmt.Errorf("stream manager: %w", err)
	}

	userRepo := users.NewRepository(db)
	auditRepo := audit.NewRepository(db)
	overlayRepo := devicerepo.NewOverlayRepository(db)
	alertRepo := alarmrepo.NewAlertRepository(db)

	telemetryService, err := telemetryapp.NewService(client, telemetryapp.WithLogger(logger.Named("telemetry")))
	if err != nil {
		return err
	}
	deviceService, err := deviceapp.NewService(client, overlayRepo, userRepo, logger.Named("devices"))
	if err != nil {
		return err
	}

	broker := alarmhttp.NewSSEBroker()
	var alertService *alarmapp.Service
	if cfg.Alerts.Enabled {
		alertService, err = buildAlertService(ctx, cfg, logger, client, streams, userRepo, deviceService, alertRepo, broker)
		if err != nil {
			return err
		}
	}

	mux := http.NewServeMux()
	telemetryHandler, err := telemetryhttp.NewHandler(telemetryService, logger.Named("telemetry_http"))
	if err != nil {
		return err
	}
	telemetryHandler.Register(mux)
	deviceHandler, err := devicehttp.NewHandler(deviceService, auditRepo, logger.Named("devices_http"))
	if err != nil {
		return err
	}
	deviceHandler.Register(mux)
	adminHandler, err := devicehttp.NewAdminHandler(client, streams, auditRepo, logger.Named("admin_http"))
	if err != nil {
		return err
	}
	adminHandler.Register(mux)
	var rules alarmhttp.RuleSource
	if alertService != nil {
		rules = alertService
	}
	alarmhttp.NewHandler(broker, rules, alertRepo, logger.Named("alerts_http")).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", apihttp.Health)

	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)).
		WithUsers(userRepo)
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           apihttp.RequestLogger(apihttp.CORS(authMiddleware.Wrap(mux), cfg.AllowedOrigins), logger.Named("http")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if alertService != nil {
		go func() {
			started, err := alertService.Start(ctx)
			if err != nil {
				logger.Error("alert discovery failed", zap.Int("subscriptions", started), zap.Error(err))
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	stop()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	streams.Wait()
	if alertService != nil {
		alertService.Wait()
	}
	return nil
}

func buildAlertService(
	ctx context.Context,
	cfg config.Config,
	logger *zap.Logger,
	client *tbadapter.Client,
	streams *tbadapter.StreamManager,
	recipients *users.Repository,
	names *deviceapp.Service,
	history *alarmrepo.AlertRepository,
	broker *alarmhttp.SSEBroker,
) (*alarmapp.Service, error) {
	alertLogger := logger.Named("alerts")

	template, err := alarmnotify.NewTemplate(cfg.Alerts.Template)
	if err != nil {
		return nil, fmt.Errorf("alert template: %w", err)
	}

	var sender alarmnotify.Sender
	mailer, err := alarmnotify.NewMailer(alarmnotify.MailerConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	}, alarmnotify.WithTemplate(template), alarmnotify.WithMailerLogger(alertLogger))
	switch {
	case errors.Is(err, alarmnotify.ErrMailerDisabled):
		alertLogger.Warn("smtp not configured, alert mail is logged only")
		sender = alarmnotify.NewLogMailer(alertLogger)
	case err != nil:
		return nil, err
	default:
		sender = mailer
	}

	notifierOpts := []alarmnotify.Option{
		alarmnotify.WithCooldown(cfg.Alerts.Cooldown),
		alarmnotify.WithLogger(alertLogger),
	}
	if store := redisCooldown(ctx, cfg.Redis, alertLogger); store != nil {
		notifierOpts = append(notifierOpts, alarmnotify.WithCooldownStore(store))
	}
	notifier, err := alarmnotify.NewNotifier(sender, notifierOpts...)
	if err != nil {
		return nil, err
	}

	publishers := []alarmnotify.Publisher{broker}
	if recorder, err := alarmnotify.NewStorePublisher(history, alertLogger); err == nil {
		publishers = append(publishers, recorder)
	}
	if cfg.Alerts.WebhookURL != "" {
		channel, err := alarmnotify.NewWebhookChannel(cfg.Alerts.WebhookURL)
		if err != nil {
			return nil, err
		}
		webhook, err := alarmnotify.NewChannelPublisher(channel, template, alertLogger)
		if err != nil {
			return nil, err
		}
		publishers = append(publishers, webhook)
	}

	return alarmapp.NewService(client, streams, recipients, notifier,
		alarmapp.WithRule(alarms.Rule{
			KeyMatch:        cfg.Alerts.KeyMatch,
			Threshold:       cfg.Alerts.Threshold,
			FreshnessWindow: cfg.Alerts.FreshnessWindow,
		}),
		alarmapp.WithDeviceNames(names),
		alarmapp.WithPublisher(alarmnotify.NewMultiPublisher(publishers...).WithLogger(alertLogger)),
		alarmapp.WithPageSize(cfg.Alerts.DiscoveryPageSize),
		alarmapp.WithLogger(alertLogger),
	)
}

// redisCooldown returns nil when Redis is not configured or unreachable.
func redisCooldown(ctx context.Context, cfg config.Redis, logger *zap.Logger) alarmnotify.CooldownStore {
	if cfg.Addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unavailable, using in-memory cooldown", zap.String("addr", cfg.Addr), zap.Error(err))
		_ = client.Close()
		return nil
	}
	store, err := alarmnotify.NewRedisCooldown(client, "")
	if err != nil {
		_ = client.Close()
		return nil
	}
	return store
}
