package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"solar-fleet/internal/audit"
	"solar-fleet/internal/auth"
	monitoringapp "solar-fleet/internal/monitoring/application"
	monitoring "solar-fleet/internal/monitoring/domain"
	fleetrepo "solar-fleet/internal/monitoring/infrastructure/postgres"
	fleethttp "solar-fleet/internal/monitoring/interfaces/http"
	fleetnotify "solar-fleet/internal/monitoring/notify"
	"solar-fleet/internal/observability/metrics"
	"solar-fleet/internal/solarcloud"

	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)
	cfg, err := monitoringapp.LoadConfig()
	if err != nil {
		logger.Fatalf("config error: %v", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		logger.Fatalf("alert timezone error: %v", err)
	}

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("db open error: %v", err)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			logger.Fatalf("db ping error: %v", err)
		}
		if err := fleetrepo.EnsureSchema(context.Background(), db); err != nil {
			logger.Fatalf("db schema error: %v", err)
		}
	}
	metrics.Init(db, logger)

	session, err := buildSession(cfg)
	if err != nil {
		logger.Fatalf("telemetry session error: %v", err)
	}
	client, err := solarcloud.NewClient(cfg.API.BaseURL, session,
		solarcloud.WithTimeout(cfg.API.RequestTimeout),
		solarcloud.WithPageSize(cfg.Refresh.PageSize),
	)
	if err != nil {
		logger.Fatalf("telemetry client error: %v", err)
	}

	var preferences monitoringapp.PreferenceReader = monitoringapp.StaticPreferences(cfg.PreferredDevices)
	handlerOpts := []fleethttp.HandlerOption{
		fleethttp.WithHistory(client),
		fleethttp.WithLogger(logger),
	}
	notifiers := fleetnotify.NewMultiNotifier()
	if db != nil {
		prefRepo := fleetrepo.NewPreferenceRepository(db)
		alertLog := fleetrepo.NewAlertLogRepository(db, logger)
		preferences = prefRepo
		notifiers.Add(alertLog)
		handlerOpts = append(handlerOpts,
			fleethttp.WithPreferenceWriter(prefRepo),
			fleethttp.WithAlertLog(alertLog),
			fleethttp.WithAuditLogger(audit.NewRepository(db)),
		)
	}

	resolver, err := monitoringapp.NewTopologyResolver(client,
		monitoringapp.WithPreferences(preferences),
		monitoringapp.WithStationBatchSize(cfg.Refresh.BatchSize),
		monitoringapp.WithResolverLogger(logger),
	)
	if err != nil {
		logger.Fatalf("topology resolver error: %v", err)
	}
	collector, err := monitoringapp.NewCollector(resolver, client, monitoring.NewRuleEngine(loc),
		monitoringapp.WithBatchSize(cfg.Refresh.BatchSize),
		monitoringapp.WithConcurrency(cfg.Refresh.Concurrency),
		monitoringapp.WithCollectorLogger(logger),
	)
	if err != nil {
		logger.Fatalf("collector error: %v", err)
	}

	store := monitoringapp.NewSnapshotStore()
	scheduler, err := monitoringapp.NewScheduler(collector, store,
		monitoringapp.WithInterval(cfg.Refresh.Interval),
		monitoringapp.WithTopologyEvery(cfg.Refresh.TopologyEvery),
		monitoringapp.WithNotifier(notifiers),
		monitoringapp.WithSchedulerLogger(logger),
	)
	if err != nil {
		logger.Fatalf("scheduler error: %v", err)
	}

	broker := fleethttp.NewSSEBroker()
	notifiers.Add(broker)
	hub := fleethttp.NewSnapshotHub(logger)
	scheduler.Subscribe(hub.Publish)
	handlerOpts = append(handlerOpts, fleethttp.WithBroker(broker), fleethttp.WithHub(hub))

	if cfg.Notify.WebhookURL != "" {
		webhook, err := buildWebhookNotifier(cfg.Notify, scheduler, logger)
		if err != nil {
			logger.Fatalf("alert webhook error: %v", err)
		}
		defer webhook.Close()
		notifiers.Add(webhook)
	}
	if cfg.Notify.NATSURL != "" {
		natsNotifier, err := fleetnotify.ConnectNATS(cfg.Notify.NATSURL, cfg.Notify.NATSSubject, logger)
		if err != nil {
			logger.Fatalf("nats connect error: %v", err)
		}
		defer natsNotifier.Close()
		notifiers.Add(natsNotifier)
	}

	handler, err := fleethttp.NewHandler(store, scheduler, handlerOpts...)
	if err != nil {
		logger.Fatalf("fleet handler error: %v", err)
	}
	router := fleethttp.NewRouter(handler, map[string]http.Handler{
		"/metrics": promhttp.Handler(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		scheduler.Start(ctx)
	}()

	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil))
	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(router), logger)}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Printf("fleet monitor listening: addr=%s notifiers=%d", cfg.HTTPAddr, notifiers.Len())
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("http server error: %v", err)
	}
	<-done
	scheduler.Wait()
	logger.Printf("fleet monitor stopped")
}

func buildSession(cfg monitoringapp.Config) (solarcloud.TelemetrySession, error) {
	if !cfg.UsesCredentials() {
		return solarcloud.StaticSession(cfg.API.Token), nil
	}
	return solarcloud.NewTokenSession(cfg.API.BaseURL, solarcloud.Credentials{
		AppID:     cfg.API.AppID,
		AppSecret: cfg.API.AppSecret,
		Email:     cfg.API.Email,
		Password:  cfg.API.Password,
	})
}

func buildWebhookNotifier(cfg monitoringapp.NotifyConfig, active fleetnotify.ActiveChecker, logger *log.Logger) (*fleetnotify.Notifier, error) {
	channel, err := fleetnotify.NewWebhookChannel(cfg.WebhookURL)
	if err != nil {
		return nil, err
	}
	template, err := fleetnotify.NewTemplate(cfg.Template)
	if err != nil {
		return nil, err
	}
	return fleetnotify.NewNotifier(channel, template,
		fleetnotify.WithEscalation(cfg.Escalation, active),
		fleetnotify.WithCooldown(cfg.Cooldown),
		fleetnotify.WithDedupeWindow(cfg.DedupeWindow),
		fleetnotify.WithRequestTimeout(cfg.Timeout),
		fleetnotify.WithLogger(logger),
	)
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, ww.Status(), time.Since(start))
	})
}
