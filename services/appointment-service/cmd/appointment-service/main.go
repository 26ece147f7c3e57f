package main

import (
	"context"
	"net/http"
	"time"

	"github.com/carmatch/meetguard/libs/auth"
	"github.com/carmatch/meetguard/libs/clock"
	"github.com/carmatch/meetguard/libs/config"
	"github.com/carmatch/meetguard/libs/grpcx"
	"github.com/carmatch/meetguard/libs/httpx"
	otelx "github.com/carmatch/meetguard/libs/otel"
	"github.com/carmatch/meetguard/libs/runtime"
	"github.com/carmatch/meetguard/services/appointment-service/internal/appointment"
	"github.com/carmatch/meetguard/services/appointment-service/internal/handlers"
	"github.com/carmatch/meetguard/services/appointment-service/internal/jobs"
	"github.com/carmatch/meetguard/services/appointment-service/internal/monitor"
	"github.com/carmatch/meetguard/services/appointment-service/internal/notify"
	"github.com/carmatch/meetguard/services/appointment-service/internal/outbox"
	"github.com/carmatch/meetguard/services/appointment-service/internal/reminders"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	service := config.String("SERVICE_NAME", "appointment-service")
	port, err := config.Port("PORT", "8080")
	if err != nil {
		panic(err)
	}
	grpcPort, err := config.Port("GRPC_PORT", "9080")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	deps, err := openDependencies(ctx, logger)
	if err != nil {
		logger.Error("dependency setup failed", "err", err)
		panic(err)
	}
	defer deps.Close()

	clk := clock.System{}
	sender := notify.NewBestEffort(deps.dispatcher, logger, notify.Options{
		Timeout:    config.Duration("NOTIFY_TIMEOUT", 5*time.Second),
		RatePerSec: float64(config.Int("NOTIFY_RATE_PER_SEC", 20)),
		Burst:      config.Int("NOTIFY_BURST", 40),
	})

	svc := appointment.NewService(deps.store, deps.convs, sender, clk, logger)
	reminderScheduler := reminders.NewScheduler(deps.store, deps.convs, sender, clk, logger, reminders.Config{
		Offsets: minutesList("REMINDER_OFFSETS_MINUTES", "2880,1440", logger),
		Window:  time.Duration(config.Int("REMINDER_WINDOW_MINUTES", 60)) * time.Minute,
	})
	safetyMonitor := monitor.New(deps.store, deps.convs, sender, clk, logger, monitor.Config{
		ProbeInterval: config.Duration("MONITOR_PROBE_INTERVAL", 20*time.Minute),
		MissThreshold: config.Int("MONITOR_MISS_THRESHOLD", 2),
	})

	if deps.pool != nil && deps.outboxWriter != nil {
		publisher := outbox.NewPublisher(deps.pool, outbox.NewRepository(), deps.outboxWriter, logger, outbox.PublisherConfig{
			PollEvery: config.Duration("OUTBOX_POLL_EVERY", 2*time.Second),
			BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
		})
		runtime.Go(logger, "outbox-publisher", func() { publisher.Run(ctx) })
	}

	var lease jobs.Lease = jobs.NoLease{}
	if deps.redis != nil {
		lease = jobs.NewRedisLease(deps.redis, config.String("JOB_LEASE_PREFIX", "meetguard:jobs"))
	}
	runner := jobs.NewRunner(logger, lease, jobs.Config{Timeout: config.Duration("JOB_TIMEOUT", 2*time.Minute)})
	mustRegister(runner, jobs.Job{
		Name:     "reminders",
		Schedule: config.String("REMINDER_SCHEDULE", "@every 15m"),
		Run:      func(ctx context.Context) (any, error) { return reminderScheduler.Run(ctx) },
	})
	mustRegister(runner, jobs.Job{
		Name:     "monitor",
		Schedule: config.String("MONITOR_SCHEDULE", "@every 1m"),
		Run:      func(ctx context.Context) (any, error) { return safetyMonitor.Run(ctx) },
	})
	if config.Bool("SCHEDULER_ENABLED", true) {
		runner.Start(ctx)
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := runner.Stop(stopCtx); err != nil {
				logger.Warn("job runner did not stop in time", "err", err)
			}
		}()
	}

	verifier := auth.Verifier{Secret: config.String("JWT_SECRET", "")}
	if jwksURL := config.String("JWKS_URL", ""); jwksURL != "" {
		verifier.JWKS = auth.NewJWKSClient(jwksURL, config.Duration("JWKS_CACHE_TTL", 5*time.Minute))
	}

	apptHandler := handlers.NewAppointmentHandler(svc, logger)
	api := http.NewServeMux()
	api.HandleFunc("/api/v1/appointments", apptHandler.Collection)
	api.HandleFunc("/api/v1/appointments/status", apptHandler.UpdateStatus)
	api.HandleFunc("/api/v1/appointments/reschedule", apptHandler.Reschedule)
	api.HandleFunc("/api/v1/appointments/safety-check", apptHandler.SafetyCheck)

	mux := runtime.NewBaseMuxWithReady(deps.readyChecks...)
	mux.Handle("/api/", httpx.Chain(api,
		auth.RequireAuth(verifier),
		rateLimiter(deps, logger),
	))
	mux.HandleFunc("/internal/jobs/", handlers.NewJobsHandler(runner, config.String("CRON_SECRET", ""), logger).Trigger)

	httpHandler := httpx.Chain(mux,
		httpx.WithRecover(logger),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins:   config.List("CORS_ALLOWED_ORIGINS", ""),
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-Id"},
			AllowCredentials: true,
			MaxAge:           10 * time.Minute,
		}),
		httpx.WithBodyLimit(int64(config.Int("HTTP_MAX_BODY_BYTES", 1<<20))),
		httpx.WithTimeout(config.Duration("HTTP_HANDLER_TIMEOUT", 15*time.Second)),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "appointments")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcSrv, health := grpcx.NewServer(logger)
	health.SetServingStatus(service, healthpb.HealthCheckResponse_SERVING)
	if err := grpcx.Serve(ctx, logger, grpcSrv, health, ":"+grpcPort); err != nil {
		logger.Error("grpc listen failed", "err", err)
		panic(err)
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

func mustRegister(r *jobs.Runner, job jobs.Job) {
	if err := r.Register(job); err != nil {
		panic(err)
	}
}
