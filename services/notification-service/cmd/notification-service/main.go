package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/carmatch/meetguard/libs/auth"
	"github.com/carmatch/meetguard/libs/config"
	"github.com/carmatch/meetguard/libs/httpx"
	"github.com/carmatch/meetguard/libs/kafkax"
	otelx "github.com/carmatch/meetguard/libs/otel"
	"github.com/carmatch/meetguard/libs/runtime"
	"github.com/carmatch/meetguard/services/notification-service/internal/consumer"
	"github.com/carmatch/meetguard/services/notification-service/internal/delivery"
	"github.com/carmatch/meetguard/services/notification-service/internal/dispatch"
	"github.com/carmatch/meetguard/services/notification-service/internal/handlers"
	"github.com/carmatch/meetguard/services/notification-service/internal/push"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "notification-service")
	port, err := config.Port("PORT", "8085")
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

	backend, err := openStorage(ctx, logger)
	if err != nil {
		logger.Error("storage setup failed", "err", err)
		panic(err)
	}
	defer backend.close()

	var sender push.Sender
	switch strings.ToLower(config.String("PUSH_PROVIDER", "noop")) {
	case "webhook":
		sender = push.NewWebhookSender(config.String("PUSH_GATEWAY_URL", ""), config.String("PUSH_GATEWAY_TOKEN", ""))
	default:
		sender = push.NewNoopSender()
	}

	store := backend.store
	processor := delivery.NewProcessor(store, sender, logger)

	brokers := kafkax.SplitBrokers(config.String("KAFKA_BROKERS", ""))
	readyChecks := []runtime.ReadyCheck{backend.ready}
	if len(brokers) > 0 {
		eventConsumer := consumer.New(logger, backend.inbox, consumer.Config{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", "notification-service"),
			Topic:   config.String("KAFKA_CONSUME_TOPIC", dispatch.Topic),
		}, processor.HandleMessage)
		runtime.Go(logger, "dispatch-consumer", func() { eventConsumer.Run(ctx) })
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	} else {
		logger.Warn("KAFKA_BROKERS not set; only the HTTP ingest endpoint accepts notifications")
	}

	verifier := auth.Verifier{Secret: config.String("JWT_SECRET", "")}
	if jwksURL := config.String("JWKS_URL", ""); jwksURL != "" {
		verifier.JWKS = auth.NewJWKSClient(jwksURL, config.Duration("JWKS_CACHE_TTL", 5*time.Minute))
	}

	h := handlers.New(processor, store, config.String("INGEST_TOKEN", ""), logger)
	api := http.NewServeMux()
	api.HandleFunc("/api/v1/notifications", h.List)
	api.HandleFunc("/api/v1/notifications/read", h.MarkRead)

	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	mux.Handle("/api/", auth.RequireAuth(verifier)(api))
	mux.HandleFunc("/internal/notifications", h.Ingest)

	handler := httpx.Chain(mux,
		httpx.WithRecover(logger),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(64<<10),
	)
	handler = otelhttp.NewHandler(handler, "notification")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
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
