package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/careloop/caresched/libs/config"
	"github.com/careloop/caresched/libs/db"
	"github.com/careloop/caresched/libs/httpx"
	"github.com/careloop/caresched/libs/kafkax"
	otelx "github.com/careloop/caresched/libs/otel"
	"github.com/careloop/caresched/libs/runtime"
	"github.com/careloop/caresched/services/scheduling-service/internal/booking"
	"github.com/careloop/caresched/services/scheduling-service/internal/consumer"
	"github.com/careloop/caresched/services/scheduling-service/internal/directory"
	"github.com/careloop/caresched/services/scheduling-service/internal/handlers"
	"github.com/careloop/caresched/services/scheduling-service/internal/inbox"
	"github.com/careloop/caresched/services/scheduling-service/internal/outbox"
	"github.com/careloop/caresched/services/scheduling-service/internal/reminders"
	"github.com/careloop/caresched/services/scheduling-service/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func parseReminderOffsets(raw string, logger *slog.Logger) []time.Duration {
	var offsets []time.Duration
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		mins, err := strconv.Atoi(part)
		if err != nil || mins <= 0 {
			logger.Warn("invalid reminder offset", "value", part)
			continue
		}
		offsets = append(offsets, time.Duration(mins)*time.Minute)
	}
	if len(offsets) == 0 {
		offsets = []time.Duration{24 * time.Hour, time.Hour}
	}
	return offsets
}

// parseDevProviders reads "providerID:userID:rateCents" triples for local
// runs without a directory endpoint.
func parseDevProviders(raw string, logger *slog.Logger) *directory.StaticProvider {
	provider := directory.NewStaticProvider()
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		if len(fields) != 3 {
			logger.Warn("invalid dev provider entry", "value", part)
			continue
		}
		rate, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil || rate <= 0 {
			logger.Warn("invalid dev provider rate", "value", part)
			continue
		}
		provider.Add(directory.ProviderRecord{
			ProviderID:            fields[0],
			HourlyRateCents:       rate,
			LicenseVerified:       true,
			BackgroundCheckPassed: true,
		}, fields[1])
	}
	return provider
}

func main() {
	service := config.String("SERVICE_NAME", "scheduling-service")
	port, err := config.Port("PORT", "8084")
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

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	jwtSecret, err := config.RequiredString("JWT_SECRET")
	if err != nil {
		panic(err)
	}

	pool, err := db.Open(ctx, dbURL, db.Options{
		MaxConns: int32(config.Int("DB_MAX_CONNS", 10)),
	})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	outboxRepo := outbox.NewRepository(pool)
	remindersRepo := reminders.NewRepository(pool)
	repo := storage.NewAppointmentRepository(pool, outboxRepo, remindersRepo)

	var dir directory.Provider
	if baseURL := config.String("DIRECTORY_URL", ""); baseURL != "" {
		dir = directory.NewHTTPProvider(baseURL, config.String("DIRECTORY_TOKEN", ""))
	} else {
		logger.Warn("DIRECTORY_URL not set; using static dev providers")
		dir = parseDevProviders(config.String("DEV_PROVIDERS", ""), logger)
	}

	offsets := parseReminderOffsets(config.String("REMINDER_OFFSETS_MINUTES", "1440,60"), logger)
	svc := booking.NewService(repo, dir, logger, booking.Config{
		Horizon:         config.Days("BOOKING_HORIZON_DAYS", 90),
		ReminderOffsets: offsets,
	})

	brokers := config.String("KAFKA_BROKERS", "")
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	reminderWorker := reminders.NewWorker(pool, remindersRepo, outboxRepo, logger, reminders.WorkerConfig{
		Interval:  config.Duration("REMINDER_POLL_INTERVAL", 5*time.Second),
		BatchSize: 50,
	})
	go reminderWorker.Run(ctx)

	inboxRepo := inbox.NewRepository(pool)
	paymentsTopic := config.String("KAFKA_PAYMENTS_TOPIC", "payments.appointment.status.v1")
	paymentsConsumer := consumer.New(logger, inboxRepo, consumer.Config{
		Brokers: brokers,
		GroupID: config.String("KAFKA_GROUP_ID", "scheduling-service"),
		Topic:   paymentsTopic,
	}, func(ctx context.Context, msg kafka.Message) error {
		var payload struct {
			AppointmentID string `json:"appointment_id"`
			PaymentStatus string `json:"payment_status"`
		}
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid payment event payload", "err", err, "topic", msg.Topic)
			return nil
		}
		if payload.AppointmentID == "" || payload.PaymentStatus == "" {
			logger.Error("missing payment event fields", "topic", msg.Topic)
			return nil
		}
		return svc.ApplyPaymentStatus(ctx, payload.AppointmentID, payload.PaymentStatus)
	})
	go paymentsConsumer.Run(ctx)

	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	}

	var rateLimit httpx.Middleware
	if redisAddr := config.String("REDIS_ADDR", ""); redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		limiter := httpx.NewRedisRateLimiter(rdb,
			config.Int("RATE_LIMIT_PER_MINUTE", 120), time.Minute, service)
		rateLimit = limiter.Middleware(logger, true)
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Check: httpx.RedisReadyCheck(rdb)})
	}

	mux := runtime.NewBaseMux(readyChecks...)
	apptHandler := handlers.NewAppointmentHandler(svc, logger, jwtSecret)
	apptHandler.Register(mux)

	middlewares := []httpx.Middleware{
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1 << 20),
	}
	if rateLimit != nil {
		middlewares = append(middlewares, rateLimit)
	}
	httpHandler := httpx.Chain(mux, middlewares...)
	httpHandler = otelhttp.NewHandler(httpHandler, "scheduling")

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
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
