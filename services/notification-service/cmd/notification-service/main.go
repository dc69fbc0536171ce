package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/careloop/caresched/libs/config"
	"github.com/careloop/caresched/libs/db"
	"github.com/careloop/caresched/libs/httpx"
	"github.com/careloop/caresched/libs/kafkax"
	otelx "github.com/careloop/caresched/libs/otel"
	"github.com/careloop/caresched/libs/runtime"
	"github.com/careloop/caresched/services/notification-service/internal/consumer"
	"github.com/careloop/caresched/services/notification-service/internal/dispatch"
	"github.com/careloop/caresched/services/notification-service/internal/email"
	"github.com/careloop/caresched/services/notification-service/internal/inbox"
	"github.com/careloop/caresched/services/notification-service/internal/sms"
	"github.com/careloop/caresched/services/notification-service/internal/storage"
	"github.com/segmentio/kafka-go"
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

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}

	pool, err := db.Open(ctx, dbURL, db.Options{})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	inboxRepo := inbox.NewRepository(pool)
	contactsRepo := storage.NewContactsRepository(pool)
	notificationsRepo := storage.NewNotificationsRepository(pool)

	emailSender := email.NewSMTPSender(
		config.String("SMTP_HOST", "mailpit"),
		config.String("SMTP_PORT", "1025"),
		config.String("SMTP_FROM", "no-reply@careloop.local"),
	)

	var smsSender sms.Sender
	switch strings.ToLower(config.String("SMS_PROVIDER", "noop")) {
	case "webhook":
		smsSender = sms.NewWebhookSender(
			config.String("SMS_WEBHOOK_URL", ""),
			config.String("SMS_WEBHOOK_TOKEN", ""),
		)
	default:
		smsSender = sms.NewNoopSender()
	}

	dispatcher := dispatch.New(contactsRepo, emailSender, smsSender, notificationsRepo, logger)

	contactsTopic := config.String("KAFKA_CONTACTS_TOPIC", "identity.user.updated.v1")
	topics := []string{
		dispatch.EventConfirmed,
		dispatch.EventCancelled,
		dispatch.EventReminderDue,
		contactsTopic,
	}
	eventConsumer := consumer.New(logger, inboxRepo, consumer.Config{
		Brokers: config.String("KAFKA_BROKERS", ""),
		GroupID: config.String("KAFKA_GROUP_ID", "notification-service"),
		Topics:  topics,
	}, func(ctx context.Context, eventType string, msg kafka.Message) error {
		if eventType == contactsTopic {
			var payload struct {
				UserID           string `json:"user_id"`
				DisplayName      string `json:"display_name"`
				Email            string `json:"email"`
				Phone            string `json:"phone"`
				PreferredChannel string `json:"preferred_channel"`
			}
			if err := json.Unmarshal(msg.Value, &payload); err != nil {
				logger.Error("invalid contact payload", "err", err)
				return nil
			}
			if payload.UserID == "" {
				logger.Error("contact event missing user_id")
				return nil
			}
			return contactsRepo.Upsert(ctx, storage.Contact{
				UserID:           payload.UserID,
				DisplayName:      payload.DisplayName,
				Email:            payload.Email,
				Phone:            payload.Phone,
				PreferredChannel: payload.PreferredChannel,
			})
		}
		return dispatcher.Handle(ctx, eventType, msg.Value)
	})
	go eventConsumer.Run(ctx)

	mux := runtime.NewBaseMux(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
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
