package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	goredis "github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"studio-booking/internal/auth"
	"studio-booking/internal/booking"
	"studio-booking/internal/booking/api"
	bookingdb "studio-booking/internal/booking/db"
	bookingredis "studio-booking/internal/booking/redis"
	"studio-booking/internal/calendar"
	"studio-booking/internal/config"
	"studio-booking/internal/database/migrations"
	"studio-booking/internal/discount"
	"studio-booking/internal/kafka"
	"studio-booking/internal/logger"
	"studio-booking/internal/loyalty"
	"studio-booking/internal/notifier"
	"studio-booking/internal/payment"
	"studio-booking/internal/payment/storage"
	"studio-booking/internal/pricing"
)

// verifyConnections pings the database and Redis with retries so a restart
// during infrastructure startup doesn't crash-loop.
func verifyConnections(ctx context.Context, l *logger.Logger, sqldb *sql.DB, redisClient *goredis.Client) error {
	const attempts = 10
	var err error
	for i := 1; i <= attempts; i++ {
		if err = sqldb.Ping(); err == nil {
			break
		}
		l.Warn("DATABASE", fmt.Sprintf("postgres not ready (attempt %d/%d): %v", i, attempts, err))
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return fmt.Errorf("postgres unreachable: %w", err)
	}
	l.Info("DATABASE", "PostgreSQL connection established")

	for i := 1; i <= attempts; i++ {
		if err = redisClient.Ping(ctx).Err(); err == nil {
			break
		}
		l.Warn("REDIS", fmt.Sprintf("redis not ready (attempt %d/%d): %v", i, attempts, err))
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return fmt.Errorf("redis unreachable: %w", err)
	}
	l.Info("REDIS", "Redis connection established")
	return nil
}

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using environment variables")
	}

	cfg := config.Load()
	l := logger.NewLogger()
	defer l.Close()

	ctx := context.Background()

	// --- PostgreSQL ---
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)
	defer sqldb.Close()

	bunDB := bun.NewDB(sqldb, pgdialect.New())

	// --- Redis ---
	redisClient := goredis.NewClient(&goredis.Options{Addr: cfg.Redis.Addr})
	defer redisClient.Close()

	if err := verifyConnections(ctx, l, sqldb, redisClient); err != nil {
		l.Fatal("STARTUP", err.Error())
	}

	// --- Migrations ---
	runner := migrations.NewRunner(bunDB, migrations.DefaultOptions())
	if err := runner.MigrateUp(); err != nil {
		l.Fatal("STARTUP", "migrations failed: "+err.Error())
	}
	defer runner.Close()

	// --- Kafka ---
	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		topics := []string{
			cfg.Kafka.Topics.BookingConfirmed,
			cfg.Kafka.Topics.BookingRescheduled,
			cfg.Kafka.Topics.BookingCancelled,
		}
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, topics); err != nil {
			l.Warn("KAFKA", "topic bootstrap failed, continuing: "+err.Error())
		}
		producer = kafka.NewProducer(cfg.Kafka.Brokers,
			cfg.Kafka.Topics.BookingConfirmed,
			cfg.Kafka.Topics.BookingRescheduled,
			cfg.Kafka.Topics.BookingCancelled)
		defer producer.Close()
	}

	// --- Core dependencies ---
	cal, err := calendar.New(cfg.Studio.Timezone)
	if err != nil {
		l.Fatal("STARTUP", err.Error())
	}

	processor, err := payment.NewStripeProcessor(cfg.Payment.StripeSecretKey, cfg.Payment.Currency, l)
	if err != nil {
		l.Fatal("STARTUP", "stripe init failed: "+err.Error())
	}

	txnLog, err := storage.NewPostgreSQLStoreWithDB(sqldb, l)
	if err != nil {
		l.Fatal("STARTUP", "payment log init failed: "+err.Error())
	}

	verifier, err := auth.NewVerifier(ctx, cfg.Auth.OIDCIssuer)
	if err != nil {
		l.Fatal("STARTUP", "OIDC init failed: "+err.Error())
	}

	tokens := auth.NewGuestTokens(cfg.Auth.GuestTokenSecret)
	guard := auth.NewGuard(tokens, &auth.DBAdminDirectory{DB: bunDB})

	var publisher notifier.EventPublisher
	if producer != nil {
		publisher = producer
	}
	notify := notifier.New(publisher, cfg.Studio.ManageBaseURL, l)

	service := &booking.Service{
		Store:     bookingdb.NewDBLayer(bunDB),
		Slots:     bookingredis.NewSlotLock(redisClient, cfg.Studio.SlotLockTTL, l),
		Payments:  processor,
		TxnLog:    txnLog,
		Points:    loyalty.NewLedger(bunDB, cfg.Studio.LoyaltyExpiryDays, l),
		Discounts: discount.NewStore(bunDB),
		Prices: pricing.NewOracle(cfg.Studio.WeekdayPrice, cfg.Studio.WeekendPrice,
			&pricing.DBOverrideStore{DB: bunDB}),
		Guard:        guard,
		Tokens:       tokens,
		Calendar:     cal,
		Notify:       notify,
		Logger:       l,
		LeadTimeDays: cfg.Studio.LeadTimeDays,
		RefundRate:   cfg.Studio.RefundRate,
	}
	handler := &api.Handler{BookingService: service}

	// --- Router ---
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Booking and reservation management are open to guests; a session
	// token, when present, identifies the owner.
	r.Group(func(r chi.Router) {
		r.Use(verifier.OptionalSession)
		r.Get("/api/booking/availability", handler.CheckAvailability)
		r.Post("/api/booking", handler.CreateBooking)
		r.Get("/api/booking/{reservationId}", handler.GetReservation)
		r.Delete("/api/booking/{reservationId}", handler.CancelReservation)
		r.Post("/api/booking/{reservationId}/reschedule", handler.RequestReschedule)
		r.Post("/api/booking/{reservationId}/reschedule/complete", handler.CompleteReschedule)
	})

	// Account and admin operations need a session.
	r.Group(func(r chi.Router) {
		r.Use(verifier.RequireSession)
		r.Get("/api/loyalty/balance", handler.LoyaltyBalance)
		r.Post("/api/booking/{reservationId}/points", handler.ConsumePoints)
		r.Post("/api/booking/{reservationId}/refund/settle", handler.SettleRefund)
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		l.Info("STARTUP", "Booking service listening on "+cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal("SERVER", err.Error())
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	l.Info("SHUTDOWN", "Shutdown signal received, cleaning up")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		l.Fatal("SHUTDOWN", "server forced to shutdown: "+err.Error())
	}
	l.Info("SHUTDOWN", "Server exited gracefully")
}
