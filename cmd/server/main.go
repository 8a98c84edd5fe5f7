package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/predyx/market-engine/internal/engine"
	"github.com/predyx/market-engine/internal/ledger"
	"github.com/predyx/market-engine/internal/market"
	"github.com/predyx/market-engine/internal/notify"
	"github.com/predyx/market-engine/internal/pricing"
	"github.com/predyx/market-engine/internal/store"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	var cleanup []func()

	// One Redis client serves both the event cache and pub/sub fanout.
	var rdb *redis.Client
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
	}

	// --- Initialize store ---
	var st store.Store

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if rdb != nil {
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Pricing model ---
	model := buildPricingModel()

	// --- Notifiers ---
	hub := notify.NewHub()
	go hub.Run()

	notifiers := notify.Fanout{hub}

	if rdb != nil {
		notifiers = append(notifiers, notify.NewRedisNotifier(rdb))
		slog.Info("Redis pub/sub notifications enabled")
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		topic := os.Getenv("KAFKA_TOPIC")
		if topic == "" {
			topic = "market-events"
		}
		w := notify.NewKafkaWriter(brokers, topic)
		cleanup = append(cleanup, func() { w.Close() })
		notifiers = append(notifiers, notify.NewKafkaNotifier(w))
		slog.Info("Kafka notifications enabled", "topic", topic)
	}

	// --- Engine ---
	svc := engine.NewService(st, ledger.New(st), market.New(st, model), notifiers)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      engine.NewRouter(svc, hub),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("market-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down market-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	slog.Info("market-engine stopped")
}

// buildPricingModel reads PRICING_MODEL ("volume-weighted" or "fixed",
// default volume-weighted) and, for the volume-weighted model,
// PRICING_SMOOTHING (virtual base liquidity, default 100).
func buildPricingModel() pricing.Model {
	switch os.Getenv("PRICING_MODEL") {
	case "fixed":
		slog.Info("using fixed pricing model")
		return pricing.Fixed{}
	case "", "volume-weighted":
	default:
		slog.Warn("unknown PRICING_MODEL, falling back to volume-weighted",
			"value", os.Getenv("PRICING_MODEL"))
	}

	smoothing := decimal.NewFromInt(100)
	if raw := os.Getenv("PRICING_SMOOTHING"); raw != "" {
		s, err := decimal.NewFromString(raw)
		if err != nil {
			slog.Error("invalid PRICING_SMOOTHING", "value", raw, "err", err)
			os.Exit(1)
		}
		smoothing = s
	}
	vw, err := pricing.NewVolumeWeighted(smoothing)
	if err != nil {
		slog.Error("invalid pricing configuration", "err", err)
		os.Exit(1)
	}
	slog.Info("using volume-weighted pricing model", "smoothing", smoothing.String())
	return vw
}
