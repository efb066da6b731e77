package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"intelligrade/pkg/analyzer"
	"intelligrade/pkg/cache"
	"intelligrade/pkg/grading"
	"intelligrade/pkg/mq"
	"intelligrade/pkg/observability"
	"intelligrade/pkg/provider"
	"intelligrade/pkg/queue"
	"intelligrade/pkg/ratelimit"
	"intelligrade/pkg/routing"
)

func main() {
	_ = godotenv.Load()

	logger := observability.NewLogger()
	slog.SetDefault(logger)

	store, err := queue.NewStore(context.Background())
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		return
	}
	defer store.Close()

	observability.StartMetricsServer(":9091")

	engine := buildEngine(logger)
	worker := queue.NewWorker(store, engine, queue.WorkerConfig{
		BatchSize: getenvInt("BATCH_SIZE", 5),
		JobDelay:  time.Duration(getenvInt("JOB_DELAY_MS", 500)) * time.Millisecond,
	}, logger)

	// The broker is a best-effort wakeup channel; polling alone is correct.
	var wakeups <-chan struct{}
	notifier, err := mq.New()
	if err != nil {
		slog.Warn("rabbitmq unavailable, polling only", "error", err)
	} else {
		defer notifier.Close()
		if err := notifier.SetupTopology(); err != nil {
			slog.Warn("failed to setup rabbitmq topology, polling only", "error", err)
		} else {
			worker.SetNotifier(notifier)
			wakeups = consumeWakeups(notifier, logger)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("shutdown signal received, finishing current cycle")
		cancel()
	}()

	pollInterval := time.Duration(getenvInt("POLL_INTERVAL_SEC", 5)) * time.Second
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	slog.Info("worker started", "poll_interval", pollInterval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped")
			return
		case <-ticker.C:
		case <-wakeups:
		}

		n, err := worker.RunCycle(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("worker stopped mid-cycle")
				return
			}
			slog.Error("cycle failed", "error", err)
			continue
		}
		if n > 0 {
			slog.Info("cycle finished", "processed", n)
		}
	}
}

func buildEngine(logger *slog.Logger) *routing.Engine {
	models := map[grading.Tier]string{
		grading.TierFast:     getenv("MODEL_FAST", "gpt-4o-mini"),
		grading.TierAccurate: getenv("MODEL_ACCURATE", "gpt-4.1"),
	}
	client := provider.NewHTTPClient(
		getenv("PROVIDER_URL", "https://api.openai.com"),
		os.Getenv("PROVIDER_API_KEY"),
		models,
	)

	scorer := analyzer.New(analyzer.Config{
		Threshold:     getenvFloat("COMPLEXITY_THRESHOLD", 55),
		AmbiguousBand: getenvFloat("AMBIGUOUS_BAND", 10),
	})

	var persisted cache.PersistedStore
	if url := os.Getenv("REDIS_URL"); url != "" {
		opts, err := redis.ParseURL(url)
		if err != nil {
			logger.Warn("invalid REDIS_URL, persisted cache disabled", "error", err)
		} else {
			persisted = cache.NewRedisStore(redis.NewClient(opts))
		}
	}
	results := cache.NewManager(cache.Config{
		Capacity: getenvInt("CACHE_CAPACITY", 1000),
		TTL:      time.Duration(getenvInt("CACHE_TTL_HOURS", 24)) * time.Hour,
	}, persisted, logger)

	limiter := ratelimit.New(ratelimit.Config{
		Budgets: map[grading.Tier]int{
			grading.TierFast:     getenvInt("RATE_LIMIT_FAST", 30),
			grading.TierAccurate: getenvInt("RATE_LIMIT_ACCURATE", 10),
		},
		Window:      time.Minute,
		Backoff:     2 * time.Second,
		MaxAttempts: 5,
	}, logger)

	return routing.NewEngine(scorer, results, client, limiter, routing.Config{
		MinFeedbackWords:    getenvInt("MIN_FEEDBACK_WORDS", 10),
		EngagementScore:     getenvFloat("ENGAGEMENT_SCORE", 40),
		MaxTechnicalDensity: getenvFloat("MAX_TECHNICAL_DENSITY", 0.25),
	}, logger)
}

func consumeWakeups(notifier *mq.Notifier, logger *slog.Logger) <-chan struct{} {
	deliveries, err := notifier.Wakeups()
	if err != nil {
		logger.Warn("failed to consume wakeup queue, polling only", "error", err)
		return nil
	}
	out := make(chan struct{}, 1)
	go func() {
		for range deliveries {
			select {
			case out <- struct{}{}:
			default: // a cycle is already pending
			}
		}
	}()
	return out
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func getenvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			return f
		}
	}
	return fallback
}
