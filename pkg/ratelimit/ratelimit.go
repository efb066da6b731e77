// Package ratelimit bounds the burst rate of model endpoint calls with a
// process-local fixed window per tier. The limit is soft: a saturated window
// delays admission with bounded backoff and then lets the call through, so
// correctness never depends on the counter. State is never persisted; running
// several workers multiplies the effective budget.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"intelligrade/pkg/grading"
	"intelligrade/pkg/observability"
)

type Config struct {
	// Budgets is the number of admitted calls per tier per window.
	Budgets map[grading.Tier]int
	// Window is the fixed bucket length.
	Window time.Duration
	// Backoff is slept between admission checks on a saturated window.
	Backoff time.Duration
	// MaxAttempts bounds the admission checks before proceeding anyway.
	MaxAttempts int
}

func DefaultConfig() Config {
	return Config{
		Budgets: map[grading.Tier]int{
			grading.TierFast:     30,
			grading.TierAccurate: 10,
		},
		Window:      time.Minute,
		Backoff:     2 * time.Second,
		MaxAttempts: 5,
	}
}

type window struct {
	bucket int64
	count  int
}

type Limiter struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	windows map[grading.Tier]*window

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

func New(cfg Config, logger *slog.Logger) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultConfig().Backoff
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		cfg:     cfg,
		logger:  logger,
		windows: make(map[grading.Tier]*window),
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Admit blocks until the tier's window has room, backing off up to
// MaxAttempts times. A still-saturated window after the last attempt admits
// the call anyway. The only error returned is a cancelled context.
func (l *Limiter) Admit(ctx context.Context, tier grading.Tier) error {
	budget, limited := l.cfg.Budgets[tier]
	if !limited || budget <= 0 {
		return nil
	}

	for attempt := 1; ; attempt++ {
		if l.tryAdmit(tier, budget) {
			return nil
		}
		if attempt >= l.cfg.MaxAttempts {
			l.logger.Warn("rate window still saturated, proceeding anyway",
				"tier", tier, "attempts", attempt)
			l.recordOverflow(tier)
			return nil
		}
		observability.RateLimitWaits.Inc()
		if err := l.sleep(ctx, l.cfg.Backoff); err != nil {
			return err
		}
	}
}

func (l *Limiter) tryAdmit(tier grading.Tier, budget int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	bucket := l.now().UnixNano() / int64(l.cfg.Window)
	w := l.windows[tier]
	if w == nil || w.bucket != bucket {
		w = &window{bucket: bucket}
		l.windows[tier] = w
	}
	if w.count >= budget {
		return false
	}
	w.count++
	return true
}

// recordOverflow counts a forced admission so the window reflects actual
// provider load, not just admitted load.
func (l *Limiter) recordOverflow(tier grading.Tier) {
	l.mu.Lock()
	defer l.mu.Unlock()

	bucket := l.now().UnixNano() / int64(l.cfg.Window)
	w := l.windows[tier]
	if w == nil || w.bucket != bucket {
		w = &window{bucket: bucket}
		l.windows[tier] = w
	}
	w.count++
}
