package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"intelligrade/pkg/grading"
	"intelligrade/pkg/observability"
)

// PersistedStore is the durable cache tier. A (nil, nil) return from Get is a
// miss. Implementations must be safe to fail: the manager demotes every store
// error to a miss.
type PersistedStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

type Config struct {
	// Capacity bounds the in-process map. Past it, the oldest ~20% of
	// entries are dropped. The persisted tier is authoritative, so
	// in-process eviction never loses data.
	Capacity int
	TTL      time.Duration
}

func DefaultConfig() Config {
	return Config{
		Capacity: 1000,
		TTL:      24 * time.Hour,
	}
}

// Stats is a point-in-time snapshot of cache effectiveness.
type Stats struct {
	Queries        uint64  `json:"queries"`
	Hits           uint64  `json:"hits"`
	Misses         uint64  `json:"misses"`
	Size           int     `json:"size"`
	HitRate        float64 `json:"hit_rate"`
	AvgRetrievalMs float64 `json:"avg_retrieval_ms"`
}

type memEntry struct {
	result    grading.Result
	expiresAt time.Time
}

// persistedEntry is the wire format of the durable tier. StoredAt is kept so
// entries are timestamp-validated even if the backing store ignores TTLs.
type persistedEntry struct {
	Result   grading.Result `json:"result"`
	Tier     grading.Tier   `json:"tier"`
	StoredAt time.Time      `json:"stored_at"`
	TTLSec   int64          `json:"ttl_sec"`
}

// Manager is a two-tier result cache: an in-process map checked first, backed
// by an optional persisted store. Lookups never fail: any persisted-tier error
// is logged and reported as a miss.
type Manager struct {
	cfg    Config
	store  PersistedStore
	logger *slog.Logger

	// persist gates the durable tier per request context. Defaults to
	// always-on when a store is configured.
	persist func(grading.Request) bool

	mu      sync.Mutex
	entries map[string]memEntry
	order   []string

	queries   uint64
	hits      uint64
	misses    uint64
	retrieval time.Duration

	now func() time.Time
}

func NewManager(cfg Config, store PersistedStore, logger *slog.Logger) *Manager {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultConfig().Capacity
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:     cfg,
		store:   store,
		logger:  logger,
		persist: func(grading.Request) bool { return store != nil },
		entries: make(map[string]memEntry),
		now:     time.Now,
	}
}

// SetPersistPolicy overrides which requests use the persisted tier.
func (m *Manager) SetPersistPolicy(fn func(grading.Request) bool) {
	if fn != nil {
		m.persist = fn
	}
}

// Get returns the cached result for req, or (nil, false) on a miss. Returned
// results are copies flagged FromCache so consumers can tell replays from
// freshly computed results.
func (m *Manager) Get(ctx context.Context, req grading.Request) (*grading.Result, bool) {
	key := grading.CacheKey(req)
	if key == "" {
		return nil, false
	}

	start := m.now()
	m.mu.Lock()
	m.queries++

	if e, ok := m.entries[key]; ok {
		if m.now().Before(e.expiresAt) {
			m.hits++
			m.retrieval += m.now().Sub(start)
			res := e.result
			m.mu.Unlock()
			res.FromCache = true
			observability.CacheLookups.WithLabelValues("hit_memory").Inc()
			return &res, true
		}
		// stale entry, purge lazily
		delete(m.entries, key)
	}
	m.mu.Unlock()

	if m.store != nil && m.persist(req) {
		if res, ok := m.getPersisted(ctx, key); ok {
			m.mu.Lock()
			m.hits++
			m.retrieval += m.now().Sub(start)
			m.mu.Unlock()
			observability.CacheLookups.WithLabelValues("hit_persisted").Inc()
			return res, true
		}
	}

	m.mu.Lock()
	m.misses++
	m.retrieval += m.now().Sub(start)
	m.mu.Unlock()
	observability.CacheLookups.WithLabelValues("miss").Inc()
	return nil, false
}

func (m *Manager) getPersisted(ctx context.Context, key string) (*grading.Result, bool) {
	val, err := m.store.Get(ctx, key)
	if err != nil {
		m.logger.Warn("persisted cache read failed, treating as miss", "key", key, "error", err)
		return nil, false
	}
	if val == nil {
		return nil, false
	}

	var pe persistedEntry
	if err := json.Unmarshal(val, &pe); err != nil {
		m.logger.Warn("persisted cache entry unreadable, treating as miss", "key", key, "error", err)
		return nil, false
	}

	expiresAt := pe.StoredAt.Add(time.Duration(pe.TTLSec) * time.Second)
	if !m.now().Before(expiresAt) {
		return nil, false
	}

	// back-fill the in-process tier
	m.put(key, pe.Result, expiresAt)

	res := pe.Result
	res.FromCache = true
	return &res, true
}

// Set stores a freshly computed result under the request's key. Writes to the
// in-process map unconditionally and to the persisted tier when enabled for
// the request. Store errors are logged and swallowed.
func (m *Manager) Set(ctx context.Context, req grading.Request, res grading.Result) {
	key := grading.CacheKey(req)
	if key == "" {
		return
	}

	// stored entries are replay sources, never replays themselves
	res.FromCache = false

	now := m.now()
	m.put(key, res, now.Add(m.cfg.TTL))

	if m.store == nil || !m.persist(req) {
		return
	}
	val, err := json.Marshal(persistedEntry{
		Result:   res,
		Tier:     res.Tier,
		StoredAt: now,
		TTLSec:   int64(m.cfg.TTL / time.Second),
	})
	if err != nil {
		m.logger.Warn("failed to encode cache entry", "key", key, "error", err)
		return
	}
	if err := m.store.Set(ctx, key, val, m.cfg.TTL); err != nil {
		m.logger.Warn("persisted cache write failed", "key", key, "error", err)
	}
}

func (m *Manager) put(key string, res grading.Result, expiresAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[key]; !exists {
		m.order = append(m.order, key)
	}
	m.entries[key] = memEntry{result: res, expiresAt: expiresAt}

	if len(m.entries) <= m.cfg.Capacity {
		return
	}
	// drop the oldest ~20% by insertion order
	drop := m.cfg.Capacity / 5
	if drop < 1 {
		drop = 1
	}
	removed := 0
	i := 0
	for ; i < len(m.order) && removed < drop; i++ {
		if _, ok := m.entries[m.order[i]]; ok {
			delete(m.entries, m.order[i])
			removed++
		}
	}
	m.order = m.order[i:]
}

// Stats returns a snapshot of the counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		Queries: m.queries,
		Hits:    m.hits,
		Misses:  m.misses,
		Size:    len(m.entries),
	}
	if m.queries > 0 {
		s.HitRate = float64(m.hits) / float64(m.queries)
		s.AvgRetrievalMs = float64(m.retrieval.Milliseconds()) / float64(m.queries)
	}
	return s
}
