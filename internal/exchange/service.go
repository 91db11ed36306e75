package exchange

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"

	"savings/internal/cache"
	"savings/internal/core"
	"savings/internal/log"
	"savings/internal/storage"
)

const (
	// DefaultStorageKey is the slot key of the last good pair.
	DefaultStorageKey = "savings-planner-exchange-rate"
	DefaultCacheTTL   = 6 * time.Hour

	// StaleMessage is reported when a refresh failed and stored rates are served.
	StaleMessage = "Using cached exchange rate data"
)

// Source tells where a snapshot's rates came from.
type Source string

const (
	SourceLive    Source = "live"
	SourceCache   Source = "cache"
	SourceStored  Source = "stored"
	SourceDefault Source = "default"
)

var (
	fetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "savings_exchange_fetch_total",
		Help: "Exchange rate fetches by outcome",
	}, []string{"result"})

	fetchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "savings_exchange_fetch_duration_seconds",
		Help:    "Exchange rate fetch latency",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})
)

// Fetcher retrieves live rates.
type Fetcher interface {
	FetchLatest(ctx context.Context, base core.Currency) (core.Rates, error)
}

// Snapshot is the rate pair served to callers together with its provenance.
type Snapshot struct {
	Rates       core.Rates `json:"rates"`
	Source      Source     `json:"source"`
	Stale       bool       `json:"stale"`
	Error       string     `json:"error,omitempty"`
	LastUpdated time.Time  `json:"lastUpdated,omitzero"`
}

type Service struct {
	fetcher Fetcher
	base    core.Currency
	cache   *cache.LRUCache[core.Rates]
	slot    storage.Slot
	key     string
	logger  *log.Logger

	group      singleflight.Group
	generation atomic.Uint64

	mu        sync.Mutex
	applied   uint64
	lastError string
}

type Option func(*Service)

func WithBase(base core.Currency) Option {
	return func(s *Service) {
		if base.IsValid() {
			s.base = base
		}
	}
}

func WithStorageKey(key string) Option {
	return func(s *Service) {
		if key != "" {
			s.key = key
		}
	}
}

// WithCache replaces the fresh-rates cache, e.g. to change its TTL or clock.
func WithCache(c *cache.LRUCache[core.Rates]) Option {
	return func(s *Service) { s.cache = c }
}

func WithLogger(l *log.Logger) Option {
	return func(s *Service) { s.logger = l.WithComponent(log.ComponentExchange) }
}

// NewService wires a fetcher to a cache and a slot holding the last good
// pair. slot may be nil, in which case nothing survives a restart.
func NewService(fetcher Fetcher, slot storage.Slot, opts ...Option) *Service {
	s := &Service{
		fetcher: fetcher,
		base:    core.USD,
		cache:   cache.NewLRUCache[core.Rates](4, DefaultCacheTTL),
		slot:    slot,
		key:     DefaultStorageKey,
		logger:  log.Default(log.ComponentExchange),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Cache exposes the fresh-rates cache so it can join a cleanup manager.
func (s *Service) Cache() *cache.LRUCache[core.Rates] { return s.cache }

func (s *Service) cacheKey() string { return string(s.base) }

// Current returns the best rates known without touching the network:
// fresh cached rates, then the stored last good pair, then the defaults.
func (s *Service) Current(ctx context.Context) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked(ctx)
}

func (s *Service) currentLocked(ctx context.Context) Snapshot {
	if r, ok := s.cache.Get(s.cacheKey()); ok {
		return Snapshot{Rates: r, Source: SourceCache, LastUpdated: r.LastUpdated}
	}
	if r, ok := s.loadStored(ctx); ok {
		snap := Snapshot{Rates: r, Source: SourceStored, Stale: true, LastUpdated: r.LastUpdated}
		if s.lastError != "" {
			snap.Error = StaleMessage
		}
		return snap
	}
	return Snapshot{Rates: core.DefaultRates(), Source: SourceDefault, Stale: true, Error: s.lastError}
}

// Refresh fetches live rates. Concurrent calls share one fetch. On failure
// the stored last good pair is served once, marked stale; there is no retry.
func (s *Service) Refresh(ctx context.Context) Snapshot {
	return s.refresh(ctx)
}

// ForceRefresh starts a new fetch even if one is already in flight. The
// older fetch's result is discarded if it completes later.
func (s *Service) ForceRefresh(ctx context.Context) Snapshot {
	s.group.Forget(s.cacheKey())
	return s.refresh(ctx)
}

func (s *Service) refresh(ctx context.Context) Snapshot {
	// The shared fetch outlives any single caller; the client's own timeout bounds it.
	fetchCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(s.cacheKey(), func() (any, error) {
		gen := s.generation.Add(1)
		return s.fetchAndApply(fetchCtx, gen), nil
	})

	select {
	case res := <-ch:
		return res.Val.(Snapshot)
	case <-ctx.Done():
		return s.Current(ctx)
	}
}

func (s *Service) fetchAndApply(ctx context.Context, gen uint64) Snapshot {
	timer := prometheus.NewTimer(fetchLatency)
	rates, err := s.fetcher.FetchLatest(ctx, s.base)
	timer.ObserveDuration()

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen < s.applied {
		fetchTotal.WithLabelValues("superseded").Inc()
		s.logger.DebugContext(ctx, "Discarding superseded rate response",
			"generation", gen, "applied_generation", s.applied)
		return s.currentLocked(ctx)
	}
	s.applied = gen

	if err != nil {
		fetchTotal.WithLabelValues("error").Inc()
		s.lastError = err.Error()
		s.logger.WarnContext(ctx, "Exchange rate fetch failed",
			log.FieldOperation, log.OpRefresh, log.FieldError, err)

		if stored, ok := s.loadStored(ctx); ok {
			return Snapshot{
				Rates:       stored,
				Source:      SourceStored,
				Stale:       true,
				Error:       StaleMessage,
				LastUpdated: stored.LastUpdated,
			}
		}
		return Snapshot{Rates: core.DefaultRates(), Source: SourceDefault, Stale: true, Error: s.lastError}
	}

	fetchTotal.WithLabelValues("success").Inc()
	s.lastError = ""
	s.cache.Set(s.cacheKey(), rates)
	s.saveStored(ctx, rates)

	s.logger.InfoContext(ctx, "Exchange rates refreshed",
		log.FieldRateSource, SourceLive,
		"inr", rates.INR.String(),
		"usd", rates.USD.String())

	return Snapshot{Rates: rates, Source: SourceLive, LastUpdated: rates.LastUpdated}
}

func (s *Service) loadStored(ctx context.Context) (core.Rates, bool) {
	if s.slot == nil {
		return core.Rates{}, false
	}
	data, ok, err := s.slot.Get(ctx, s.key)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to read stored exchange rates",
			log.FieldStorageKey, s.key, log.FieldError, err)
		return core.Rates{}, false
	}
	if !ok {
		return core.Rates{}, false
	}
	r, err := decodeRates(data)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to parse stored exchange rates",
			log.FieldStorageKey, s.key, log.FieldError, err)
		return core.Rates{}, false
	}
	return r, true
}

func (s *Service) saveStored(ctx context.Context, r core.Rates) {
	if s.slot == nil {
		return
	}
	data, err := encodeRates(r)
	if err == nil {
		err = s.slot.Set(ctx, s.key, data)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to store exchange rates",
			log.FieldStorageKey, s.key, log.FieldOperation, log.OpPersist, log.FieldError, err)
	}
}

// Run refreshes immediately and then every interval until ctx is done.
func (s *Service) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultCacheTTL
	}
	s.Refresh(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Rate refresher stopped")
			return nil
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}
