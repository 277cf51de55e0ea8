// Package chain guards the shared settlement RPC endpoint. Every read or
// write from the engine goes through one Accessor, which bounds concurrency,
// caches recent reads, and retries transient failures with backoff.
package chain

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"hedgeguard/internal/config"
)

// Fn is a single call against the endpoint.
type Fn func(ctx context.Context) (any, error)

type cacheEntry struct {
	value     any
	fetchedAt time.Time
}

type Accessor struct {
	cfg    config.ChainConfig
	logger *zap.Logger

	sem *semaphore.Weighted

	mu    sync.Mutex
	cache map[string]cacheEntry

	statsMu   sync.Mutex
	hits      int64
	misses    int64
	retries   int64
	exhausted int64
}

func NewAccessor(cfg config.ChainConfig, logger *zap.Logger) *Accessor {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 3
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryJitter <= 0 {
		cfg.RetryJitter = 200 * time.Millisecond
	}
	return &Accessor{
		cfg:    cfg,
		logger: logger,
		sem:    semaphore.NewWeighted(cfg.MaxConcurrency),
		cache:  map[string]cacheEntry{},
	}
}

// Call runs fn behind the concurrency limit. A non-empty cacheKey consults
// the cache first and stores a successful result; ttl <= 0 uses the
// configured default. Transient failures are retried with exponential backoff
// plus jitter; after the retry budget the last error is returned as-is. No
// fallback value is ever fabricated here.
func (a *Accessor) Call(ctx context.Context, cacheKey string, ttl time.Duration, fn Fn) (any, error) {
	if ttl <= 0 {
		ttl = a.cfg.CacheTTL
	}
	if cacheKey != "" {
		if v, ok := a.cached(cacheKey, ttl); ok {
			a.statsMu.Lock()
			a.hits++
			a.statsMu.Unlock()
			return v, nil
		}
		a.statsMu.Lock()
		a.misses++
		a.statsMu.Unlock()
	}

	if err := a.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer a.sem.Release(1)

	value, err := a.withRetry(ctx, fn)
	if err != nil {
		return nil, err
	}
	if cacheKey != "" {
		a.mu.Lock()
		a.cache[cacheKey] = cacheEntry{value: value, fetchedAt: time.Now()}
		a.mu.Unlock()
	}
	return value, nil
}

func (a *Accessor) withRetry(ctx context.Context, fn Fn) (any, error) {
	var lastErr error
	for attempt := 0; attempt <= a.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			a.statsMu.Lock()
			a.retries++
			a.statsMu.Unlock()
			delay := a.backoff(attempt - 1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		callCtx := ctx
		var cancel context.CancelFunc
		if a.cfg.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, a.cfg.CallTimeout)
		}
		value, err := fn(callCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return value, nil
		}
		lastErr = err
		if !IsTransient(err) {
			return nil, err
		}
		if a.logger != nil {
			a.logger.Debug("chain call transient failure",
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
		}
	}
	a.statsMu.Lock()
	a.exhausted++
	a.statsMu.Unlock()
	return nil, lastErr
}

// backoff = base * 2^attempt + jitter(0, retryJitter).
func (a *Accessor) backoff(attempt int) time.Duration {
	d := a.cfg.RetryBase << uint(attempt)
	jitter := time.Duration(rand.Int63n(int64(a.cfg.RetryJitter)))
	return d + jitter
}

func (a *Accessor) cached(key string, ttl time.Duration) (any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	entry, ok := a.cache[key]
	if !ok {
		return nil, false
	}
	if time.Since(entry.fetchedAt) >= ttl {
		delete(a.cache, key)
		return nil, false
	}
	return entry.value, true
}

// Invalidate drops a cached entry, forcing the next Call to hit the endpoint.
func (a *Accessor) Invalidate(key string) {
	a.mu.Lock()
	delete(a.cache, key)
	a.mu.Unlock()
}

// Task is one unit of a throttled batch.
type Task struct {
	Key string
	TTL time.Duration
	Fn  Fn
}

// Result pairs a batch slot with its outcome.
type Result struct {
	Value any
	Err   error
}

// ThrottledAll fans a batch through Call concurrently, preserving input order
// in the output. Each slot succeeds or fails independently.
func (a *Accessor) ThrottledAll(ctx context.Context, tasks []Task) []Result {
	results := make([]Result, len(tasks))
	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(i int, task Task) {
			defer wg.Done()
			v, err := a.Call(ctx, task.Key, task.TTL, task.Fn)
			results[i] = Result{Value: v, Err: err}
		}(i, task)
	}
	wg.Wait()
	return results
}

// Stats is a point-in-time snapshot of accessor counters.
type Stats struct {
	CacheHits        int64
	CacheMisses      int64
	Retries          int64
	RetriesExhausted int64
}

func (a *Accessor) Stats() Stats {
	a.statsMu.Lock()
	defer a.statsMu.Unlock()
	return Stats{
		CacheHits:        a.hits,
		CacheMisses:      a.misses,
		Retries:          a.retries,
		RetriesExhausted: a.exhausted,
	}
}
