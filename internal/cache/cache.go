// Package cache memoizes remote lookups by key with single-flight semantics:
// the first Get for a key starts exactly one fetch, and every caller for that
// key shares its outcome, success or failure.
//
// With zero Options entries live until Reset and failures are memoized like
// successes. TTL, FailureTTL and Retry relax that per deployment.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/semaphore"

	"badgeup.io/relay/internal/protocol"
)

var ErrClosed = errors.New("cache closed")

// FetchFunc loads the value for key from the remote.
type FetchFunc[V any] func(ctx context.Context, key string) (V, error)

type RetryPolicy struct {
	// MaxAttempts <= 1 disables retries.
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

type Options struct {
	FetchTimeout         time.Duration
	MaxConcurrentFetches int64

	// TTL expires resolved values; FailureTTL expires memoized errors.
	// Zero means never.
	TTL        time.Duration
	FailureTTL time.Duration

	// Retry applies to E_REMOTE_FAILURE and E_TIMEOUT inside the single
	// fetch of a key; other failures are final.
	Retry RetryPolicy

	Logger *log.Logger
	Now    func() time.Time
}

type Stats struct {
	Entries uint64 `json:"entries"`
	Pending uint64 `json:"pending"`
	Failed  uint64 `json:"failed"`
	Fetches uint64 `json:"fetches"`
	Hits    uint64 `json:"hits"`
}

type entry[V any] struct {
	done       chan struct{}
	val        V
	err        error
	resolvedAt time.Time
}

func (e *entry[V]) resolved() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// Future is a handle on one key's shared fetch.
type Future[V any] struct {
	e *entry[V]
}

// Wait blocks until the fetch resolves or ctx ends. ctx only bounds this
// caller's wait; the fetch itself keeps going for the other waiters.
func (f *Future[V]) Wait(ctx context.Context) (V, error) {
	select {
	case <-f.e.done:
		return f.e.val, f.e.err
	case <-ctx.Done():
		var zero V
		return zero, protocol.Wrap(protocol.ErrTimeout, "", ctx.Err())
	}
}

func (f *Future[V]) Done() <-chan struct{} { return f.e.done }

type Cache[V any] struct {
	fetch FetchFunc[V]
	opts  Options
	sem   *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	entries map[string]*entry[V]
	closed  bool

	fetches atomic.Uint64
	hits    atomic.Uint64
}

func New[V any](fetch FetchFunc[V], opts Options) *Cache[V] {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 10 * time.Second
	}
	if opts.MaxConcurrentFetches <= 0 {
		opts.MaxConcurrentFetches = 8
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Cache[V]{
		fetch:   fetch,
		opts:    opts,
		sem:     semaphore.NewWeighted(opts.MaxConcurrentFetches),
		ctx:     ctx,
		cancel:  cancel,
		entries: map[string]*entry[V]{},
	}
}

// Get returns the future for key, starting the fetch if no live entry exists.
// Lookup and registration happen under one lock, so concurrent callers for
// the same key always share a single fetch.
func (c *Cache[V]) Get(key string) *Future[V] {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		e := &entry[V]{done: make(chan struct{}), err: ErrClosed}
		close(e.done)
		return &Future[V]{e: e}
	}
	if e, ok := c.entries[key]; ok && !c.expired(e) {
		c.mu.Unlock()
		c.hits.Add(1)
		return &Future[V]{e: e}
	}
	e := &entry[V]{done: make(chan struct{})}
	c.entries[key] = e
	c.wg.Add(1)
	c.mu.Unlock()

	c.fetches.Add(1)
	go c.populate(key, e)
	return &Future[V]{e: e}
}

// Lookup is Get followed by Wait.
func (c *Cache[V]) Lookup(ctx context.Context, key string) (V, error) {
	return c.Get(key).Wait(ctx)
}

// Reset forgets every entry. Fetches already running still resolve the
// futures handed out before the reset.
func (c *Cache[V]) Reset() {
	c.mu.Lock()
	c.entries = map[string]*entry[V]{}
	c.mu.Unlock()
}

func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Stats{Entries: uint64(len(c.entries)), Fetches: c.fetches.Load(), Hits: c.hits.Load()}
	for _, e := range c.entries {
		switch {
		case !e.resolved():
			st.Pending++
		case e.err != nil:
			st.Failed++
		}
	}
	return st
}

// Close cancels running fetches and waits for them to resolve.
func (c *Cache[V]) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()
	return nil
}

func (c *Cache[V]) expired(e *entry[V]) bool {
	if !e.resolved() {
		return false
	}
	ttl := c.opts.TTL
	if e.err != nil {
		ttl = c.opts.FailureTTL
	}
	return ttl > 0 && c.opts.Now().Sub(e.resolvedAt) >= ttl
}

func (c *Cache[V]) populate(key string, e *entry[V]) {
	defer c.wg.Done()
	defer close(e.done)
	defer func() {
		if r := recover(); r != nil {
			var zero V
			e.val, e.err = zero, protocol.Errorf(protocol.ErrInternal, key, "fetch panic: %v", r)
			e.resolvedAt = c.opts.Now()
			c.printf("cache fetch panic key=%s: %v", key, r)
		}
	}()

	if err := c.sem.Acquire(c.ctx, 1); err != nil {
		e.err = fmt.Errorf("cache fetch %s: %w", key, ErrClosed)
		e.resolvedAt = c.opts.Now()
		return
	}
	defer c.sem.Release(1)

	v, err := c.fetchWithPolicy(key)
	e.val, e.err = v, err
	e.resolvedAt = c.opts.Now()
	if err != nil {
		c.printf("cache fetch failed key=%s err=%v", key, err)
	}
}

func (c *Cache[V]) fetchOnce(key string) (V, error) {
	ctx, cancel := context.WithTimeout(c.ctx, c.opts.FetchTimeout)
	defer cancel()
	v, err := c.fetch(ctx, key)
	if err != nil && protocol.CodeOf(err) == "" && errors.Is(err, context.DeadlineExceeded) {
		err = protocol.Wrap(protocol.ErrTimeout, "", err)
	}
	return v, err
}

func (c *Cache[V]) fetchWithPolicy(key string) (V, error) {
	rp := c.opts.Retry
	if rp.MaxAttempts <= 1 {
		return c.fetchOnce(key)
	}

	b := backoff.NewExponentialBackOff()
	if rp.InitialInterval > 0 {
		b.InitialInterval = rp.InitialInterval
	}
	if rp.MaxInterval > 0 {
		b.MaxInterval = rp.MaxInterval
	}
	op := func() (V, error) {
		v, err := c.fetchOnce(key)
		if err != nil && !retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}
	return backoff.Retry(c.ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(rp.MaxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.printf("cache fetch retry key=%s in=%s err=%v", key, next, err)
		}),
	)
}

func retryable(err error) bool {
	switch protocol.CodeOf(err) {
	case protocol.ErrRemoteFailure, protocol.ErrTimeout:
		return true
	}
	return false
}

func (c *Cache[V]) printf(format string, args ...any) {
	if c != nil && c.opts.Logger != nil {
		c.opts.Logger.Printf(format, args...)
	}
}
