// Package query is the read collaborator shared by every view: keyed
// results that distinguish not-loaded, loading, loaded and failed, with
// request coalescing, stale-time refresh, invalidation and notify-on-settle
// watchers.
package query

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"nft-market/internal/observability"
)

// Default configuration values.
const (
	DefaultStaleTime    = 15 * time.Second
	DefaultFetchTimeout = 30 * time.Second
)

// State is the lifecycle of a keyed result.
type State int

const (
	NotLoaded State = iota
	Loading
	Loaded
	Failed
)

func (s State) String() string {
	switch s {
	case NotLoaded:
		return "not-loaded"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// FetchFunc loads the value of a key.
type FetchFunc func(ctx context.Context) (any, error)

// Snapshot is the state of a key at one point in time.
type Snapshot struct {
	Key       string
	State     State
	Value     any
	Err       error
	UpdatedAt time.Time
	// Refreshing is set while a re-fetch runs for a key that already settled.
	// Value and Err keep the previous outcome until it completes.
	Refreshing bool
}

type entry struct {
	state     State
	value     any
	err       error
	updatedAt time.Time
	fetch     FetchFunc
	inflight  chan struct{}
	stale     bool
	refetch   bool
	watchers  map[uint64]func(Snapshot)
	after     []func(Snapshot)
}

func (e *entry) snapshot(key string) Snapshot {
	return Snapshot{
		Key:        key,
		State:      e.state,
		Value:      e.value,
		Err:        e.err,
		UpdatedAt:  e.updatedAt,
		Refreshing: e.inflight != nil && (e.state == Loaded || e.state == Failed),
	}
}

// Client caches keyed reads.
type Client struct {
	staleTime    time.Duration
	fetchTimeout time.Duration
	logger       *zap.Logger
	now          func() time.Time

	mu        sync.Mutex
	entries   map[string]*entry
	global    map[uint64]func(Snapshot)
	nextWatch uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures Client.
type Option func(*Client)

// WithStaleTime sets how long a loaded value is served before Get re-fetches it.
func WithStaleTime(d time.Duration) Option {
	return func(c *Client) {
		c.staleTime = d
	}
}

// WithFetchTimeout bounds each fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.fetchTimeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// New creates a Client.
func New(opts ...Option) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		staleTime:    DefaultStaleTime,
		fetchTimeout: DefaultFetchTimeout,
		logger:       zap.NewNop(),
		now:          time.Now,
		entries:      make(map[string]*entry),
		global:       make(map[uint64]func(Snapshot)),
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("query")
	return c
}

// Close cancels in-flight fetches and waits for them to return.
func (c *Client) Close() {
	c.cancel()
	c.wg.Wait()
}

// Get returns the current snapshot of key. A fetch starts when the key has
// never loaded, was invalidated, or is older than the stale time. A failed
// key stays failed until it is invalidated. Concurrent calls share one fetch.
func (c *Client) Get(key string, fetch FetchFunc) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entry(key)
	if fetch != nil {
		e.fetch = fetch
	}

	if e.inflight == nil && e.fetch != nil && c.needsFetch(e) {
		c.start(key, e)
	}
	return e.snapshot(key)
}

// Peek returns the snapshot of key without fetching.
func (c *Client) Peek(key string) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return Snapshot{Key: key, State: NotLoaded}
	}
	return e.snapshot(key)
}

// Await blocks until key has no fetch in flight and returns its snapshot.
func (c *Client) Await(ctx context.Context, key string) (Snapshot, error) {
	for {
		c.mu.Lock()
		e, ok := c.entries[key]
		if !ok {
			c.mu.Unlock()
			return Snapshot{Key: key, State: NotLoaded}, nil
		}
		if e.inflight == nil {
			snap := e.snapshot(key)
			c.mu.Unlock()
			return snap, nil
		}
		done := e.inflight
		c.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return c.Peek(key), ctx.Err()
		}
	}
}

// Invalidate marks keys stale and re-fetches every key that has a fetcher.
// A key invalidated while its fetch is in flight is fetched again once that
// fetch settles, so the settled value never predates the invalidation.
func (c *Client) Invalidate(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range keys {
		e, ok := c.entries[key]
		if !ok {
			continue
		}
		c.invalidate(key, e)
	}
}

// InvalidatePrefix invalidates every key starting with prefix.
func (c *Client) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, e := range c.entries {
		if strings.HasPrefix(key, prefix) {
			c.invalidate(key, e)
		}
	}
}

// Refetch invalidates key and runs fn once with the outcome of the first
// fetch that starts after the call. fn never runs for a key without a
// fetcher or after Close.
func (c *Client) Refetch(key string, fn func(Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.fetch == nil {
		return
	}
	e.after = append(e.after, fn)
	c.invalidate(key, e)
}

func (c *Client) invalidate(key string, e *entry) {
	observability.RecordInvalidation(Namespace(key))
	e.stale = true
	if e.inflight != nil {
		e.refetch = true
		return
	}
	if e.fetch != nil {
		c.start(key, e)
	}
}

// Watch registers fn to run after every fetch of key settles. The returned
// function removes the watcher.
func (c *Client) Watch(key string, fn func(Snapshot)) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextWatch++
	id := c.nextWatch
	e := c.entry(key)
	e.watchers[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if e, ok := c.entries[key]; ok {
			delete(e.watchers, id)
		}
	}
}

// WatchAll registers fn to run after any fetch settles or starts.
func (c *Client) WatchAll(fn func(Snapshot)) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextWatch++
	id := c.nextWatch
	c.global[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.global, id)
	}
}

// Namespace returns the part of key before the first '/'.
func Namespace(key string) string {
	if i := strings.IndexByte(key, '/'); i >= 0 {
		return key[:i]
	}
	return key
}

func (c *Client) entry(key string) *entry {
	e, ok := c.entries[key]
	if !ok {
		e = &entry{watchers: make(map[uint64]func(Snapshot))}
		c.entries[key] = e
	}
	return e
}

func (c *Client) needsFetch(e *entry) bool {
	switch {
	case e.state == NotLoaded:
		return true
	case e.stale:
		return true
	case e.state == Loaded && c.staleTime > 0 && c.now().Sub(e.updatedAt) > c.staleTime:
		return true
	}
	return false
}

// start launches a fetch for e. Caller holds c.mu.
func (c *Client) start(key string, e *entry) {
	if c.ctx.Err() != nil {
		return
	}

	e.inflight = make(chan struct{})
	e.stale = false
	e.refetch = false
	if e.state == NotLoaded {
		e.state = Loading
	}
	fetch := e.fetch

	c.wg.Add(1)
	go c.run(key, fetch)
	c.notifyGlobal(e.snapshot(key))
}

func (c *Client) run(key string, fetch FetchFunc) {
	defer c.wg.Done()

	ctx, cancel := context.WithTimeout(c.ctx, c.fetchTimeout)
	start := time.Now()
	value, err := fetch(ctx)
	cancel()
	observability.RecordQueryFetch(Namespace(key), time.Since(start).Seconds(), err)

	if err != nil {
		c.logger.Debug("fetch failed", zap.String("key", key), zap.Error(err))
	}

	c.mu.Lock()
	e := c.entries[key]
	if err != nil {
		e.state = Failed
		e.err = err
	} else {
		e.state = Loaded
		e.value = value
		e.err = nil
	}
	e.updatedAt = c.now()
	done := e.inflight
	e.inflight = nil

	var after []func(Snapshot)
	if e.refetch && c.ctx.Err() == nil {
		c.start(key, e)
	} else {
		after, e.after = e.after, nil
	}

	snap := e.snapshot(key)
	watchers := make([]func(Snapshot), 0, len(e.watchers)+len(c.global)+len(after))
	for _, fn := range e.watchers {
		watchers = append(watchers, fn)
	}
	for _, fn := range c.global {
		watchers = append(watchers, fn)
	}
	watchers = append(watchers, after...)
	c.mu.Unlock()

	close(done)

	for _, fn := range watchers {
		fn(snap)
	}
}

// notifyGlobal runs global watchers without holding c.mu.
func (c *Client) notifyGlobal(snap Snapshot) {
	if len(c.global) == 0 {
		return
	}
	watchers := make([]func(Snapshot), 0, len(c.global))
	for _, fn := range c.global {
		watchers = append(watchers, fn)
	}
	go func() {
		for _, fn := range watchers {
			fn(snap)
		}
	}()
}
