package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Generation identifies one logical scan run. Every work item and result
// carries the generation active when it was issued; the result store
// rejects writes from superseded generations, which is the entire
// cancellation mechanism.
type Generation uint64

// Sweep lifecycle states.
const (
	StateIdle       = "idle"
	StateRunning    = "running"
	StateCompleting = "completing"
)

var (
	// ErrNoTargets indicates StartSweep was called with an empty target list.
	ErrNoTargets = errors.New("no targets to sweep")
	// ErrInvalidPortRange indicates an out-of-bounds or reversed port range.
	ErrInvalidPortRange = errors.New("invalid port range")
)

// HostResult is one row of the live result table. Latency is only
// meaningful when HasLatency is set. Hostname, MAC and Vendor are
// best-effort enrichment merged in after the probe; their absence is
// never an error.
type HostResult struct {
	IP         string        `json:"ip"`
	Reachable  bool          `json:"reachable"`
	Latency    time.Duration `json:"latency,omitempty"`
	HasLatency bool          `json:"has_latency"`
	ObservedAt time.Time     `json:"observed_at"`
	Generation Generation    `json:"generation"`

	Hostname string `json:"hostname,omitempty"`
	MAC      string `json:"mac,omitempty"`
	Vendor   string `json:"vendor,omitempty"`
}

// PortResult is the outcome of one full port sweep of a host. It is
// immutable once written; a re-scan replaces it wholesale.
type PortResult struct {
	Host         string         `json:"host"`
	OpenPorts    []int          `json:"open_ports"`
	ServiceNames map[int]string `json:"service_names"`
	ScannedAt    time.Time      `json:"scanned_at"`
}

// Enrichment carries resolution data keyed by host address, produced by
// an external collaborator and merged into display rows.
type Enrichment struct {
	Hostname string
	MAC      string
	Vendor   string
}

// Stats is a snapshot of orchestrator progress for dashboards.
type Stats struct {
	Generation   Generation `json:"generation"`
	State        string     `json:"state"`
	HostsTotal   int        `json:"hosts_total"`
	HostsDone    int        `json:"hosts_done"`
	HostsUp      int        `json:"hosts_up"`
	StaleDropped uint64     `json:"stale_dropped"`
}

// Config holds orchestrator tuning. Zero values fall back to the
// defaults below.
type Config struct {
	HostConcurrency int           // ping pool size, default 128
	PortConcurrency int           // port pool size, default 256
	PingTimeout     time.Duration // per host probe, default 1s
	ConnectTimeout  time.Duration // per port probe, default 500ms
	PortRangeStart  int           // default 1
	PortRangeEnd    int           // default 10000
	CacheTTL        time.Duration // default 1h

	Ping   PingFunc      // default SystemPing
	Probe  PortProbeFunc // default ConnectProbe
	Store  Store         // optional persisted cache adapter
	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.HostConcurrency <= 0 {
		c.HostConcurrency = 128
	}
	if c.PortConcurrency <= 0 {
		c.PortConcurrency = 256
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 500 * time.Millisecond
	}
	if c.PortRangeStart <= 0 {
		c.PortRangeStart = 1
	}
	if c.PortRangeEnd <= 0 {
		c.PortRangeEnd = 10000
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Hour
	}
	if c.Ping == nil {
		c.Ping = SystemPing
	}
	if c.Probe == nil {
		c.Probe = ConnectProbe
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Orchestrator owns the generation counter, both worker pools, the
// result store and the port cache. It is the only writer of the result
// store; UIs read snapshots and issue requests.
type Orchestrator struct {
	cfg     Config
	limiter *RateLimiter
	cache   *PortCache
	logger  *slog.Logger

	generation atomic.Uint64

	mu           sync.Mutex
	state        string
	order        []string
	results      map[string]HostResult
	done         int
	staleDropped uint64
	onResult     func(HostResult)
}

// New constructs an orchestrator. limiter may be nil, in which case an
// unlimited limiter is created.
func New(cfg Config, limiter *RateLimiter) *Orchestrator {
	cfg.applyDefaults()
	if limiter == nil {
		limiter = NewRateLimiter(0, 0)
	}
	return &Orchestrator{
		cfg:     cfg,
		limiter: limiter,
		cache:   NewPortCache(cfg.Store, cfg.Logger),
		logger:  cfg.Logger,
		state:   StateIdle,
		results: make(map[string]HostResult),
	}
}

// OnResult registers a callback invoked after every accepted host-result
// write. Discarded stale results never trigger it. The callback runs on
// worker goroutines and must be fast.
func (o *Orchestrator) OnResult(fn func(HostResult)) {
	o.mu.Lock()
	o.onResult = fn
	o.mu.Unlock()
}

// StartSweep begins a new host sweep over targets, superseding any sweep
// already running: the generation is bumped and in-flight workers of the
// old generation finish into the void. concurrency and timeout of zero
// use configured defaults. Returns the new generation immediately; the
// sweep itself runs in the background.
func (o *Orchestrator) StartSweep(targets []string, concurrency int, timeout time.Duration) (Generation, error) {
	if len(targets) == 0 {
		return 0, ErrNoTargets
	}
	if concurrency <= 0 {
		concurrency = o.cfg.HostConcurrency
	}
	if concurrency > len(targets) {
		concurrency = len(targets)
	}
	if timeout <= 0 {
		timeout = o.cfg.PingTimeout
	}

	// Bump and reset under the same lock: if the bump happened outside,
	// two concurrent StartSweep calls could apply their resets in the
	// opposite order, leaving the store pre-filled with a superseded
	// generation.
	o.mu.Lock()
	gen := Generation(o.generation.Add(1))
	now := time.Now().UTC()
	o.state = StateRunning
	o.order = append([]string(nil), targets...)
	o.results = make(map[string]HostResult, len(targets))
	// Pre-fill a row per target so every address is visible in the
	// table before its probe completes.
	for _, ip := range targets {
		o.results[ip] = HostResult{IP: ip, ObservedAt: now, Generation: gen}
	}
	o.done = 0
	o.mu.Unlock()

	o.logger.Info("sweep started", "generation", uint64(gen), "targets", len(targets), "concurrency", concurrency)

	jobs := make(chan string, len(targets))
	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ip := range jobs {
				probe := o.cfg.Ping(context.Background(), ip, timeout)
				o.commit(gen, HostResult{
					IP:         ip,
					Reachable:  probe.Reachable,
					Latency:    probe.Latency,
					HasLatency: probe.HasLatency,
					ObservedAt: time.Now().UTC(),
					Generation: gen,
				})
			}
		}()
	}

	for _, ip := range targets {
		jobs <- ip
	}
	close(jobs)

	go func() {
		wg.Wait()
		o.mu.Lock()
		if Generation(o.generation.Load()) == gen {
			o.state = StateIdle
		}
		o.mu.Unlock()
		o.logger.Info("sweep drained", "generation", uint64(gen))
	}()

	return gen, nil
}

// commit applies one probe result to the store. Writes are accepted only
// while the writer's generation is current; anything else was superseded
// by a later StartSweep and is dropped, counted for diagnostics.
func (o *Orchestrator) commit(gen Generation, res HostResult) {
	o.mu.Lock()
	if Generation(o.generation.Load()) != gen {
		o.staleDropped++
		o.mu.Unlock()
		return
	}
	// Preserve enrichment merged onto the pre-filled row.
	if prev, ok := o.results[res.IP]; ok {
		res.Hostname = prev.Hostname
		res.MAC = prev.MAC
		res.Vendor = prev.Vendor
	}
	o.results[res.IP] = res
	o.done++
	if o.done == len(o.order) {
		o.state = StateCompleting
	}
	cb := o.onResult
	o.mu.Unlock()

	if cb != nil {
		cb(res)
	}
}

// Snapshot returns a point-in-time copy of the result table in target
// submission order. The lock is held only for the copy, never while a
// consumer renders.
func (o *Orchestrator) Snapshot() []HostResult {
	o.mu.Lock()
	defer o.mu.Unlock()

	rows := make([]HostResult, 0, len(o.order))
	for _, ip := range o.order {
		if r, ok := o.results[ip]; ok {
			rows = append(rows, r)
		}
	}
	return rows
}

// MergeEnrichment folds resolution data into existing rows by address.
// Unknown addresses are ignored.
func (o *Orchestrator) MergeEnrichment(data map[string]Enrichment) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for ip, e := range data {
		r, ok := o.results[ip]
		if !ok {
			continue
		}
		if e.Hostname != "" {
			r.Hostname = e.Hostname
		}
		if e.MAC != "" {
			r.MAC = e.MAC
		}
		if e.Vendor != "" {
			r.Vendor = e.Vendor
		}
		o.results[ip] = r
	}
}

// Scanning reports whether a host sweep is currently in progress.
func (o *Orchestrator) Scanning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state == StateRunning
}

// Stats returns sweep progress counters for dashboards.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()

	up := 0
	for _, r := range o.results {
		if r.Reachable {
			up++
		}
	}
	return Stats{
		Generation:   Generation(o.generation.Load()),
		State:        o.state,
		HostsTotal:   len(o.order),
		HostsDone:    o.done,
		HostsUp:      up,
		StaleDropped: o.staleDropped,
	}
}

// RequestPortScan returns the open-port set for host, serving a live
// cached result when one exists and otherwise running a single-flight
// port sweep gated by the shared rate limiter. startPort and endPort of
// zero use the configured range; ttl of zero uses the configured TTL.
// A cache hit never touches the network.
func (o *Orchestrator) RequestPortScan(ctx context.Context, host string, startPort, endPort int, ttl time.Duration) (*PortResult, error) {
	if startPort == 0 && endPort == 0 {
		startPort, endPort = o.cfg.PortRangeStart, o.cfg.PortRangeEnd
	}
	if startPort < 1 || endPort > 65535 || startPort > endPort {
		return nil, fmt.Errorf("%w: %d-%d", ErrInvalidPortRange, startPort, endPort)
	}
	if ttl <= 0 {
		ttl = o.cfg.CacheTTL
	}

	return o.cache.GetOrCompute(ctx, host, ttl, func() (*PortResult, error) {
		return o.portSweep(ctx, host, startPort, endPort)
	})
}

// portSweep fans one connect probe per port across a semaphore-bounded
// pool, each acquisition gated by the rate limiter. Closed ports are
// normal outcomes; only descriptor exhaustion is logged, once, and the
// sweep continues.
func (o *Orchestrator) portSweep(ctx context.Context, host string, startPort, endPort int) (*PortResult, error) {
	sem := semaphore.NewWeighted(int64(o.cfg.PortConcurrency))
	var (
		mu      sync.Mutex
		open    []int
		wg      sync.WaitGroup
		logOnce sync.Once
	)

	for port := startPort; port <= endPort; port++ {
		// A failed acquire means ctx is done. The sweep is incomplete,
		// so it must surface as an error; a partial port set cached as
		// authoritative would poison every later request.
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return nil, fmt.Errorf("port sweep of %s aborted: %w", host, err)
		}
		wg.Add(1)
		go func(port int) {
			defer wg.Done()
			defer sem.Release(1)

			o.limiter.Acquire(1)
			ok, err := o.cfg.Probe(host, port, o.cfg.ConnectTimeout)
			if err != nil {
				logOnce.Do(func() {
					o.logger.Warn("port probe resource exhaustion", "host", host, "port", port, "error", err)
				})
				return
			}
			if ok {
				mu.Lock()
				open = append(open, port)
				mu.Unlock()
			}
		}(port)
	}
	wg.Wait()

	sort.Ints(open)
	names := make(map[int]string, len(open))
	for _, p := range open {
		if name, ok := ServiceName(p); ok {
			names[p] = name
		}
	}
	return &PortResult{
		Host:         host,
		OpenPorts:    open,
		ServiceNames: names,
		ScannedAt:    time.Now().UTC(),
	}, nil
}

// SetRate reconfigures the shared limiter.
func (o *Orchestrator) SetRate(rate, burst float64) error {
	return o.limiter.SetRate(rate, burst)
}

// RateStats snapshots the shared limiter.
func (o *Orchestrator) RateStats() RateStats {
	return o.limiter.Stats()
}

// PeekPortScan reports cached port-scan state for host without blocking.
func (o *Orchestrator) PeekPortScan(host string) (res *PortResult, hit bool, inFlight bool) {
	return o.cache.Peek(host)
}

// CachedPorts returns the live cached result for host, if any.
func (o *Orchestrator) CachedPorts(host string) (*PortResult, bool) {
	return o.cache.Get(host)
}

// CacheAge reports how old the cached port result for host is.
func (o *Orchestrator) CacheAge(host string) (time.Duration, bool) {
	return o.cache.Age(host)
}

// InvalidateHost evicts the cached port result for host.
func (o *Orchestrator) InvalidateHost(host string) {
	o.cache.Invalidate(host)
}

// ClearCache evicts all cached port results.
func (o *Orchestrator) ClearCache() {
	o.cache.Clear()
}
