package cdi

import (
	"context"
	"slices"
	"sync"
	"time"

	rspec "github.com/opencontainers/runtime-spec/specs-go"
)

// Logger defines the logging interface used by the Cache.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Cache resolves qualified device names against the spec documents of its
// sources and injects the matching edits into OCI runtime specs.
//
// The cache holds exactly one registry generation and one error ledger.
// Refresh builds a new generation and swaps it in; readers never observe a
// partially built registry.
//
// All public methods are thread-safe and strictly serialised: each one holds
// the cache lock for its full duration.
type Cache struct {
	mu     sync.Mutex
	cfg    config
	gen    *Generation
	ledger *ledger
	seq    uint64

	statDevice func(path string) (hostDeviceInfo, error)
}

// NewCache creates a cache with the given options.
//
// Without options the cache has no sources and auto-refresh disabled. When
// the options enable auto-refresh, one refresh runs before NewCache
// returns; its structural failure is logged, not returned.
//
// Returns ErrInvalidOption when an option is malformed.
func NewCache(opts ...Option) (*Cache, error) {
	cfg, err := config{logger: noopLogger{}}.with(opts)
	if err != nil {
		return nil, err
	}

	c := &Cache{
		cfg:        cfg,
		gen:        emptyGeneration(),
		ledger:     newLedger(),
		statDevice: statHostDevice,
	}

	if c.cfg.autoRefresh {
		c.mu.Lock()
		c.autoRefreshLocked()
		c.mu.Unlock()
	}
	return c, nil
}

// Configure applies options in order. An empty call changes nothing and
// never triggers a refresh.
//
// Options are validated before any of them is applied, so a malformed
// option leaves the cache untouched. When auto-refresh is enabled after
// applying the options, one refresh runs before Configure returns.
//
// Returns ErrInvalidOption when an option is malformed.
func (c *Cache) Configure(opts ...Option) error {
	if len(opts) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cfg, err := c.cfg.with(opts)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.cfg.logger.Debug("cdi cache configured",
		"options", len(opts),
		"sources", len(cfg.sources),
		"auto_refresh", cfg.autoRefresh,
		"conflict_policy", cfg.policy.String(),
	)

	if c.cfg.autoRefresh {
		c.autoRefreshLocked()
	}
	return nil
}

// Refresh rescans every source and installs a new registry generation.
//
// The error ledger is reset to the load errors of this pass, even when
// individual sources or documents failed. Returns ErrNoSources when no
// source is configured and ErrAllSourcesUnreadable when none could be read;
// in both cases the previous generation stays installed.
func (c *Cache) Refresh() error {
	_, err := c.RefreshWithReport()
	return err
}

// RefreshWithReport is Refresh returning the summary of the pass, taken
// under the same lock acquisition as the refresh itself.
func (c *Cache) RefreshWithReport() (RefreshReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked(context.Background())
}

func (c *Cache) autoRefreshLocked() {
	if _, err := c.refreshLocked(context.Background()); err != nil {
		c.cfg.logger.Warn("cdi auto-refresh failed", "error", err)
	}
}

func (c *Cache) refreshLocked(ctx context.Context) (RefreshReport, error) {
	start := time.Now()
	sources := c.cfg.sources

	if len(sources) == 0 {
		c.ledger.reset(nil)
		report := RefreshReport{
			Generation: c.gen.Seq(),
			Devices:    c.gen.Len(),
			BuiltAt:    c.gen.BuiltAt(),
			Duration:   time.Since(start),
			Err:        ErrNoSources,
		}
		c.notifyRefresh(report)
		return report, ErrNoSources
	}

	res := loadSources(ctx, sources)
	unreadable := len(sources) - res.readable

	if res.readable == 0 {
		c.ledger.reset(res.errs)
		c.cfg.logger.Error("cdi refresh failed, keeping previous generation",
			"sources", len(sources),
			"generation", c.gen.Seq(),
		)
		report := RefreshReport{
			Generation:        c.gen.Seq(),
			Devices:           c.gen.Len(),
			Sources:           len(sources),
			UnreadableSources: unreadable,
			LoadErrors:        c.ledger.len(),
			BuiltAt:           c.gen.BuiltAt(),
			Duration:          time.Since(start),
			Err:               ErrAllSourcesUnreadable,
		}
		c.notifyRefresh(report)
		return report, ErrAllSourcesUnreadable
	}

	gen, conflicts := buildGeneration(c.seq+1, res.records, c.cfg.sourceIDs(), c.cfg.policy)
	c.seq = gen.Seq()
	c.gen = gen
	c.ledger.reset(append(res.errs, conflicts...))

	c.cfg.logger.Info("cdi registry refreshed",
		"generation", gen.Seq(),
		"devices", gen.Len(),
		"sources", len(sources),
		"unreadable_sources", unreadable,
		"load_errors", c.ledger.len(),
	)
	report := RefreshReport{
		Generation:        gen.Seq(),
		Devices:           gen.Len(),
		Sources:           len(sources),
		UnreadableSources: unreadable,
		LoadErrors:        c.ledger.len(),
		BuiltAt:           gen.BuiltAt(),
		Duration:          time.Since(start),
	}
	c.notifyRefresh(report)
	return report, nil
}

// InjectDevices resolves names against the current generation and merges
// the matching edits into spec, in the order given.
//
// Each name is injected at most once per call. Names that cannot be
// resolved, or whose edits cannot be applied, are skipped and recorded in
// the error ledger; the remaining names are still injected. The returned
// slice lists the injected names in request order. When anything was
// skipped the error is an *InjectionError; callers decide whether a partial
// injection is acceptable.
//
// Returns ErrNilSpec, without touching the ledger, when spec is nil.
func (c *Cache) InjectDevices(spec *rspec.Spec, names ...string) ([]string, error) {
	if spec == nil {
		return nil, ErrNilSpec
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	in := newInjector(spec, c.statDevice)
	injected := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	var ierr InjectionError

	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		rec, ok := c.gen.lookup(name)
		if !ok {
			uerr := unresolvedError(name)
			ierr.Unresolved = append(ierr.Unresolved, name)
			ierr.Errs = append(ierr.Errs, uerr)
			c.ledger.append(ClassKey(name), uerr)
			continue
		}

		if err := in.inject(rec); err != nil {
			ferr := failedError(name, err)
			ierr.Failed = append(ierr.Failed, name)
			ierr.Errs = append(ierr.Errs, ferr)
			c.ledger.append(rec.Kind, ferr)
			continue
		}
		injected = append(injected, name)
	}

	c.cfg.logger.Debug("cdi devices injected",
		"generation", c.gen.Seq(),
		"requested", len(names),
		"injected", len(injected),
		"failed", len(ierr.Errs),
	)
	c.notifyInject(InjectReport{
		Generation: c.gen.Seq(),
		Requested:  slices.Clone(names),
		Injected:   slices.Clone(injected),
		Unresolved: slices.Clone(ierr.Unresolved),
		Failed:     slices.Clone(ierr.Failed),
		Duration:   time.Since(start),
	})

	if len(ierr.Errs) > 0 {
		return injected, &ierr
	}
	return injected, nil
}

// ListDevices returns the device names of the current generation.
// The order is stable for a given generation but otherwise unspecified.
func (c *Cache) ListDevices() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen.Names()
}

// GetDevice returns a copy of the record for a fully-qualified name.
// Returns ErrDeviceNotFound if no such device exists.
func (c *Cache) GetDevice(name string) (*DeviceRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.gen.lookup(name)
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return rec.DeepCopy(), nil
}

// ListClasses returns the sorted vendor/class keys of the current generation.
func (c *Cache) ListClasses() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	classes := make([]string, 0)
	for _, name := range c.gen.names {
		kind := c.gen.devices[name].Kind
		if !slices.Contains(classes, kind) {
			classes = append(classes, kind)
		}
	}
	slices.Sort(classes)
	return classes
}

// GetErrors returns the errors recorded since the last refresh, grouped by
// class key. The returned map is a copy.
func (c *Cache) GetErrors() map[string][]error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ledger.snapshot()
}

// ClearErrors empties the error ledger.
func (c *Cache) ClearErrors() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ledger.clear()
}

// Generation returns the sequence number of the installed generation,
// 0 before the first successful refresh.
func (c *Cache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen.Seq()
}

// Sources returns the IDs of the configured sources in order.
func (c *Cache) Sources() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.sourceIDs()
}

func (c *Cache) notifyRefresh(r RefreshReport) {
	if c.cfg.observer != nil {
		c.cfg.observer.RefreshDone(r)
	}
}

func (c *Cache) notifyInject(r InjectReport) {
	if c.cfg.observer != nil {
		c.cfg.observer.InjectDone(r)
	}
}
