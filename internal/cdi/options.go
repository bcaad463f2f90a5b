package cdi

import (
	"fmt"
	"slices"
	"strings"
)

// ConflictPolicy decides which record survives when several sources define
// the same device name during one refresh. Every collision is recorded as a
// load error regardless of the policy.
type ConflictPolicy int

const (
	// ConflictFirstWins keeps the record from the earliest configured source.
	ConflictFirstWins ConflictPolicy = iota
	// ConflictLastWins keeps the record from the latest configured source.
	ConflictLastWins
	// ConflictReject drops every record of a colliding name.
	ConflictReject
)

// String returns the config-file spelling of the policy.
func (p ConflictPolicy) String() string {
	switch p {
	case ConflictFirstWins:
		return "first-wins"
	case ConflictLastWins:
		return "last-wins"
	case ConflictReject:
		return "reject"
	default:
		return fmt.Sprintf("ConflictPolicy(%d)", int(p))
	}
}

// ParseConflictPolicy parses the config-file spelling of a policy.
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "first-wins":
		return ConflictFirstWins, nil
	case "last-wins":
		return ConflictLastWins, nil
	case "reject":
		return ConflictReject, nil
	default:
		return 0, fmt.Errorf("%w: unknown conflict policy %q", ErrInvalidOption, s)
	}
}

func (p ConflictPolicy) valid() bool {
	return p >= ConflictFirstWins && p <= ConflictReject
}

type optionKind int

const (
	optAutoRefresh optionKind = iota + 1
	optSource
	optSpecDirs
	optConflictPolicy
	optLogger
	optObserver
	optWithoutSources
)

// Option is a configuration directive for a Cache. The set of directives is
// closed; build options with the With* constructors.
type Option struct {
	kind     optionKind
	enabled  bool
	source   Source
	dirs     []string
	policy   ConflictPolicy
	logger   Logger
	observer Observer
}

// WithAutoRefresh enables or disables refresh on creation and on every
// non-empty Configure call.
func WithAutoRefresh(enabled bool) Option {
	return Option{kind: optAutoRefresh, enabled: enabled}
}

// WithSource adds a spec source. A source whose ID matches an already
// configured one replaces it at the same position.
func WithSource(src Source) Option {
	return Option{kind: optSource, source: src}
}

// WithSpecDirs adds one directory source per dir.
func WithSpecDirs(dirs ...string) Option {
	return Option{kind: optSpecDirs, dirs: slices.Clone(dirs)}
}

// WithConflictPolicy sets how name collisions between sources are resolved.
func WithConflictPolicy(p ConflictPolicy) Option {
	return Option{kind: optConflictPolicy, policy: p}
}

// WithLogger sets the logger used by the cache.
func WithLogger(l Logger) Option {
	return Option{kind: optLogger, logger: l}
}

// WithObserver sets the observer notified after each refresh and injection.
// A nil observer removes the current one.
func WithObserver(o Observer) Option {
	return Option{kind: optObserver, observer: o}
}

// WithoutSources drops every source configured so far, including defaults.
func WithoutSources() Option {
	return Option{kind: optWithoutSources}
}

// config is the option-controlled state of a Cache.
type config struct {
	autoRefresh bool
	sources     []Source
	policy      ConflictPolicy
	logger      Logger
	observer    Observer
}

// validate checks a single option without applying it.
func (o Option) validate() error {
	switch o.kind {
	case optAutoRefresh, optObserver, optWithoutSources:
		return nil
	case optSource:
		if o.source == nil {
			return fmt.Errorf("%w: nil source", ErrInvalidOption)
		}
		if o.source.ID() == "" {
			return fmt.Errorf("%w: source with empty ID", ErrInvalidOption)
		}
		return nil
	case optSpecDirs:
		for _, dir := range o.dirs {
			if strings.TrimSpace(dir) == "" {
				return fmt.Errorf("%w: empty spec directory", ErrInvalidOption)
			}
		}
		return nil
	case optConflictPolicy:
		if !o.policy.valid() {
			return fmt.Errorf("%w: unknown conflict policy %d", ErrInvalidOption, int(o.policy))
		}
		return nil
	case optLogger:
		if o.logger == nil {
			return fmt.Errorf("%w: nil logger", ErrInvalidOption)
		}
		return nil
	default:
		return fmt.Errorf("%w: zero or unknown option", ErrInvalidOption)
	}
}

// with returns a copy of c with opts applied in order. Nothing is applied
// unless every option is valid.
func (c config) with(opts []Option) (config, error) {
	for i, o := range opts {
		if err := o.validate(); err != nil {
			return c, fmt.Errorf("option %d: %w", i, err)
		}
	}

	next := c
	next.sources = slices.Clone(c.sources)
	for _, o := range opts {
		switch o.kind {
		case optAutoRefresh:
			next.autoRefresh = o.enabled
		case optSource:
			next.sources = addSource(next.sources, o.source)
		case optSpecDirs:
			for _, dir := range o.dirs {
				next.sources = addSource(next.sources, NewDirSource(dir))
			}
		case optConflictPolicy:
			next.policy = o.policy
		case optLogger:
			next.logger = o.logger
		case optObserver:
			next.observer = o.observer
		case optWithoutSources:
			next.sources = nil
		}
	}
	return next, nil
}

func addSource(sources []Source, src Source) []Source {
	id := src.ID()
	if i := slices.IndexFunc(sources, func(s Source) bool { return s.ID() == id }); i >= 0 {
		sources[i] = src
		return sources
	}
	return append(sources, src)
}

func (c config) sourceIDs() []string {
	ids := make([]string, len(c.sources))
	for i, s := range c.sources {
		ids[i] = s.ID()
	}
	return ids
}
