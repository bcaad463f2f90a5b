package cdi

import "slices"

// ledger groups recorded errors by class key. It is not safe for concurrent
// use; the owning Cache serialises access.
type ledger struct {
	errs map[string][]error
}

func newLedger() *ledger {
	return &ledger{errs: make(map[string][]error)}
}

// reset replaces the ledger content with entries, keeping their order per key.
func (l *ledger) reset(entries []classError) {
	l.errs = make(map[string][]error)
	for _, e := range entries {
		l.append(e.key, e.err)
	}
}

func (l *ledger) append(key string, err error) {
	l.errs[key] = append(l.errs[key], err)
}

func (l *ledger) clear() {
	clear(l.errs)
}

// len returns the total number of recorded errors.
func (l *ledger) len() int {
	n := 0
	for _, errs := range l.errs {
		n += len(errs)
	}
	return n
}

// snapshot returns a copy that later appends do not affect.
func (l *ledger) snapshot() map[string][]error {
	out := make(map[string][]error, len(l.errs))
	for key, errs := range l.errs {
		out[key] = slices.Clone(errs)
	}
	return out
}
