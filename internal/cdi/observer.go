package cdi

import "time"

// Observer receives a report after every refresh and injection.
//
// Reports are delivered while the cache lock is held, so implementations
// must return quickly and must not call back into the cache.
type Observer interface {
	RefreshDone(RefreshReport)
	InjectDone(InjectReport)
}

// RefreshReport summarises one refresh pass.
type RefreshReport struct {
	Generation        uint64
	Devices           int
	Sources           int
	UnreadableSources int
	LoadErrors        int
	// BuiltAt is when the installed generation was built. On a structural
	// failure it belongs to the previous generation, zero if there is none.
	BuiltAt           time.Time
	Duration          time.Duration
	// Err is the structural failure, nil when a generation was installed.
	Err               error
}

// InjectReport summarises one InjectDevices call.
type InjectReport struct {
	Generation uint64
	Requested  []string
	Injected   []string
	Unresolved []string
	Failed     []string
	Duration   time.Duration
}
