package cdi

import (
	"fmt"
	"slices"
	"time"
)

// Generation is an immutable snapshot of the device registry produced by a
// single refresh pass. A generation is never modified once published.
type Generation struct {
	seq     uint64
	builtAt time.Time
	devices map[string]*DeviceRecord
	names   []string
	sources []string
}

// emptyGeneration is installed before the first successful refresh.
func emptyGeneration() *Generation {
	return &Generation{devices: map[string]*DeviceRecord{}}
}

// Seq returns the generation sequence number. It starts at 1 for the first
// successful refresh and is 0 for the empty initial registry.
func (g *Generation) Seq() uint64 { return g.seq }

// BuiltAt returns when the generation was built.
func (g *Generation) BuiltAt() time.Time { return g.builtAt }

// Len returns the number of devices.
func (g *Generation) Len() int { return len(g.names) }

// Names returns the device names in insertion order.
func (g *Generation) Names() []string { return slices.Clone(g.names) }

// Sources returns the IDs of the sources the generation was built from.
func (g *Generation) Sources() []string { return slices.Clone(g.sources) }

// lookup returns the shared record for name. Callers must not modify it.
func (g *Generation) lookup(name string) (*DeviceRecord, bool) {
	rec, ok := g.devices[name]
	return rec, ok
}

// buildGeneration inserts records in order and resolves name collisions
// according to policy. Every collision produces one load error keyed by the
// colliding record's kind.
func buildGeneration(seq uint64, records []*DeviceRecord, sources []string, policy ConflictPolicy) (*Generation, []classError) {
	g := &Generation{
		seq:     seq,
		builtAt: time.Now(),
		devices: make(map[string]*DeviceRecord, len(records)),
		names:   make([]string, 0, len(records)),
		sources: slices.Clone(sources),
	}

	var (
		conflicts []classError
		rejected  map[string]struct{}
	)
	for _, rec := range records {
		prev, exists := g.devices[rec.Name]
		if !exists {
			if _, dropped := rejected[rec.Name]; !dropped {
				g.devices[rec.Name] = rec
				g.names = append(g.names, rec.Name)
				continue
			}
		}

		conflicts = append(conflicts, classError{
			key: rec.Kind,
			err: &LoadError{
				Source: rec.Source,
				Path:   rec.Path,
				Err:    conflictError(rec, prev, policy),
			},
		})

		switch policy {
		case ConflictFirstWins:
			// keep prev
		case ConflictLastWins:
			if exists {
				g.devices[rec.Name] = rec
			}
		case ConflictReject:
			if rejected == nil {
				rejected = make(map[string]struct{})
			}
			rejected[rec.Name] = struct{}{}
			if exists {
				delete(g.devices, rec.Name)
				g.names = slices.DeleteFunc(g.names, func(n string) bool { return n == rec.Name })
			}
		}
	}
	return g, conflicts
}

func conflictError(rec, prev *DeviceRecord, policy ConflictPolicy) error {
	if prev == nil {
		return fmt.Errorf("%w: %q already rejected (policy %s)", ErrDeviceConflict, rec.Name, policy)
	}
	return fmt.Errorf("%w: %q also defined by %s in source %q (policy %s)",
		ErrDeviceConflict, rec.Name, prev.Path, prev.Source, policy)
}
