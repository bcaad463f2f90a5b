package cdi

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// maxParallelLoads bounds the number of sources scanned at once.
const maxParallelLoads = 4

// classError is a ledger entry waiting to be recorded.
type classError struct {
	key string
	err error
}

// loadResult is the merged outcome of scanning every configured source.
type loadResult struct {
	// records are the valid device records in source order, then document
	// order, then device order.
	records []*DeviceRecord
	// errs are the load failures in the same order.
	errs []classError
	// readable counts sources whose Load call succeeded.
	readable int
}

// loadSources scans all sources concurrently and merges their results in
// configured order, so the outcome does not depend on scheduling.
func loadSources(ctx context.Context, sources []Source) *loadResult {
	scans := make([]*Scan, len(sources))
	failures := make([]error, len(sources))

	var g errgroup.Group
	g.SetLimit(maxParallelLoads)
	for i, src := range sources {
		g.Go(func() error {
			scans[i], failures[i] = src.Load(ctx)
			return nil
		})
	}
	_ = g.Wait() // workers never return an error

	res := &loadResult{}
	for i, src := range sources {
		id := src.ID()
		if failures[i] != nil {
			res.errs = append(res.errs, classError{
				key: id,
				err: &LoadError{Source: id, Err: failures[i]},
			})
			continue
		}
		res.readable++

		scan := scans[i]
		if scan == nil {
			continue
		}
		for _, fe := range scan.Errors {
			res.errs = append(res.errs, classError{
				key: fe.Path,
				err: &LoadError{Source: id, Path: fe.Path, Err: fe.Err},
			})
		}
		for _, f := range scan.Specs {
			if f == nil {
				continue
			}
			key, records, errs := recordsFromSpec(id, f)
			for _, err := range errs {
				res.errs = append(res.errs, classError{
					key: key,
					err: &LoadError{Source: id, Path: f.Path, Err: err},
				})
			}
			res.records = append(res.records, records...)
		}
	}
	return res
}
