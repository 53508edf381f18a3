// Package workerpool runs independent jobs on a bounded number of goroutines.
package workerpool

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Degree values with special meaning.
const (
	AllCores        = -1
	AllButOneCore   = -2
	DefaultDegree   = AllCores
	sequentialLimit = 1
)

// Pool bounds the concurrency of Run. The zero value is not usable; build
// one with New.
type Pool struct {
	workers int
}

// New returns a pool of the given degree: AllCores, AllButOneCore, or a
// positive worker count.
func New(degree int) (*Pool, error) {
	n := runtime.NumCPU()
	switch {
	case degree == AllCores:
	case degree == AllButOneCore:
		n = max(n-1, sequentialLimit)
	case degree > 0:
		n = degree
	default:
		return nil, fmt.Errorf("workerpool: invalid degree %d", degree)
	}
	return &Pool{workers: n}, nil
}

// Workers returns the number of concurrent workers.
func (p *Pool) Workers() int { return p.workers }

// Run calls fn for each index in [0, n). It stops handing out work after
// the first error or when ctx is done, and returns that error. Results are
// communicated through fn's closure, one slot per index.
func (p *Pool) Run(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i := 0; i < n; i++ {
		if err := gctx.Err(); err != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, i)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
