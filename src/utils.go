package pix2pix

import (
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// errorf creates a formatted error
func errorf(format string, args ...interface{}) error {
	return fmt.Errorf("pix2pix: "+format, args...)
}

// ParallelFor runs fn for every index in [0, n) on up to GOMAXPROCS
// goroutines. Each index must write to disjoint memory.
func ParallelFor(n int, fn func(i int)) {
	if n <= 1 {
		for i := 0; i < n; i++ {
			fn(i)
		}
		return
	}
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			fn(i)
			return nil
		})
	}
	_ = g.Wait()
}

// countParams returns the number of scalars across tensors
func countParams(params []*Tensor) int {
	total := 0
	for _, p := range params {
		total += p.Size()
	}
	return total
}
