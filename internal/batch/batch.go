package batch

import (
	"context"
	"runtime"
	"sync"
)

// ConvertFunc converts one input file and returns the output path.
type ConvertFunc func(ctx context.Context, path string) (string, error)

// Item is the per-file outcome of a batch conversion.
type Item struct {
	Input  string `json:"input"`
	Output string `json:"output,omitempty"`
	Err    error  `json:"-"`
	Error  string `json:"error,omitempty"`
}

// maxWorkers bounds batch fan-out. Conversion is I/O plus remote calls,
// so there is no benefit in saturating every core.
func maxWorkers() int {
	n := runtime.NumCPU()
	if n > 4 {
		n = 4
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Convert runs fn over all paths with bounded concurrency. An error on
// one file never affects its siblings; results keep the input order.
func Convert(ctx context.Context, fn ConvertFunc, paths []string) []Item {
	items := make([]Item, len(paths))
	sem := make(chan struct{}, maxWorkers())
	var wg sync.WaitGroup

	for i, path := range paths {
		items[i].Input = path

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			items[i].Err = ctx.Err()
			items[i].Error = ctx.Err().Error()
			continue
		}

		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			defer func() { <-sem }()

			out, err := fn(ctx, path)
			if err != nil {
				items[i].Err = err
				items[i].Error = err.Error()
				return
			}
			items[i].Output = out
		}(i, path)
	}

	wg.Wait()
	return items
}
