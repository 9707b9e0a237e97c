package pipeline

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/helixir/review-pipeline-service/internal/domain"
)

// outcome is what a worker reports for one item.
type outcome[R any] struct {
	value    R
	attempts int
	failure  *domain.ItemFailure
}

// forEach runs work over items with at most workers in flight and returns the
// successful values in input order.
//
// No item is dispatched once cancellation has been observed or ctx has ended. Dispatched items
// run to completion on a context detached from ctx, so cancelling the run does
// not abort an in-flight download or completion call. Each completed item is
// recorded, pushes progress and polls the cancellation flag, all under one
// lock so that progress writes stay ordered. forEach returns only after every
// dispatched item has reached a terminal state.
func forEach[T, R any](
	ctx context.Context,
	r *run,
	workers int,
	items []T,
	candidate func(T) domain.PaperCandidate,
	work func(ctx context.Context, item T) outcome[R],
) []R {
	total := len(items)
	slots := make([]*R, total)
	if total == 0 {
		r.progress(ctx, 0, 0)
		return nil
	}

	detached := context.WithoutCancel(ctx)

	var (
		mu   sync.Mutex
		done int
	)

	g := new(errgroup.Group)
	g.SetLimit(workers)

	for i, item := range items {
		if r.halted(ctx) {
			break
		}
		g.Go(func() error {
			// The slot may have opened after cancellation was observed.
			if r.halted(ctx) {
				return nil
			}

			res := work(detached, item)

			mu.Lock()
			defer mu.Unlock()

			if res.failure == nil {
				v := res.value
				slots[i] = &v
			}
			done++
			r.recordItem(ctx, candidate(item), res.attempts, res.failure)
			r.progress(ctx, done, total)
			r.pollCancel(ctx)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]R, 0, total)
	for _, v := range slots {
		if v != nil {
			out = append(out, *v)
		}
	}
	return out
}
