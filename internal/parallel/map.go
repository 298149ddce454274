package parallel

import (
	"context"
	"iter"

	"golang.org/x/sync/errgroup"
)

type result[D any] struct {
	d D
	e error
}

// Map runs mapFunc over the entries of an input iterator with at most limit
// calls in flight and yields the results in completion order.
//
//	for d, err := range parallel.NewMap(ctx, 4, fn).Iter(input) {}
//
// An error yielded by the input is passed through unchanged without calling
// mapFunc. Canceling the context or breaking out of the loop stops the
// remaining work; Iter does not return before all started calls have ended.
type Map[E, D any] struct {
	parentCtx    context.Context
	cancelParent context.CancelFunc
	g            *errgroup.Group
	gctx         context.Context
	mapped       chan result[D]
	mapFunc      func(context.Context, E) (D, error)
}

func NewMap[E, D any](parentCtx context.Context, limit int, mapFunc func(context.Context, E) (D, error)) *Map[E, D] {
	if limit < 1 {
		limit = 1
	}
	parentCtx, cancelParent := context.WithCancel(parentCtx)
	g, gctx := errgroup.WithContext(parentCtx)
	// one extra slot for the feeder
	g.SetLimit(limit + 1)

	return &Map[E, D]{
		parentCtx:    parentCtx,
		cancelParent: cancelParent,
		g:            g,
		gctx:         gctx,
		mapped:       make(chan result[D], limit),
		mapFunc:      mapFunc,
	}
}

func (s *Map[E, D]) send(r result[D]) error {
	select {
	case <-s.gctx.Done():
		return s.gctx.Err()
	case s.mapped <- r:
		return nil
	}
}

func (s *Map[E, D]) goWorkers(seq iter.Seq2[E, error]) {
	s.g.Go(func() error {
		for entry, nerr := range seq {
			if s.gctx.Err() != nil {
				return s.gctx.Err()
			}
			if nerr != nil {
				if err := s.send(result[D]{e: nerr}); err != nil {
					return err
				}
				continue
			}
			s.g.Go(func() error {
				d, err := s.mapFunc(s.gctx, entry)
				return s.send(result[D]{d: d, e: err})
			})
		}
		return nil
	})
}

func (s *Map[E, D]) Iter(seq iter.Seq2[E, error]) iter.Seq2[D, error] {
	return func(yield func(D, error) bool) {
		done := make(chan struct{})
		defer func() {
			s.cancelParent()
			<-done
		}()
		s.goWorkers(seq)

		go func() {
			defer close(done)
			_ = s.g.Wait()
			close(s.mapped)
		}()

		for r := range s.mapped {
			if s.parentCtx.Err() != nil {
				return
			}
			if !yield(r.d, r.e) {
				return
			}
		}
	}
}
