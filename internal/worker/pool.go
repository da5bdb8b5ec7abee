package worker

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Pool runs submitted jobs on at most size goroutines at a time.
type Pool struct {
	sem chan struct{}
}

func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Size is the maximum number of jobs running concurrently.
func (p *Pool) Size() int { return cap(p.sem) }

// Submit blocks until a slot is free, then runs fn on its own goroutine.
func (p *Pool) Submit(fn func()) {
	p.sem <- struct{}{}
	p.run(fn)
}

// SubmitContext is Submit that gives up when ctx is done before a slot frees
// up. fn is not run in that case and ctx's error is returned.
func (p *Pool) SubmitContext(ctx context.Context, fn func()) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	// both cases may have been ready
	if err := ctx.Err(); err != nil {
		<-p.sem
		return err
	}
	p.run(fn)
	return nil
}

func (p *Pool) run(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("worker job panicked")
			}
			<-p.sem
		}()
		fn()
	}()
}
