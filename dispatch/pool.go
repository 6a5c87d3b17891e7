package dispatch

import (
	"github.com/sloonz/shelvery/lib"

	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"golang.org/x/sync/semaphore"
)

var (
	poolLog = logrus.WithFields(logrus.Fields{
		"dispatcher": "worker",
	})
)

// Runs continuations in goroutines of the current process, at most
// concurrency at a time. Dispatch never blocks; Wait collects failures.
type Pool struct {
	Runner shelvery.Runner

	sem  *semaphore.Weighted
	mono bool
	wg   sync.WaitGroup
	mu   sync.Mutex
	errs error
}

// With mono set, continuations run synchronously inside Dispatch
func NewPool(concurrency int, mono bool) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(concurrency)), mono: mono}
}

// Part of shelvery.Dispatcher interface
func (p *Pool) Mode() shelvery.DispatchMode {
	return shelvery.DispatchWorker
}

func (p *Pool) run(ctx context.Context, c shelvery.Continuation) {
	log := poolLog.WithFields(logrus.Fields{"operation": c.Operation, "id": c.ID})
	log.Debug("running continuation")

	if err := p.Runner.Run(ctx, c); err != nil {
		log.Debugf("continuation failed: %v", err)
		p.mu.Lock()
		p.errs = multierr.Append(p.errs, fmt.Errorf("%s %s: %w", c.Operation, c.ID, err))
		p.mu.Unlock()
	}
}

// Part of shelvery.Dispatcher interface
func (p *Pool) Dispatch(ctx context.Context, c shelvery.Continuation) error {
	if p.Runner == nil {
		return fmt.Errorf("worker pool has no runner")
	}

	// Tasks outlive the call that dispatched them
	ctx = context.WithoutCancel(ctx)

	if p.mono {
		p.run(ctx, c)
		return nil
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(ctx, 1); err != nil {
			p.mu.Lock()
			p.errs = multierr.Append(p.errs, err)
			p.mu.Unlock()
			return
		}
		defer p.sem.Release(1)
		p.run(ctx, c)
	}()
	return nil
}

// Wait for every dispatched continuation, including the ones they dispatched,
// and return their combined errors
func (p *Pool) Wait() error {
	p.wg.Wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	errs := p.errs
	p.errs = nil
	return errs
}
