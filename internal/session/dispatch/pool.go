package dispatch

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueFull is returned by TryEnqueue when every worker is busy and the
// queue has no room left.
var ErrQueueFull = errors.New("dispatch queue is full")

type StartOptions[J any] struct {
	Ctx context.Context
	// Workers bounds how many jobs run at once.
	Workers int
	// Queue is the number of jobs that may wait for a free worker.
	Queue   int
	Handle  func(context.Context, J)
	OnPanic func(any)
}

// Pool runs jobs concurrently with a fixed upper bound. It stops taking jobs
// once its context is done.
type Pool[J any] struct {
	ctx     context.Context
	jobs    chan J
	sem     chan struct{}
	handle  func(context.Context, J)
	onPanic func(any)
	wg      sync.WaitGroup
}

func Start[J any](opts StartOptions[J]) *Pool[J] {
	if opts.Ctx == nil {
		opts.Ctx = context.Background()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Queue < 0 {
		opts.Queue = 0
	}
	p := &Pool[J]{
		ctx:     opts.Ctx,
		jobs:    make(chan J, opts.Queue),
		sem:     make(chan struct{}, opts.Workers),
		handle:  opts.Handle,
		onPanic: opts.OnPanic,
	}
	p.wg.Add(1)
	go p.loop()
	return p
}

func (p *Pool[J]) loop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case job := <-p.jobs:
			select {
			case p.sem <- struct{}{}:
			case <-p.ctx.Done():
				return
			}
			p.wg.Add(1)
			go p.run(job)
		}
	}
}

func (p *Pool[J]) run(job J) {
	defer p.wg.Done()
	defer func() { <-p.sem }()
	defer func() {
		if r := recover(); r != nil && p.onPanic != nil {
			p.onPanic(r)
		}
	}()
	if p.handle != nil {
		p.handle(p.ctx, job)
	}
}

// Enqueue hands job to the pool, blocking while the queue is full.
func (p *Pool[J]) Enqueue(ctx context.Context, job J) error {
	if ctx == nil {
		ctx = p.ctx
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return p.ctx.Err()
	case p.jobs <- job:
		return nil
	}
}

// TryEnqueue hands job to the pool without blocking.
func (p *Pool[J]) TryEnqueue(job J) error {
	if err := p.ctx.Err(); err != nil {
		return err
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Wait blocks until the pool's context is done and every running job has
// returned. Queued jobs that never started are dropped.
func (p *Pool[J]) Wait() {
	p.wg.Wait()
}
