package parallel

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Source is a queue safe for concurrent Next calls. Next must not block,
// false means there is nothing left.
type Source[E any] interface {
	Next() (E, bool)
	Len() int
}

// Pool runs mapFunc over every element of a Source using at most limit
// workers. Each worker loops: dequeue, map, publish, until the source is
// drained. Fewer workers are started when the source is smaller than limit.
// Spawn adds a worker on top of limit.
//
// The output channel is buffered to the source length, so workers never block
// on publishing and every dequeued element yields exactly one value, even
// when mapFunc panics and OnPanic is set.
//
//	pool := parallel.NewPool(4, check)
//	for d := range pool.Run(ctx, queue) {}
type Pool[E, D any] struct {
	limit   int
	mapFunc func(context.Context, E) D
	onStart func(E)
	onPanic func(E, any) D
	workers atomic.Int32

	mx     sync.Mutex
	g      *errgroup.Group
	ctx    context.Context
	src    Source[E]
	mapped chan D
	active int
	closed bool
	done   chan struct{}
}

func NewPool[E, D any](limit int, mapFunc func(context.Context, E) D) *Pool[E, D] {
	return &Pool[E, D]{
		limit:   limit,
		mapFunc: mapFunc,
	}
}

// OnStart registers a function called by a worker right after it dequeued e.
func (p *Pool[E, D]) OnStart(f func(e E)) *Pool[E, D] {
	p.onStart = f
	return p
}

// OnPanic turns a panic in mapFunc into a value. Without it the panic is
// propagated.
func (p *Pool[E, D]) OnPanic(f func(e E, recovered any) D) *Pool[E, D] {
	p.onPanic = f
	return p
}

// Run starts the workers and returns the channel with mapped values. The
// channel is closed once all workers exited. Cancelled ctx stops workers
// from dequeuing more elements, it is passed to mapFunc too.
func (p *Pool[E, D]) Run(ctx context.Context, src Source[E]) <-chan D {
	n := src.Len()
	limit := max(min(p.limit, n), 0)

	p.mx.Lock()
	p.g = &errgroup.Group{}
	p.ctx = ctx
	p.src = src
	p.mapped = make(chan D, n)
	p.done = make(chan struct{})
	p.active = 0
	p.closed = false
	if limit == 0 {
		p.close()
	}
	for range limit {
		p.spawn()
	}
	p.mx.Unlock()
	return p.mapped
}

// Spawn starts one more worker for the last Run. It is meant for a worker
// stuck in mapFunc, the new one drains the rest of the source. It returns
// false once all workers exited and the output channel is closed.
func (p *Pool[E, D]) Spawn() bool {
	p.mx.Lock()
	defer p.mx.Unlock()
	if p.g == nil || p.closed {
		return false
	}
	p.spawn()
	return true
}

// spawn must be called with mx held.
func (p *Pool[E, D]) spawn() {
	p.active++
	p.workers.Add(1)
	ctx, src, mapped := p.ctx, p.src, p.mapped
	p.g.Go(func() error {
		p.work(ctx, src, mapped)
		p.exit()
		return nil
	})
}

func (p *Pool[E, D]) exit() {
	p.mx.Lock()
	defer p.mx.Unlock()
	p.active--
	if p.active == 0 {
		p.close()
	}
}

// close must be called with mx held.
func (p *Pool[E, D]) close() {
	p.closed = true
	close(p.mapped)
	close(p.done)
}

func (p *Pool[E, D]) work(ctx context.Context, src Source[E], mapped chan<- D) {
	for {
		if ctx.Err() != nil {
			return
		}
		e, ok := src.Next()
		if !ok {
			return
		}
		if p.onStart != nil {
			p.onStart(e)
		}
		mapped <- p.call(ctx, e)
	}
}

func (p *Pool[E, D]) call(ctx context.Context, e E) (d D) {
	if p.onPanic != nil {
		defer func() {
			if r := recover(); r != nil {
				d = p.onPanic(e, r)
			}
		}()
	}
	return p.mapFunc(ctx, e)
}

// Done is closed once all workers of the last Run exited.
func (p *Pool[E, D]) Done() <-chan struct{} {
	p.mx.Lock()
	defer p.mx.Unlock()
	return p.done
}

// Workers returns the number of workers started so far.
func (p *Pool[E, D]) Workers() int {
	return int(p.workers.Load())
}
