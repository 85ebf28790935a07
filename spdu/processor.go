package spdu

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"xdao.co/v2xsec/executor"
	"xdao.co/v2xsec/model"
)

// WorkItem is one received SPDU queued for processing.
type WorkItem struct {
	ID      uuid.UUID
	Raw     []byte
	Psid    model.Psid
	RxTime  model.Time64
	Options ProcessOptions
}

// Handler receives every result. It is called from the result stage, or
// from the goroutine calling Flush for discarded items, never concurrently.
type Handler func(WorkItem, Result)

// ProcessorOptions configures a Processor.
type ProcessorOptions struct {
	Workers    int `yaml:"workers"`
	QueueDepth int `yaml:"queue_depth"`
}

const (
	DefaultWorkers    = 4
	DefaultQueueDepth = 128
)

type inflight struct {
	item   WorkItem
	job    *job
	future *executor.Future
}

// Processor runs the pipeline over queued work items. Workers resolve the
// signer and start verification; a single wait stage collects outstanding
// verifications and runs the locked checks; a single result stage delivers
// results in completion order. No ordering holds between items handled by
// different workers.
type Processor struct {
	sc      *SecurityContext
	handler Handler
	log     *logrus.Logger

	requests chan WorkItem
	wait     chan *inflight
	results  chan *inflight

	mu          sync.Mutex
	closed      bool
	outstanding int
	idle        chan struct{}
	handlerMu   sync.Mutex
	g           *errgroup.Group
	cancel      context.CancelFunc
}

// NewProcessor starts the stages. Close must be called to stop them.
func NewProcessor(sc *SecurityContext, handler Handler, opts ProcessorOptions) *Processor {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = DefaultQueueDepth
	}
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	p := &Processor{
		sc:       sc,
		handler:  handler,
		log:      sc.log,
		requests: make(chan WorkItem, opts.QueueDepth),
		wait:     make(chan *inflight, opts.QueueDepth),
		results:  make(chan *inflight, opts.QueueDepth),
		g:        g,
		cancel:   cancel,
	}

	var workers sync.WaitGroup
	for i := 0; i < opts.Workers; i++ {
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			p.work(ctx)
			return nil
		})
	}
	g.Go(func() error {
		workers.Wait()
		close(p.wait)
		return nil
	})
	g.Go(func() error {
		defer close(p.results)
		p.awaitStage(ctx)
		return nil
	})
	g.Go(func() error {
		p.resultStage()
		return nil
	})
	p.log.WithFields(logrus.Fields{"workers": opts.Workers, "queue_depth": opts.QueueDepth}).Info("spdu: processor started")
	return p
}

// Submit queues an SPDU and returns its id. It fails with ErrQueueFull
// instead of blocking.
func (p *Processor) Submit(raw []byte, psid model.Psid, rxTime model.Time64, opts ProcessOptions) (uuid.UUID, error) {
	item := WorkItem{ID: uuid.New(), Raw: raw, Psid: psid, RxTime: rxTime, Options: opts}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return uuid.Nil, model.NewError(model.ErrUnavailable, "spdu: processor closed")
	}
	select {
	case p.requests <- item:
		if p.outstanding == 0 {
			p.idle = make(chan struct{})
		}
		p.outstanding++
		return item.ID, nil
	default:
		return uuid.Nil, model.NewError(model.ErrQueueFull, "spdu: request queue full")
	}
}

func (p *Processor) work(ctx context.Context) {
	for item := range p.requests {
		j := p.sc.newJob(item.Raw, item.Psid, item.RxTime, item.Options)
		in := &inflight{item: item, job: j}
		if p.sc.resolve(j) != nil || p.sc.prepareKey(ctx, j) != nil {
			p.results <- in
			continue
		}
		in.future = p.sc.verifyAsync(ctx, j)
		p.wait <- in
	}
}

func (p *Processor) awaitStage(ctx context.Context) {
	for in := range p.wait {
		err := in.future.Wait(ctx)
		p.sc.finish(in.job, err)
		p.results <- in
	}
}

func (p *Processor) resultStage() {
	for in := range p.results {
		r := p.sc.done(in.job)
		p.deliver(in.item, r)
	}
}

func (p *Processor) deliver(item WorkItem, r Result) {
	p.handlerMu.Lock()
	if p.handler != nil {
		p.handler(item, r)
	}
	p.handlerMu.Unlock()

	p.mu.Lock()
	p.outstanding--
	if p.outstanding == 0 {
		close(p.idle)
		p.idle = nil
	}
	p.mu.Unlock()
}

// Drain blocks until every submitted item has been delivered to the handler
// or ctx is done.
func (p *Processor) Drain(ctx context.Context) error {
	p.mu.Lock()
	idle := p.idle
	p.mu.Unlock()
	if idle == nil {
		return nil
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush drains every queue, discarding queued work. Each discarded item is
// reported to the handler with ErrQueueFlushed. It returns the number of
// items discarded. Items a stage already holds complete normally.
func (p *Processor) Flush() int {
	n := 0
	discard := func(item WorkItem) {
		n++
		p.deliver(item, Result{State: StateFailed, Err: model.NewError(model.ErrQueueFlushed, "spdu: flushed")})
	}
	drain(p.requests, discard)
	drain(p.wait, func(in *inflight) { discard(in.item) })
	drain(p.results, func(in *inflight) { discard(in.item) })
	if n > 0 {
		p.log.WithField("discarded", n).Warn("spdu: queues flushed")
	}
	return n
}

// Close flushes the queues, stops every stage and waits for them.
func (p *Processor) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.requests)
	p.mu.Unlock()

	p.Flush()
	err := p.g.Wait()
	p.cancel()
	p.log.Info("spdu: processor stopped")
	return err
}

// drain empties ch without blocking.
func drain[T any](ch chan T, f func(T)) {
	for {
		select {
		case v, ok := <-ch:
			if !ok {
				return
			}
			f(v)
		default:
			return
		}
	}
}
