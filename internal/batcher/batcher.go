// Package batcher gathers concurrently submitted requests into model batches.
package batcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/samcharles93/seqstate/internal/backend"
	"github.com/samcharles93/seqstate/internal/logger"
)

var ErrClosed = errors.New("batcher closed")

type Config struct {
	// MaxBatchSize caps the number of items (not requests) per Execute call.
	MaxBatchSize int
	// MaxQueueDelay is how long the first request of a batch may wait for
	// others. Zero executes every request on its own.
	MaxQueueDelay time.Duration
}

// Batcher owns a single collector goroutine that feeds one model. Responses
// are matched to submitters through the one-to-one Execute contract, so each
// caller sees requests complete in submission order.
type Batcher struct {
	model backend.Model
	cfg   Config
	log   logger.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan *pending
	done   chan struct{}
}

type pending struct {
	ctx  context.Context
	req  *backend.InferenceRequest
	size int
	resp chan *backend.InferenceResponse
}

func New(model backend.Model, cfg Config, log logger.Logger) *Batcher {
	cfg.MaxBatchSize = max(cfg.MaxBatchSize, 1)
	if log == nil {
		log = logger.Discard()
	}
	b := &Batcher{
		model: model,
		cfg:   cfg,
		log:   log,
		queue: make(chan *pending, cfg.MaxBatchSize),
		done:  make(chan struct{}),
	}
	go b.run()
	return b
}

// Submit queues req and waits for its response. A request whose ctx ends
// before its batch starts is dropped without touching sequence state.
func (b *Batcher) Submit(ctx context.Context, req *backend.InferenceRequest) (*backend.InferenceResponse, error) {
	p := &pending{
		ctx:  ctx,
		req:  req,
		size: req.BatchSize(),
		resp: make(chan *backend.InferenceResponse, 1),
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, ErrClosed
	}
	select {
	case b.queue <- p:
		b.mu.RUnlock()
	case <-ctx.Done():
		b.mu.RUnlock()
		return nil, ctx.Err()
	}

	select {
	case resp := <-p.resp:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting requests, executes everything already queued and
// waits for the collector to exit.
func (b *Batcher) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		<-b.done
		return
	}
	b.closed = true
	close(b.queue)
	b.mu.Unlock()
	<-b.done
}

func (b *Batcher) run() {
	defer close(b.done)
	var carry *pending
	for {
		first := carry
		carry = nil
		if first == nil {
			p, ok := <-b.queue
			if !ok {
				return
			}
			first = p
		}
		batch, next := b.gather(first)
		carry = next
		b.execute(batch)
	}
}

// gather collects requests behind first until the batch is full or the queue
// delay expires. A request that would overflow the batch is returned for the
// next one.
func (b *Batcher) gather(first *pending) ([]*pending, *pending) {
	batch := []*pending{first}
	if b.cfg.MaxQueueDelay <= 0 {
		return batch, nil
	}
	size := first.size
	timer := time.NewTimer(b.cfg.MaxQueueDelay)
	defer timer.Stop()
	for size < b.cfg.MaxBatchSize {
		select {
		case p, ok := <-b.queue:
			if !ok {
				return batch, nil
			}
			if size+p.size > b.cfg.MaxBatchSize {
				return batch, p
			}
			batch = append(batch, p)
			size += p.size
		case <-timer.C:
			return batch, nil
		}
	}
	return batch, nil
}

func (b *Batcher) execute(batch []*pending) {
	live := batch[:0]
	for _, p := range batch {
		if p.ctx.Err() != nil {
			continue
		}
		live = append(live, p)
	}
	if len(live) == 0 {
		return
	}

	reqs := make([]*backend.InferenceRequest, len(live))
	items := 0
	for i, p := range live {
		reqs[i] = p.req
		items += p.size
	}
	b.log.Debug("dispatching batch", "requests", len(reqs), "items", items)

	ctx := logger.WithContext(context.Background(), b.log)
	responses := b.model.Execute(ctx, reqs)
	if len(responses) != len(reqs) {
		err := fmt.Errorf("model returned %d responses for %d requests", len(responses), len(reqs))
		b.log.Error("batch failed", "error", err)
		for _, p := range live {
			p.resp <- &backend.InferenceResponse{ID: p.req.ID, Error: err.Error()}
		}
		return
	}
	for i, p := range live {
		p.resp <- responses[i]
	}
}
