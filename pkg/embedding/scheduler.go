// Copyright 2026 © The Kirox Memory Authors
// SPDX-License-Identifier: Apache-2.0

package embedding

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/DeL1215/kirox-memory/pkg/errors"
	"github.com/DeL1215/kirox-memory/pkg/telemetry"
)

// SchedulerConfig controls request batching.
type SchedulerConfig struct {
	// BatchSize is the maximum number of requests per engine invocation.
	BatchSize int

	// BatchWindow bounds how long the worker waits to fill a batch after
	// the first request arrives. Zero means drain greedily without waiting.
	BatchWindow time.Duration

	// QueueCapacity bounds the pending-request queue. Submissions beyond
	// it fail fast with OVERLOADED.
	QueueCapacity int

	// MaxTextRunes caps text length before batching; zero uses
	// DefaultMaxTextRunes.
	MaxTextRunes int
}

const (
	defaultBatchSize     = 32
	defaultQueueCapacity = 256
)

// Scheduler serializes access to a single-capacity Engine while giving
// callers the illusion of concurrent embedding. Incoming requests queue on
// a bounded channel; one worker drains up to BatchSize requests or waits up
// to BatchWindow, whichever comes first, then invokes the engine once per
// drained batch.
type Scheduler struct {
	engine  Engine
	cfg     SchedulerConfig
	queue   chan *embedReq
	done    chan struct{}
	logger  *slog.Logger
	metrics *telemetry.PipelineMetrics

	mu      sync.RWMutex
	closed  bool
	started bool
}

type embedReq struct {
	id        string
	text      string
	result    chan embedResult
	abandoned atomic.Bool
}

type embedResult struct {
	vector []float32
	err    error
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithLogger sets the scheduler's logger.
func WithLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics attaches pipeline metrics.
func WithMetrics(m *telemetry.PipelineMetrics) SchedulerOption {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// NewScheduler creates a Scheduler for engine. Call Start before submitting
// from production code paths; requests submitted earlier queue up.
func NewScheduler(engine Engine, cfg SchedulerConfig, opts ...SchedulerOption) *Scheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = defaultQueueCapacity
	}
	s := &Scheduler{
		engine: engine,
		cfg:    cfg,
		queue:  make(chan *embedReq, cfg.QueueCapacity),
		done:   make(chan struct{}),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the worker goroutine. Starting twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closed {
		return
	}
	s.started = true
	go s.run()
}

// Close stops accepting submissions, drains queued requests, and waits for
// the worker to exit.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	started := s.started
	close(s.queue)
	s.mu.Unlock()
	if started {
		<-s.done
	}
}

// QueueDepth reports the number of requests waiting to be batched.
func (s *Scheduler) QueueDepth() int {
	return len(s.queue)
}

// Submit embeds one text, blocking until the batched result arrives or ctx
// ends. A full queue fails fast with OVERLOADED. Context expiry returns
// TIMEOUT and best-effort abandons the request before it is batched;
// requests already coalesced into a batch run to completion, which is safe
// because all downstream writes are id-keyed.
func (s *Scheduler) Submit(ctx context.Context, text string) ([]float32, error) {
	normalized, err := NormalizeText(text, s.cfg.MaxTextRunes)
	if err != nil {
		// Rejected before batching: a bad input never poisons a batch.
		return nil, err
	}

	req := &embedReq{
		id:     uuid.NewString(),
		text:   normalized,
		result: make(chan embedResult, 1),
	}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, errors.New(errors.CodeOverloaded, "scheduler is closed", nil)
	}
	select {
	case s.queue <- req:
		s.mu.RUnlock()
	default:
		s.mu.RUnlock()
		s.metrics.RecordEmbedRequest(ctx, string(errors.CodeOverloaded))
		return nil, errors.New(errors.CodeOverloaded, "embedding queue is full", nil).
			WithContext("queue_capacity", s.cfg.QueueCapacity)
	}
	s.metrics.RecordQueueDepth(ctx, len(s.queue))

	select {
	case res := <-req.result:
		s.metrics.RecordEmbedRequest(ctx, string(errors.CodeOf(res.err)))
		return res.vector, res.err
	case <-ctx.Done():
		req.abandoned.Store(true)
		s.metrics.RecordEmbedRequest(ctx, string(errors.CodeTimeout))
		return nil, errors.New(errors.CodeTimeout, "embedding wait exceeded", ctx.Err()).
			WithContext("request_id", req.id)
	}
}

func (s *Scheduler) run() {
	defer close(s.done)
	for {
		req, ok := <-s.queue
		if !ok {
			return
		}
		s.process(s.collect(req))
	}
}

// collect drains the queue into a batch: up to BatchSize requests, waiting
// at most BatchWindow after the first. Either bound flushes the batch.
func (s *Scheduler) collect(first *embedReq) []*embedReq {
	batch := []*embedReq{first}
	if s.cfg.BatchSize == 1 {
		return batch
	}

	var window <-chan time.Time
	if s.cfg.BatchWindow > 0 {
		timer := time.NewTimer(s.cfg.BatchWindow)
		defer timer.Stop()
		window = timer.C
	}

	for len(batch) < s.cfg.BatchSize {
		if window == nil {
			select {
			case req, ok := <-s.queue:
				if !ok {
					return batch
				}
				batch = append(batch, req)
			default:
				return batch
			}
		} else {
			select {
			case req, ok := <-s.queue:
				if !ok {
					return batch
				}
				batch = append(batch, req)
			case <-window:
				return batch
			}
		}
	}
	return batch
}

func (s *Scheduler) process(batch []*embedReq) {
	live := batch[:0:0]
	for _, req := range batch {
		if !req.abandoned.Load() {
			live = append(live, req)
		}
	}
	if len(live) == 0 {
		return
	}

	texts := make([]string, len(live))
	for i, req := range live {
		texts[i] = req.text
	}

	ctx := context.Background()
	s.metrics.RecordBatch(ctx, len(live))

	vectors, err := s.engine.EmbedBatch(ctx, texts)
	if err != nil {
		// The whole batch fails; the scheduler never retries on its own.
		failure := errors.New(errors.CodeEngineUnavailable, "embedding engine failed", err).
			WithContext("batch_size", len(live))
		s.logger.Error("embedding batch failed", "error", err, "batch_size", len(live))
		for _, req := range live {
			req.result <- embedResult{err: failure}
		}
		return
	}
	if len(vectors) != len(live) {
		failure := errors.New(errors.CodeEngineUnavailable, "engine returned misaligned batch", nil).
			WithContext("want", len(live)).
			WithContext("got", len(vectors))
		for _, req := range live {
			req.result <- embedResult{err: failure}
		}
		return
	}

	for i, req := range live {
		req.result <- embedResult{vector: vectors[i]}
	}
}
