// Copyright 2026 © The Kirox Memory Authors
// SPDX-License-Identifier: Apache-2.0

package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DeL1215/kirox-memory/pkg/errors"
	"github.com/DeL1215/kirox-memory/pkg/telemetry"
)

// DefaultFlushInterval bounds write-visibility staleness: a buffered insert
// becomes searchable at most one interval after it landed.
const DefaultFlushInterval = 30 * time.Second

// Manager owns collection lifecycle on a Backend and runs the periodic
// background flush, decoupled from request handling. It validates vector
// dimensions against the registered schemas so a mismatch is a hard error
// and never silently padded or truncated.
type Manager struct {
	backend  Backend
	interval time.Duration
	logger   *slog.Logger
	metrics  *telemetry.PipelineMetrics

	mu      sync.RWMutex
	schemas map[string]Schema
	started bool
	closed  bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithFlushInterval overrides the background flush interval.
func WithFlushInterval(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithManagerLogger sets the manager's logger.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithManagerMetrics attaches pipeline metrics.
func WithManagerMetrics(metrics *telemetry.PipelineMetrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// NewManager creates a Manager over backend. Call Start to begin the
// background flush loop.
func NewManager(backend Backend, opts ...ManagerOption) *Manager {
	m := &Manager{
		backend:  backend,
		interval: DefaultFlushInterval,
		logger:   slog.Default(),
		schemas:  make(map[string]Schema),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EnsureCollection idempotently brings up a collection with the given
// schema and registers it for background flushing. Concurrent bring-up
// across processes is safe: "already exists with matching schema" is
// success, an incompatible existing schema is SCHEMA_MISMATCH.
func (m *Manager) EnsureCollection(ctx context.Context, schema Schema) error {
	if schema.Name == "" {
		return errors.New(errors.CodeInvalidQuery, "collection name is required", nil)
	}
	if schema.Dimension <= 0 {
		return errors.New(errors.CodeInvalidQuery, "collection dimension must be positive", nil).
			WithContext("collection", schema.Name)
	}
	if schema.Metric == "" {
		schema.Metric = MetricL2
	}
	if schema.Index == "" {
		schema.Index = IndexFlat
	}

	if err := m.backend.EnsureCollection(ctx, schema); err != nil {
		return err
	}

	m.mu.Lock()
	m.schemas[schema.Name] = schema
	m.mu.Unlock()

	m.logger.Info("collection ready",
		"collection", schema.Name,
		"dimension", schema.Dimension,
		"metric", string(schema.Metric),
		"index", string(schema.Index))
	return nil
}

// Schema returns the registered schema for a collection.
func (m *Manager) Schema(collection string) (Schema, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.schemas[collection]
	return s, ok
}

// SupportsFilteredSearch reports whether the backend applies filters
// natively during search.
func (m *Manager) SupportsFilteredSearch() bool {
	if fc, ok := m.backend.(FilterCapable); ok {
		return fc.SupportsFilteredSearch()
	}
	return false
}

// Insert appends one point. The point becomes searchable at the next flush
// boundary unless ForceFlush is called first.
func (m *Manager) Insert(ctx context.Context, collection string, point Point) error {
	schema, ok := m.Schema(collection)
	if !ok {
		return errors.New(errors.CodeInvalidQuery, "collection is not registered", nil).
			WithContext("collection", collection)
	}
	if len(point.Vector) != schema.Dimension {
		return errors.New(errors.CodeSchemaMismatch,
			fmt.Sprintf("vector length %d does not match collection dimension %d", len(point.Vector), schema.Dimension), nil).
			WithContext("collection", collection)
	}
	if err := m.backend.Insert(ctx, collection, point); err != nil {
		return err
	}
	m.metrics.RecordInsert(ctx, collection)
	return nil
}

// Search returns up to topK nearest points, ascending distance.
func (m *Manager) Search(ctx context.Context, collection string, vector []float32, topK int, filter Filter) ([]SearchResult, error) {
	schema, ok := m.Schema(collection)
	if !ok {
		return nil, errors.New(errors.CodeInvalidQuery, "collection is not registered", nil).
			WithContext("collection", collection)
	}
	if topK <= 0 {
		return nil, errors.New(errors.CodeInvalidQuery, "top_k must be a positive integer", nil).
			WithContext("top_k", topK)
	}
	if len(vector) != schema.Dimension {
		return nil, errors.New(errors.CodeInvalidQuery,
			fmt.Sprintf("query vector length %d does not match collection dimension %d", len(vector), schema.Dimension), nil).
			WithContext("collection", collection)
	}

	start := time.Now()
	results, err := m.backend.Search(ctx, collection, vector, topK, filter)
	if err != nil {
		return nil, err
	}
	m.metrics.RecordSearch(ctx, collection, time.Since(start))
	return results, nil
}

// scopedOverfetch widens unfiltered searches so post-filtering on the
// payload still fills topK.
const (
	scopedOverfetchFactor = 4
	scopedOverfetchFloor  = 32
)

// SearchScoped is Search restricted to points matching filter. Backends
// with native filter support apply it during the scan; otherwise the
// search over-fetches and the filter is applied to payloads here.
func (m *Manager) SearchScoped(ctx context.Context, collection string, vector []float32, topK int, filter Filter) ([]SearchResult, error) {
	if len(filter) == 0 || m.SupportsFilteredSearch() {
		return m.Search(ctx, collection, vector, topK, filter)
	}

	fetch := topK * scopedOverfetchFactor
	if fetch < scopedOverfetchFloor {
		fetch = scopedOverfetchFloor
	}
	results, err := m.Search(ctx, collection, vector, fetch, nil)
	if err != nil {
		return nil, err
	}

	kept := results[:0:0]
	for _, r := range results {
		match := true
		for key, want := range filter {
			if got, _ := r.Point.Payload[key].(string); got != want {
				match = false
				break
			}
		}
		if match {
			kept = append(kept, r)
		}
		if len(kept) == topK {
			break
		}
	}
	return kept, nil
}

// Delete removes a point by id. Idempotent: absent ids are not an error.
func (m *Manager) Delete(ctx context.Context, collection string, id int64) error {
	if _, ok := m.Schema(collection); !ok {
		return errors.New(errors.CodeInvalidQuery, "collection is not registered", nil).
			WithContext("collection", collection)
	}
	return m.backend.Delete(ctx, collection, id)
}

// ForceFlush synchronously flushes every registered collection, for
// callers needing read-after-write visibility.
func (m *Manager) ForceFlush(ctx context.Context) error {
	var firstErr error
	for _, name := range m.collectionNames() {
		err := m.backend.Flush(ctx, name)
		m.metrics.RecordFlush(ctx, name, err)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Start launches the periodic flush loop. Starting twice is a no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.closed {
		return
	}
	m.started = true
	go m.flushLoop()
}

// Close stops the flush loop and performs a final flush so no buffered
// insert is lost on shutdown.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	started := m.started
	m.mu.Unlock()

	close(m.stopCh)
	if started {
		<-m.doneCh
	}
	return m.ForceFlush(ctx)
}

func (m *Manager) flushLoop() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.interval)
			for _, name := range m.collectionNames() {
				err := m.backend.Flush(ctx, name)
				m.metrics.RecordFlush(ctx, name, err)
				if err != nil {
					// Keep the loop alive; the next tick retries.
					m.logger.Error("background flush failed", "collection", name, "error", err)
				}
			}
			cancel()
		}
	}
}

func (m *Manager) collectionNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.schemas))
	for name := range m.schemas {
		names = append(names, name)
	}
	return names
}
