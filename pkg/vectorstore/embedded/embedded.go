// Copyright 2026 © The Kirox Memory Authors
// SPDX-License-Identifier: Apache-2.0

// Package embedded provides an in-process vector store backend with exact
// nearest-neighbor search. It implements the same buffered-insert contract
// as the server backends: inserts become searchable only after a flush.
package embedded

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/DeL1215/kirox-memory/pkg/errors"
	"github.com/DeL1215/kirox-memory/pkg/vectorstore"
)

// Store is an embedded vectorstore.Backend. Safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	cols map[string]*collection
}

type collection struct {
	schema  vectorstore.Schema
	visible []vectorstore.Point // insertion order, drives tie-breaking
	buffer  []vectorstore.Point
}

// New creates an empty embedded store.
func New() *Store {
	return &Store{cols: make(map[string]*collection)}
}

// SupportsFilteredSearch reports native filter support.
func (s *Store) SupportsFilteredSearch() bool { return true }

// EnsureCollection creates the collection if absent; an existing collection
// with a different dimension or metric is SCHEMA_MISMATCH.
func (s *Store) EnsureCollection(_ context.Context, schema vectorstore.Schema) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if col, ok := s.cols[schema.Name]; ok {
		if col.schema.Dimension != schema.Dimension || col.schema.Metric != schema.Metric {
			return errors.New(errors.CodeSchemaMismatch,
				fmt.Sprintf("collection %q exists with dimension %d metric %s, requested dimension %d metric %s",
					schema.Name, col.schema.Dimension, col.schema.Metric, schema.Dimension, schema.Metric), nil)
		}
		return nil
	}
	s.cols[schema.Name] = &collection{schema: schema}
	return nil
}

// Insert buffers a point. Re-inserting an existing id replaces it, so a
// duplicated underlying insert stays idempotent at the data level.
func (s *Store) Insert(_ context.Context, name string, point vectorstore.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	col, err := s.collectionLocked(name)
	if err != nil {
		return err
	}
	if len(point.Vector) != col.schema.Dimension {
		return errors.New(errors.CodeSchemaMismatch,
			fmt.Sprintf("vector length %d does not match collection dimension %d", len(point.Vector), col.schema.Dimension), nil).
			WithContext("collection", name)
	}

	point.Vector = append([]float32(nil), point.Vector...)
	removeByID(&col.buffer, point.ID)
	removeByID(&col.visible, point.ID)
	col.buffer = append(col.buffer, point)
	return nil
}

// Search scans visible points. Results are ascending by distance; equal
// distances keep insertion order so repeated queries are deterministic.
func (s *Store) Search(_ context.Context, name string, vector []float32, topK int, filter vectorstore.Filter) ([]vectorstore.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col, err := s.collectionLocked(name)
	if err != nil {
		return nil, err
	}
	if len(vector) != col.schema.Dimension {
		return nil, errors.New(errors.CodeInvalidQuery,
			fmt.Sprintf("query vector length %d does not match collection dimension %d", len(vector), col.schema.Dimension), nil).
			WithContext("collection", name)
	}
	if topK <= 0 {
		return nil, errors.New(errors.CodeInvalidQuery, "top_k must be a positive integer", nil)
	}

	type scored struct {
		point    vectorstore.Point
		distance float32
		order    int
	}
	var hits []scored
	for i, p := range col.visible {
		if !matches(p, filter) {
			continue
		}
		hits = append(hits, scored{
			point:    p,
			distance: distance(col.schema.Metric, vector, p.Vector),
			order:    i,
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].distance != hits[j].distance {
			return hits[i].distance < hits[j].distance
		}
		return hits[i].order < hits[j].order
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}

	results := make([]vectorstore.SearchResult, len(hits))
	for i, h := range hits {
		results[i] = vectorstore.SearchResult{Point: h.point, Distance: h.distance}
	}
	return results, nil
}

// Delete removes a point from both the buffer and the visible set, so a
// delete is never undone by a later flush of an earlier insert.
func (s *Store) Delete(_ context.Context, name string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	col, err := s.collectionLocked(name)
	if err != nil {
		return err
	}
	removeByID(&col.buffer, id)
	removeByID(&col.visible, id)
	return nil
}

// Flush moves buffered points into the visible set in insertion order.
func (s *Store) Flush(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	col, err := s.collectionLocked(name)
	if err != nil {
		return err
	}
	col.visible = append(col.visible, col.buffer...)
	col.buffer = nil
	return nil
}

func (s *Store) collectionLocked(name string) (*collection, error) {
	col, ok := s.cols[name]
	if !ok {
		return nil, errors.New(errors.CodeInvalidQuery, "collection does not exist", nil).
			WithContext("collection", name)
	}
	return col, nil
}

func removeByID(points *[]vectorstore.Point, id int64) {
	for i, p := range *points {
		if p.ID == id {
			*points = append((*points)[:i], (*points)[i+1:]...)
			return
		}
	}
}

func matches(p vectorstore.Point, filter vectorstore.Filter) bool {
	for k, want := range filter {
		got, ok := p.Payload[k].(string)
		if !ok || got != want {
			return false
		}
	}
	return true
}

func distance(metric vectorstore.Metric, a, b []float32) float32 {
	switch metric {
	case vectorstore.MetricCosine:
		return cosineDistance(a, b)
	default:
		return l2Squared(a, b)
	}
}

func l2Squared(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func cosineDistance(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return float32(1 - dot/(math.Sqrt(na)*math.Sqrt(nb)))
}
