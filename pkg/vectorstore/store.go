// Copyright 2026 © The Kirox Memory Authors
// SPDX-License-Identifier: Apache-2.0

// Package vectorstore manages the lifecycle of vector collections and
// provides insert, nearest-neighbor search, delete, and flush primitives
// over pluggable backends.
package vectorstore

import (
	"context"
	"sync"
	"time"
)

// Metric is a distance metric fixed at collection creation.
type Metric string

const (
	// MetricL2 is squared Euclidean distance; lower is closer.
	MetricL2 Metric = "l2"
	// MetricCosine is cosine distance (1 - cosine similarity).
	MetricCosine Metric = "cosine"
)

// IndexKind selects the index a collection is built with.
type IndexKind string

const (
	IndexFlat IndexKind = "flat"
	IndexHNSW IndexKind = "hnsw"
)

// Schema fixes a collection's shape at creation time. It is never altered
// at runtime; a dimension change requires a new collection.
type Schema struct {
	Name      string    `yaml:"name"`
	Dimension int       `yaml:"dimension"`
	Metric    Metric    `yaml:"metric"`
	Index     IndexKind `yaml:"index"`
}

// Point is one record in a collection: an id-keyed vector plus payload.
type Point struct {
	ID        int64
	Vector    []float32
	Payload   map[string]interface{}
	CreatedAt time.Time
}

// SearchResult is one nearest-neighbor hit, ascending by Distance.
type SearchResult struct {
	Point    Point
	Distance float32
}

// Filter restricts search and delete operations to points whose payload
// fields equal the given string values.
type Filter map[string]string

// Backend is a vector database. Inserts are buffered and become visible to
// Search only after Flush; Delete takes effect on both buffered and visible
// points. All methods must be safe for concurrent use.
type Backend interface {
	// EnsureCollection creates the collection if absent. An existing
	// collection with matching dimension and metric is success; a
	// mismatch fails with SCHEMA_MISMATCH.
	EnsureCollection(ctx context.Context, schema Schema) error

	// Insert buffers one point for the collection. The point is not
	// guaranteed to be queryable until the next flush.
	Insert(ctx context.Context, collection string, point Point) error

	// Search returns up to topK nearest visible points by the collection's
	// metric, ascending distance, ties broken by insertion order.
	Search(ctx context.Context, collection string, vector []float32, topK int, filter Filter) ([]SearchResult, error)

	// Delete removes a point by id from both the buffer and the visible
	// set. Deleting an absent id is not an error.
	Delete(ctx context.Context, collection string, id int64) error

	// Flush makes buffered inserts visible to Search.
	Flush(ctx context.Context, collection string) error
}

// FilterCapable is implemented by backends that apply Filter natively
// during search. Callers using a backend without it must over-fetch and
// post-filter.
type FilterCapable interface {
	SupportsFilteredSearch() bool
}

var (
	idMu   sync.Mutex
	lastID int64
)

// NewPointID returns a unique int64 id derived from the current unix
// millisecond timestamp. Ids generated within the same millisecond are
// bumped to stay strictly increasing.
func NewPointID() int64 {
	idMu.Lock()
	defer idMu.Unlock()
	id := time.Now().UTC().UnixMilli()
	if id <= lastID {
		id = lastID + 1
	}
	lastID = id
	return id
}
