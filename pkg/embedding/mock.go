// Copyright 2026 © The Kirox Memory Authors
// SPDX-License-Identifier: Apache-2.0

package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"
)

// MockEngine is a deterministic in-process Engine for tests and for
// deployments that need the pipeline without a model server. Each text maps
// to an L2-normalized bag-of-tokens vector: identical texts produce
// identical vectors, and texts sharing tokens land closer together than
// unrelated texts.
type MockEngine struct {
	dimension int

	mu      sync.Mutex
	calls   int
	batches [][]string
	fail    error
}

// NewMockEngine creates a MockEngine with the given output dimension.
func NewMockEngine(dimension int) *MockEngine {
	return &MockEngine{dimension: dimension}
}

// Dimension returns the configured output vector length.
func (e *MockEngine) Dimension() int {
	return e.dimension
}

// Fail makes every subsequent EmbedBatch return err; nil restores normal
// operation.
func (e *MockEngine) Fail(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fail = err
}

// Calls returns how many times EmbedBatch has been invoked.
func (e *MockEngine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Batches returns the texts of every EmbedBatch invocation, in call order.
func (e *MockEngine) Batches() [][]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][]string, len(e.batches))
	copy(out, e.batches)
	return out
}

// EmbedBatch embeds texts deterministically.
func (e *MockEngine) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	recorded := make([]string, len(texts))
	copy(recorded, texts)
	e.batches = append(e.batches, recorded)
	fail := e.fail
	e.mu.Unlock()

	if fail != nil {
		return nil, fail
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = e.embedOne(text)
	}
	return vectors, nil
}

func (e *MockEngine) embedOne(text string) []float32 {
	vec := make([]float32, e.dimension)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, tok := range tokens {
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()
		bucket := int(sum % uint64(e.dimension))
		// Sign from a high bit keeps buckets from only accumulating.
		if sum&(1<<63) != 0 {
			vec[bucket] -= 1
		} else {
			vec[bucket] += 1
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		// Tokenless text still gets a stable non-zero vector.
		h := fnv.New64a()
		h.Write([]byte(text))
		vec[int(h.Sum64()%uint64(e.dimension))] = 1
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
