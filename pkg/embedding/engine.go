// Copyright 2026 © The Kirox Memory Authors
// SPDX-License-Identifier: Apache-2.0

// Package embedding turns raw text into fixed-dimension vectors. The Engine
// wraps a backing model as an inference black box; the Scheduler serializes
// access to it while batching concurrent requests.
package embedding

import (
	"context"
	"strings"

	"github.com/DeL1215/kirox-memory/pkg/errors"
)

// Engine computes embeddings for batches of text.
//
// Implementations are not required to be safe for concurrent invocation:
// the engine may hold an exclusive hardware context, and only the
// Scheduler's worker calls it directly. Output is index-aligned with the
// input and deterministic for identical input.
type Engine interface {
	// EmbedBatch embeds texts in order. The result has one vector per
	// input text, each of exactly Dimension() length.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the fixed output vector length.
	Dimension() int
}

// DefaultMaxTextRunes caps text length passed to the engine. Longer texts
// keep their leading content; the tail past the cutoff is dropped.
const DefaultMaxTextRunes = 8192

// NormalizeText trims surrounding whitespace and truncates to maxRunes
// (DefaultMaxTextRunes when maxRunes <= 0). Text that is empty after
// normalization is a caller bug and fails with INVALID_QUERY.
func NormalizeText(text string, maxRunes int) (string, error) {
	if maxRunes <= 0 {
		maxRunes = DefaultMaxTextRunes
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New(errors.CodeInvalidQuery, "text is empty after normalization", nil)
	}
	runes := []rune(text)
	if len(runes) > maxRunes {
		text = string(runes[:maxRunes])
	}
	return text, nil
}
