// Copyright 2026 © The Kirox Memory Authors
// SPDX-License-Identifier: Apache-2.0

package vectorstore

import (
	"testing"

	"github.com/DeL1215/kirox-memory/pkg/errors"
)

func TestParseManifest(t *testing.T) {
	data := []byte(`
collections:
  - name: chat_memory
    dimension: 512
    metric: l2
    index: flat
  - name: kb_memory
    dimension: 512
    metric: cosine
`)
	m, err := ParseManifest(data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(m.Collections) != 2 {
		t.Fatalf("got %d collections, want 2", len(m.Collections))
	}

	schema, ok := m.Schema("kb_memory")
	if !ok {
		t.Fatal("kb_memory not found")
	}
	if schema.Metric != MetricCosine || schema.Dimension != 512 {
		t.Errorf("unexpected schema: %+v", schema)
	}
	if _, ok := m.Schema("absent"); ok {
		t.Error("absent collection should not resolve")
	}
}

func TestParseManifestRejectsBadSchemas(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing name", "collections:\n  - dimension: 512\n"},
		{"zero dimension", "collections:\n  - name: a\n"},
		{"duplicate", "collections:\n  - name: a\n    dimension: 4\n  - name: a\n    dimension: 4\n"},
		{"bad metric", "collections:\n  - name: a\n    dimension: 4\n    metric: manhattan\n"},
		{"bad index", "collections:\n  - name: a\n    dimension: 4\n    index: ivf_flat9000\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseManifest([]byte(tt.data)); !errors.IsCode(err, errors.CodeInvalidQuery) {
				t.Errorf("expected INVALID_QUERY, got %v", err)
			}
		})
	}
}

func TestNewPointIDMonotonic(t *testing.T) {
	prev := NewPointID()
	for i := 0; i < 1000; i++ {
		id := NewPointID()
		if id <= prev {
			t.Fatalf("id %d not greater than %d", id, prev)
		}
		prev = id
	}
}
