// Copyright 2026 © The Kirox Memory Authors
// SPDX-License-Identifier: Apache-2.0

package vectorstore

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/DeL1215/kirox-memory/pkg/errors"
)

// Manifest declares collection schemas in a YAML file, so operators can pin
// per-collection dimension, metric, and index without code changes.
//
//	collections:
//	  - name: chat_memory
//	    dimension: 512
//	    metric: l2
//	    index: flat
type Manifest struct {
	Collections []Schema `yaml:"collections"`
}

// LoadManifest reads and validates a collection manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest parses a YAML manifest and validates every schema.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	seen := make(map[string]bool, len(m.Collections))
	for i, schema := range m.Collections {
		if schema.Name == "" {
			return nil, errors.New(errors.CodeInvalidQuery,
				fmt.Sprintf("manifest collection %d has no name", i), nil)
		}
		if seen[schema.Name] {
			return nil, errors.New(errors.CodeInvalidQuery,
				fmt.Sprintf("manifest repeats collection %q", schema.Name), nil)
		}
		seen[schema.Name] = true
		if schema.Dimension <= 0 {
			return nil, errors.New(errors.CodeInvalidQuery,
				fmt.Sprintf("collection %q needs a positive dimension", schema.Name), nil)
		}
		switch schema.Metric {
		case "", MetricL2, MetricCosine:
		default:
			return nil, errors.New(errors.CodeInvalidQuery,
				fmt.Sprintf("collection %q has unknown metric %q", schema.Name, schema.Metric), nil)
		}
		switch schema.Index {
		case "", IndexFlat, IndexHNSW:
		default:
			return nil, errors.New(errors.CodeInvalidQuery,
				fmt.Sprintf("collection %q has unknown index %q", schema.Name, schema.Index), nil)
		}
	}
	return &m, nil
}

// Schema returns the manifest schema for name, if declared.
func (m *Manifest) Schema(name string) (Schema, bool) {
	for _, s := range m.Collections {
		if s.Name == name {
			return s, true
		}
	}
	return Schema{}, false
}
