// SPDX-License-Identifier: Apache-2.0
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := New(CodeEngineUnavailable, "embedding backend unreachable", cause)

	if !strings.Contains(err.Error(), "ENGINE_UNAVAILABLE") {
		t.Errorf("expected code in message, got %q", err.Error())
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("expected cause in message, got %q", err.Error())
	}
	if !stderrors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, ""},
		{"typed", New(CodeOverloaded, "queue full", nil), CodeOverloaded},
		{"wrapped", fmt.Errorf("submit: %w", New(CodeTimeout, "wait exceeded", nil)), CodeTimeout},
		{"plain", stderrors.New("boom"), CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsCodeThroughChain(t *testing.T) {
	err := fmt.Errorf("add chat: %w", New(CodeSchemaMismatch, "dimension differs", nil))
	if !IsCode(err, CodeSchemaMismatch) {
		t.Error("expected IsCode to match through wrap chain")
	}
	if IsCode(err, CodeNotFound) {
		t.Error("unexpected match for unrelated code")
	}
}

func TestStatusCodes(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{CodeInvalidQuery, 400},
		{CodeNotFound, 404},
		{CodeTimeout, 408},
		{CodeSchemaMismatch, 409},
		{CodeOverloaded, 429},
		{CodeEngineUnavailable, 503},
		{CodeInternal, 500},
	}
	for _, tt := range tests {
		if got := New(tt.code, "x", nil).StatusCode; got != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestRecoverableDefaults(t *testing.T) {
	if !New(CodeOverloaded, "x", nil).Recoverable {
		t.Error("overloaded should default recoverable")
	}
	if New(CodeSchemaMismatch, "x", nil).Recoverable {
		t.Error("schema mismatch should not default recoverable")
	}
}

func TestMarshalJSON(t *testing.T) {
	err := New(CodeInvalidQuery, "top_k must be positive", nil).WithContext("top_k", -1)
	data, jerr := json.Marshal(err)
	if jerr != nil {
		t.Fatalf("marshal failed: %v", jerr)
	}
	var out map[string]interface{}
	if jerr := json.Unmarshal(data, &out); jerr != nil {
		t.Fatalf("unmarshal failed: %v", jerr)
	}
	if out["code"] != "INVALID_QUERY" {
		t.Errorf("code = %v", out["code"])
	}
	if _, ok := out["context"]; !ok {
		t.Error("expected context in JSON output")
	}
}

func TestAsMemoryErrorWrapsUnknown(t *testing.T) {
	me := AsMemoryError(stderrors.New("boom"))
	if me.Code != CodeInternal {
		t.Errorf("expected INTERNAL_ERROR, got %s", me.Code)
	}
	if AsMemoryError(nil) != nil {
		t.Error("expected nil for nil input")
	}
}
