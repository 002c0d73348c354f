package result

import (
	"testing"

	"github.com/animus-labs/modelharness/internal/domain"
)

func TestAssemble_InitialValuesSurviveWhenNothingWritten(t *testing.T) {
	got := Assemble(Input{
		DocumentPorts: map[string]string{"d1": "a"},
		InitialPorts:  map[string]any{"a": "1"},
		Status:        domain.ExecutionStatus{State: domain.StateSucceeded},
	})
	if got.Documents["a"] != "1" {
		t.Fatalf("Documents[a]=%v, want 1", got.Documents["a"])
	}
	if got.ModelError != nil {
		t.Fatalf("ModelError=%v, want nil", got.ModelError)
	}
}

func TestAssemble_StoredDocumentsOverwriteByPortName(t *testing.T) {
	initial := map[string]any{"x": 5, "y": "keep"}
	got := Assemble(Input{
		DocumentPorts: map[string]string{"d1": "x", "d2": "z"},
		Documents:     map[string]any{"d1": float64(10), "d2": "new", "stray": "ignored"},
		InitialPorts:  initial,
		Status:        domain.ExecutionStatus{State: domain.StateSucceeded},
	})
	if got.Documents["x"] != float64(10) || got.Documents["y"] != "keep" || got.Documents["z"] != "new" {
		t.Fatalf("Documents=%v", got.Documents)
	}
	if _, ok := got.Documents["stray"]; ok {
		t.Fatalf("unmapped document leaked into result")
	}
	if len(got.Documents) != 3 {
		t.Fatalf("Documents=%v, want 3 entries", got.Documents)
	}
	if initial["x"] != 5 {
		t.Fatalf("caller inputs mutated: %v", initial)
	}
}

func TestAssemble_FailedStatusCarriesModelError(t *testing.T) {
	got := Assemble(Input{
		DocumentPorts: map[string]string{"d1": "out"},
		Documents:     map[string]any{"d1": "partial"},
		Status:        domain.ExecutionStatus{State: domain.StateFailed, Exception: domain.ErrorDetail{"msg": "boom"}},
	})
	if got.ModelError == nil || got.ModelError.Detail["msg"] != "boom" {
		t.Fatalf("ModelError=%v", got.ModelError)
	}
	if got.Documents["out"] != "partial" {
		t.Fatalf("stored documents must be kept on failure: %v", got.Documents)
	}
}

func TestAssemble_EmptyInput(t *testing.T) {
	got := Assemble(Input{})
	if got.Documents == nil || len(got.Documents) != 0 {
		t.Fatalf("Documents=%v, want empty map", got.Documents)
	}
}
