package errors_test

import (
	"strings"
	"testing"

	amerrors "github.com/Aman-CERP/metricbench/internal/errors"
	"github.com/Aman-CERP/metricbench/internal/raf"
)

// TestErrorWrapping_RAFOpen verifies a failed RAF open is wrapped with
// enough context to diagnose which path and operation failed.
func TestErrorWrapping_RAFOpen(t *testing.T) {
	_, rawErr := raf.Open("/nonexistent/deeply/nested/path/that/cannot/exist")
	if rawErr == nil {
		t.Skip("expected error opening a RAF at a nonexistent path")
	}

	wrapped := amerrors.IOError("failed to open node RAF", rawErr).
		WithDetail("path", "/nonexistent/deeply/nested/path/that/cannot/exist")

	errMsg := wrapped.Error()
	if !strings.Contains(errMsg, "open node RAF") {
		t.Errorf("wrapped error should mention the failing operation, got: %s", errMsg)
	}
	if wrapped.Details["path"] == "" {
		t.Errorf("wrapped error should carry the failing path as a detail")
	}
	if wrapped.Cause != rawErr {
		t.Errorf("wrapped error should preserve the original cause")
	}
}

// TestErrorWrapping_ValidationDetail verifies validation errors retain
// the offending value as a detail rather than only a generic message.
func TestErrorWrapping_ValidationDetail(t *testing.T) {
	err := amerrors.ValidationError("radius must be non-negative", nil).
		WithDetail("radius", "-1")

	if err.Category != amerrors.CategoryValidation {
		t.Errorf("expected validation category, got: %s", err.Category)
	}
	if err.Details["radius"] != "-1" {
		t.Errorf("expected radius detail to be preserved, got: %v", err.Details)
	}
}
