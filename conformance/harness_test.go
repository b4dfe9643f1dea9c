// Package conformance provides conformance tests for the listing service.
package conformance

import (
	"testing"
)

// TestConformance runs the full conformance suite against an in-process
// service stack.
func TestConformance(t *testing.T) {
	harness, err := NewHarness(Config{
		JWTIssuer:   "test-issuer",
		JWTAudience: "test-audience",
		BlobDir:     t.TempDir(),
	})
	if err != nil {
		t.Fatalf("failed to create harness: %v", err)
	}
	defer harness.Close()

	harness.RunConformanceTests(t)
}
