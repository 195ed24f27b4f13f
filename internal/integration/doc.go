// Package integration provides cross-package integration tests for orchestra.
// These tests verify that the engine, the sqlite store, the agent file and
// the HTTP API work correctly together across package boundaries.
//
// Build tag: integration
// Run with: go test -tags integration ./internal/integration/...
package integration
