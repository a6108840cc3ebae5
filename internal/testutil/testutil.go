// Package testutil provides shared testing utilities for the helpdeck
// project: a disposable PostgreSQL container with the schema applied, and
// deterministic mock model/embedder implementations registered via Genkit.
package testutil

import (
	"context"
	"log/slog"
	"testing"

	"github.com/firebase/genkit/go/genkit"
)

// DiscardLogger returns a slog.Logger that discards all output.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// SetupGenkit initializes a plugin-free Genkit instance for registering
// mock models and embedders.
func SetupGenkit(t *testing.T) *genkit.Genkit {
	t.Helper()
	return genkit.Init(context.Background())
}
