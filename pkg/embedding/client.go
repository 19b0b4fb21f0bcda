// Package embedding defines the contract for external embedding producers.
// The memory engine never computes embeddings itself and never uses them in
// scoring; an Embedder only populates the Record embedding field on store.
package embedding

import "context"

// Embedder turns text into a fixed-size numeric vector.
// Implementations live outside this module (API clients, local models);
// they must be safe for concurrent use.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)
}
