// Package mock provides a test double for ai.Embedder.
//
// The mock lets tests run without an embedding server and gives controlled,
// deterministic behavior.
//
// # Usage in Tests
//
//	// Basic usage with default behavior
//	embedder := mock.NewMockEmbedder()
//	vectors, err := embedder.EmbedTexts(ctx, []string{"a", "b"})
//
//	// Custom behavior injection
//	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
//	    return nil, errors.New("service unavailable")
//	}
//
//	// Check call counts
//	count := embedder.CallCount()
//
// The default vectors are unit length and derived from an FNV hash of the
// text, so equal texts always embed identically.
package mock
