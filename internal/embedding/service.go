package embedding

import (
	"fmt"

	"github.com/4xguy/federated-memory-sub003/internal/config"
)

// NewFromConfig builds the process-wide Provider from a Config (spec.md 6):
// an HTTP provider when EMBEDDING_KEY is set, a mock provider when
// EMBEDDING_KEY is empty and ALLOW_MOCK_EMBED=1, and a fatal error
// otherwise (a missing key in production is a fatal startup condition,
// spec.md 6 "Embedding provider").
func NewFromConfig(cfg *config.Config) (Provider, error) {
	fDim := cfg.FDim
	if fDim <= 0 {
		fDim = config.DefaultFDim
	}
	cDim := cfg.CDim
	if cDim <= 0 {
		cDim = config.DefaultCDim
	}

	if cfg.EmbeddingKey == "" {
		if !cfg.AllowMockEmbed {
			return nil, fmt.Errorf("embedding: EMBEDDING_KEY is required (set ALLOW_MOCK_EMBED=1 for test-time mock mode)")
		}
		return NewMock(fDim, cDim), nil
	}

	baseURL := cfg.EmbeddingURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := cfg.EmbeddingModel
	if model == "" {
		model = "text-embedding-3-small"
	}

	full := newHTTPFull(HTTPConfig{BaseURL: baseURL, APIKey: cfg.EmbeddingKey, Model: model, FDim: fDim})
	return NewProjecting(full, cDim, ProjectionSeed), nil
}
