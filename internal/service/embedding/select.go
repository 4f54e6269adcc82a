package embedding

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Select picks a Provider from configuration: an explicit "openai" or
// "ollama" choice, an explicit "noop" to disable embeddings outright, or
// "auto" (the default), which probes for a locally reachable Ollama instance
// before falling back to OpenAI, then to NoopProvider if neither is
// available. Mirrors the on-premises-first auto-detection order used
// elsewhere in the pack for optional LLM backends.
func Select(provider, openAIKey, embeddingModel string, dims int, ollamaURL, ollamaModel string, logger *slog.Logger) Provider {
	switch provider {
	case "openai":
		if openAIKey == "" {
			logger.Error("embedding: OPENAI_API_KEY required when NOEMA_EMBEDDING_PROVIDER=openai")
			return NewNoopProvider(dims)
		}
		logger.Info("embedding provider: openai", "model", embeddingModel, "dimensions", dims)
		p, err := NewOpenAIProvider(openAIKey, embeddingModel, dims)
		if err != nil {
			logger.Error("embedding: openai provider init failed", "error", err)
			return NewNoopProvider(dims)
		}
		return p
	case "ollama":
		logger.Info("embedding provider: ollama", "url", ollamaURL, "model", ollamaModel, "dimensions", dims)
		return NewOllamaProvider(ollamaURL, ollamaModel, dims)
	case "noop":
		logger.Info("embedding provider: noop (semantic search disabled)")
		return NewNoopProvider(dims)
	case "auto", "":
		if ollamaReachable(ollamaURL) {
			logger.Info("embedding provider: ollama (auto-detected)", "url", ollamaURL, "model", ollamaModel, "dimensions", dims)
			return NewOllamaProvider(ollamaURL, ollamaModel, dims)
		}
		if openAIKey != "" {
			logger.Info("embedding provider: openai (auto-detected)", "model", embeddingModel, "dimensions", dims)
			p, err := NewOpenAIProvider(openAIKey, embeddingModel, dims)
			if err != nil {
				logger.Error("embedding: openai provider init failed", "error", err)
				return NewNoopProvider(dims)
			}
			return p
		}
		logger.Warn("embedding: no provider available, using noop (semantic search disabled)")
		return NewNoopProvider(dims)
	default:
		logger.Warn("embedding: unrecognized provider, using noop", "provider", provider)
		return NewNoopProvider(dims)
	}
}

// ollamaReachable reports whether an Ollama server is listening at baseURL.
func ollamaReachable(baseURL string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
