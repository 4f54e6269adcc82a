package ai

import "context"

// embedFunc generates a dense embedding for text.
type embedFunc func(ctx context.Context, text string) ([]float32, error)

// withEmbedder is a Provider that delegates every capability to an embedded
// base Provider except Embed, which it serves itself.
type withEmbedder struct {
	Provider
	embed embedFunc
}

func (w withEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return w.embed(ctx, text)
}

// ComposeEmbedder returns base with Embed replaced by embed. Used to plug a
// dedicated embedding backend (OpenAI, Ollama) into an otherwise-heuristic
// provider, since embedding backends implement only vector generation, not
// the rest of the Provider surface.
func ComposeEmbedder(base Provider, embed embedFunc) Provider {
	return withEmbedder{Provider: base, embed: embed}
}
