// Package openaiad wraps the OpenAI embeddings API behind the narrow
// domain.Embedder port. Dimensionality is fixed by the configured model.
package openaiad

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"staymatch/internal/adapters/observability"
)

type Embedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
	rl     *rate.Limiter
}

// New builds an Embedder. baseURL may be empty for the public API; rps
// bounds client-side request rate.
func New(apiKey, baseURL, model string, rps int) (*Embedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	if rps <= 0 {
		rps = 5
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Embedder{
		client: openai.NewClientWithConfig(cfg),
		model:  openai.EmbeddingModel(model),
		rl:     rate.NewLimiter(rate.Limit(rps), rps),
	}, nil
}

const embedAttempts = 3

// Embed returns the embedding vector for text. Transient failures are
// retried a bounded number of times; persistent failure propagates so the
// matcher never degrades to a guessed score.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.rl.Wait(ctx); err != nil {
		return nil, err
	}

	var lastErr error
	for i := 0; i < embedAttempts; i++ {
		start := time.Now()
		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: []string{text},
			Model: e.model,
		})
		if err == nil && len(resp.Data) > 0 {
			observability.ObserveExternal("openai", "embeddings", 200, time.Since(start))
			return resp.Data[0].Embedding, nil
		}
		observability.ObserveExternal("openai", "embeddings", 0, time.Since(start))
		if err == nil {
			err = fmt.Errorf("embeddings response had no data")
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if i < embedAttempts-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(1<<i) * 200 * time.Millisecond):
			}
		}
	}
	return nil, fmt.Errorf("openai embeddings after %d attempts: %w", embedAttempts, lastErr)
}
