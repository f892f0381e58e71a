package embeddings

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	ollama "github.com/ollama/ollama/api"
)

type ollamaClient struct {
	api   *ollama.Client
	model string
}

func newOllama(baseURL, model string, httpClient *http.Client) (*ollamaClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse ollama base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("parse ollama base url: %q is not absolute", baseURL)
	}
	return &ollamaClient{api: ollama.NewClient(u, httpClient), model: model}, nil
}

// variants lists the Ollama shapes in priority order: the single-prompt
// /api/embeddings endpoint first, then the batch /api/embed endpoint that
// replaced it in newer servers.
func (o *ollamaClient) variants() []variant {
	return []variant{ollamaLegacy{o}, ollamaBatch{o}}
}

// ollamaLegacy speaks POST /api/embeddings {model, prompt} -> {embedding}.
type ollamaLegacy struct{ *ollamaClient }

func (ollamaLegacy) name() string { return "ollama/embeddings" }

func (v ollamaLegacy) embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := v.api.Embeddings(ctx, &ollama.EmbeddingRequest{
		Model:  v.model,
		Prompt: text,
	})
	if err != nil {
		return nil, translateOllamaError(err)
	}
	if resp == nil {
		return nil, nil
	}

	vec := make([]float32, len(resp.Embedding))
	for i, f := range resp.Embedding {
		vec[i] = float32(f)
	}
	return vec, nil
}

// ollamaBatch speaks POST /api/embed {model, input: [text]} -> {embeddings}.
type ollamaBatch struct{ *ollamaClient }

func (ollamaBatch) name() string { return "ollama/embed" }

func (v ollamaBatch) embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := v.api.Embed(ctx, &ollama.EmbedRequest{
		Model: v.model,
		Input: []string{text},
	})
	if err != nil {
		return nil, translateOllamaError(err)
	}
	if resp == nil || len(resp.Embeddings) == 0 {
		return nil, nil
	}
	return resp.Embeddings[0], nil
}

func translateOllamaError(err error) error {
	var se ollama.StatusError
	if errors.As(err, &se) {
		return &httpError{status: se.StatusCode, message: se.ErrorMessage}
	}
	return err
}
