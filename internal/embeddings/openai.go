package embeddings

import (
	"context"
	"errors"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// openAIVariant speaks the OpenAI-compatible POST {base}/embeddings shape,
// which many self-hosted servers also expose.
type openAIVariant struct {
	client *openai.Client
	model  string
}

func newOpenAI(baseURL, model, apiKey string, httpClient *http.Client) *openAIVariant {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	cfg.HTTPClient = httpClient
	return &openAIVariant{client: openai.NewClientWithConfig(cfg), model: model}
}

func (*openAIVariant) name() string { return "openai/embeddings" }

func (v *openAIVariant) embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := v.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: []string{text},
		Model: openai.EmbeddingModel(v.model),
	})
	if err != nil {
		return nil, translateOpenAIError(err)
	}
	if len(resp.Data) == 0 {
		return nil, nil
	}
	return resp.Data[0].Embedding, nil
}

func (v *openAIVariant) heartbeat(ctx context.Context) error {
	_, err := v.client.ListModels(ctx)
	return translateOpenAIError(err)
}

func translateOpenAIError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &httpError{status: apiErr.HTTPStatusCode, message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &httpError{status: reqErr.HTTPStatusCode, message: reqErr.Error()}
	}
	return err
}
