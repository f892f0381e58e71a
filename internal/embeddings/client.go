package embeddings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/wanna2play/wanna2play/internal/logging"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"

	DefaultTimeout = 12 * time.Second
)

// Options configures a Client. An empty BaseURL or Model yields a disabled
// client that never touches the network.
type Options struct {
	Provider   string
	BaseURL    string
	Model      string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client turns text into an embedding vector through one of the supported
// providers.
type Client struct {
	provider  string
	baseURL   string
	model     string
	timeout   time.Duration
	variants  []variant
	heartbeat func(context.Context) error
	logger    *slog.Logger
}

func NewClient(opts Options) (*Client, error) {
	provider := strings.ToLower(strings.TrimSpace(opts.Provider))
	if provider == "" {
		provider = ProviderOllama
	}

	c := &Client{
		provider: provider,
		baseURL:  strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		model:    strings.TrimSpace(opts.Model),
		timeout:  opts.Timeout,
		logger:   logging.OrDefault(opts.Logger).With("component", "embeddings", "provider", provider),
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}

	if c.baseURL == "" || c.model == "" {
		return c, nil
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	switch provider {
	case ProviderOllama:
		oc, err := newOllama(c.baseURL, c.model, httpClient)
		if err != nil {
			return nil, err
		}
		c.variants = oc.variants()
		c.heartbeat = oc.api.Heartbeat
	case ProviderOpenAI:
		v := newOpenAI(c.baseURL, c.model, opts.APIKey, httpClient)
		c.variants = []variant{v}
		c.heartbeat = v.heartbeat
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", opts.Provider)
	}

	return c, nil
}

// Enabled reports whether a provider is configured.
func (c *Client) Enabled() bool {
	return c != nil && len(c.variants) > 0
}

func (c *Client) Provider() string { return c.provider }
func (c *Client) BaseURL() string  { return c.baseURL }
func (c *Client) Model() string    { return c.model }

// Embed returns the embedding for text. It never returns an error: a missing
// provider yields StatusDisabled and every failure yields StatusUnavailable,
// so callers decide on fallback from the Result alone.
func (c *Client) Embed(ctx context.Context, text string) Result {
	if !c.Enabled() {
		return Result{Status: StatusDisabled}
	}
	if strings.TrimSpace(text) == "" {
		return Result{Status: StatusUnavailable, Err: ErrEmptyText}
	}

	var lastErr error
	for _, v := range c.variants {
		vec, err := c.attempt(ctx, v, text)
		if err == nil {
			if len(vec) == 0 {
				return Result{Status: StatusUnavailable, Err: fmt.Errorf("%s: %w", v.name(), ErrEmptyEmbedding)}
			}
			return Result{Vector: vec, Status: StatusOK}
		}

		lastErr = fmt.Errorf("%s: %w", v.name(), err)
		if !isNotFound(err) {
			break
		}
		c.logger.Debug("embedding endpoint not found, trying next shape", "variant", v.name())
	}

	c.logger.Debug("embedding unavailable", "error", lastErr)
	return Result{Status: StatusUnavailable, Err: lastErr}
}

func (c *Client) attempt(ctx context.Context, v variant, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return v.embed(ctx, text)
}

// Healthy checks whether the provider answers at all.
func (c *Client) Healthy(ctx context.Context) bool {
	if !c.Enabled() || c.heartbeat == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.heartbeat(ctx) == nil
}

// httpError is what variants return for a non-2xx answer, whatever error
// type the underlying SDK produced.
type httpError struct {
	status  int
	message string
}

func (e *httpError) Error() string {
	if e.message == "" {
		return fmt.Sprintf("http %d", e.status)
	}
	return fmt.Sprintf("http %d: %s", e.status, e.message)
}

func isNotFound(err error) bool {
	var he *httpError
	return errors.As(err, &he) && he.status == http.StatusNotFound
}
