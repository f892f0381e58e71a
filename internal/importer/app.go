package importer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	retry "github.com/sethvargo/go-retry"
)

// GameRequest is the body of POST /api/games.
type GameRequest struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	CoverURL string   `json:"coverUrl,omitempty"`
	Stores   []string `json:"stores"`
}

// AppClient talks to a running wanna2play server.
type AppClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewAppClient(baseURL string, httpClient *http.Client) *AppClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &AppClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: httpClient,
	}
}

func (a *AppClient) BaseURL() string { return a.baseURL }

// Health calls GET /api/health once.
func (a *AppClient) Health(ctx context.Context) error {
	return a.do(ctx, http.MethodGet, "/api/health", nil)
}

// WaitReady polls the health endpoint until it answers, trying tries times
// with interval between attempts.
func (a *AppClient) WaitReady(ctx context.Context, tries int, interval time.Duration) error {
	b := retry.WithMaxRetries(uint64(max(tries-1, 0)), retry.NewConstant(interval))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		if err := a.Health(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("app is not reachable at %s after %d attempts: %w", a.baseURL, tries, err)
	}
	return nil
}

// UpsertGame posts one game.
func (a *AppClient) UpsertGame(ctx context.Context, g GameRequest) error {
	body, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("marshal game: %w", err)
	}
	return a.do(ctx, http.MethodPost, "/api/games", body)
}

func (a *AppClient) do(ctx context.Context, method, path string, body []byte) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return fmt.Errorf("HTTP %d for %s %s: %s", resp.StatusCode, method, path, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
