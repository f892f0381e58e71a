package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/wanna2play/wanna2play/internal/logging"
)

const (
	DefaultBaseURL = "http://localhost:6333"
	DefaultTimeout = 10 * time.Second

	maxErrorBody = 1 << 10
)

// Options configures a Client. An empty Collection disables the client.
type Options struct {
	BaseURL    string
	Collection string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client owns one Qdrant collection: it creates it on first use, refuses
// vectors whose size differs from the collection's, and upserts and searches
// points keyed by PointID.
type Client struct {
	baseURL    string
	collection string
	apiKey     string
	http       *http.Client
	logger     *slog.Logger

	// ensuredSize is the last vector size confirmed against the server, or 0.
	// Concurrent writers may both miss and both ask the server; that costs a
	// round trip, never correctness.
	ensuredSize atomic.Int64
}

func NewClient(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	collection := strings.TrimSpace(opts.Collection)
	return &Client{
		baseURL:    baseURL,
		collection: collection,
		apiKey:     opts.APIKey,
		http:       httpClient,
		logger:     logging.OrDefault(opts.Logger).With("component", "vectorindex", "collection", collection),
	}
}

// Enabled reports whether a collection is configured. A disabled client
// answers every call without touching the network.
func (c *Client) Enabled() bool {
	return c != nil && c.collection != ""
}

func (c *Client) BaseURL() string    { return c.baseURL }
func (c *Client) Collection() string { return c.collection }

// EnsureCollection makes sure the collection exists with the given vector
// size. It returns a *DimensionMismatchError, without modifying anything,
// when the collection exists with another size.
func (c *Client) EnsureCollection(ctx context.Context, size int) error {
	if !c.Enabled() {
		return nil
	}
	if size <= 0 {
		return ErrInvalidVector
	}
	if c.ensuredSize.Load() == int64(size) {
		return nil
	}

	found, err := c.checkExisting(ctx, size)
	if err != nil {
		return err
	}
	if !found {
		if err := c.createCollection(ctx, size); err != nil {
			return err
		}
	}

	c.ensuredSize.Store(int64(size))
	return nil
}

// checkExisting describes the collection. It reports false when the
// collection does not exist.
func (c *Client) checkExisting(ctx context.Context, size int) (bool, error) {
	var info envelope[collectionInfo]
	err := c.do(ctx, http.MethodGet, c.collectionPath(), nil, &info)
	switch {
	case err == nil:
		if existing, ok := info.Result.vectorSize(); ok && existing != size {
			return true, &DimensionMismatchError{Collection: c.collection, Existing: existing, Requested: size}
		}
		return true, nil
	case isStatus(err, http.StatusNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("describe collection %q: %w", c.collection, err)
	}
}

func (c *Client) createCollection(ctx context.Context, size int) error {
	req := createCollectionRequest{Vectors: vectorParams{Size: size, Distance: DistanceCosine}}
	err := c.do(ctx, http.MethodPut, c.collectionPath(), req, nil)
	if err == nil {
		c.logger.Info("created qdrant collection", "size", size)
		return nil
	}
	if !alreadyExists(err) {
		return fmt.Errorf("create collection %q: %w", c.collection, err)
	}

	// Another writer created it first; its size is what counts.
	found, checkErr := c.checkExisting(ctx, size)
	if checkErr != nil {
		return checkErr
	}
	if !found {
		return fmt.Errorf("create collection %q: %w", c.collection, err)
	}
	return nil
}

// UpsertVector stores vector under PointID(gameID) with the game ID in the
// payload, and returns once Qdrant has applied the write.
func (c *Client) UpsertVector(ctx context.Context, gameID string, vector []float32) error {
	if !c.Enabled() {
		return nil
	}
	if len(vector) == 0 {
		return ErrInvalidVector
	}
	if err := c.EnsureCollection(ctx, len(vector)); err != nil {
		return err
	}

	req := upsertPointsRequest{Points: []point{{
		ID:      PointID(gameID),
		Vector:  vector,
		Payload: map[string]any{PayloadIDKey: gameID},
	}}}
	if err := c.do(ctx, http.MethodPut, c.collectionPath()+"/points?wait=true", req, nil); err != nil {
		return fmt.Errorf("upsert point for %q: %w", gameID, err)
	}
	return nil
}

// SearchSimilar returns the game IDs of the limit nearest points, best first.
// Failures are logged and reported as no results.
func (c *Client) SearchSimilar(ctx context.Context, vector []float32, limit int) []string {
	if !c.Enabled() || len(vector) == 0 || limit <= 0 {
		return nil
	}
	if err := c.EnsureCollection(ctx, len(vector)); err != nil {
		c.logSearchError(err)
		return nil
	}

	req := searchRequest{Vector: vector, Limit: limit, WithPayload: true}
	var resp envelope[[]scoredPoint]
	if err := c.do(ctx, http.MethodPost, c.collectionPath()+"/points/search", req, &resp); err != nil {
		c.logSearchError(err)
		return nil
	}

	ids := make([]string, 0, len(resp.Result))
	for _, hit := range resp.Result {
		id, ok := hit.gameID()
		if !ok {
			id = hit.storeID()
			c.logger.Warn("point payload has no game id, using point id", "point_id", id)
		}
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// Ready probes Qdrant's readiness endpoint.
func (c *Client) Ready(ctx context.Context) bool {
	return c.do(ctx, http.MethodGet, "/readyz", nil, nil) == nil
}

func (c *Client) logSearchError(err error) {
	if IsDimensionMismatch(err) {
		c.logger.Error("vector search disabled by collection conflict", "error", err)
		return
	}
	c.logger.Warn("vector search failed", "error", err)
}

func (c *Client) collectionPath() string {
	return "/collections/" + url.PathEscape(c.collection)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode qdrant %s %s: %w", method, path, err)
	}
	return nil
}

func alreadyExists(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == http.StatusConflict || strings.Contains(strings.ToLower(se.Body), "already exists")
}

func isStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}
