package steam

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wanna2play/wanna2play/internal/logging"
)

const (
	DefaultBaseURL = "https://api.steampowered.com"
	ownedGamesPath = "/IPlayerService/GetOwnedGames/v0001/"
	coverURLFormat = "https://cdn.cloudflare.steamstatic.com/steam/apps/%d/library_600x900.jpg"
)

type Options struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client reads a user's library from the Steam Web API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(opts Options) *Client {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: 30 * time.Second,
		}
	}
	return &Client{
		apiKey:     opts.APIKey,
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logging.OrDefault(opts.Logger).With("component", "steam"),
	}
}

// FetchOwnedGames returns every game steamID owns, free-to-play titles
// included. Entries without an app ID or a name are dropped.
func (c *Client) FetchOwnedGames(ctx context.Context, steamID string) ([]OwnedGame, error) {
	q := url.Values{}
	q.Set("key", c.apiKey)
	q.Set("steamid", steamID)
	q.Set("include_appinfo", "1")
	q.Set("include_played_free_games", "1")
	q.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+ownedGamesPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}

	c.logger.Debug("fetching owned games", "steam_id", steamID)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// The URL carries the API key; keep it out of the error.
		return nil, fmt.Errorf("fetch owned games: %w", redactURL(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return nil, fmt.Errorf("fetch owned games: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var apiResp ownedGamesResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode owned games: %w", err)
	}

	games := make([]OwnedGame, 0, len(apiResp.Response.Games))
	for _, g := range apiResp.Response.Games {
		name := strings.TrimSpace(g.Name)
		if g.AppID <= 0 || name == "" {
			continue
		}
		games = append(games, OwnedGame{AppID: g.AppID, Name: name, PlaytimeForever: g.PlaytimeForever})
	}

	c.logger.Debug("fetched owned games", "reported", apiResp.Response.GameCount, "usable", len(games))
	return games, nil
}

// CoverURL returns the library artwork URL for a Steam app.
func CoverURL(appID int64) string {
	return fmt.Sprintf(coverURLFormat, appID)
}

func redactURL(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err
	}
	return err
}
