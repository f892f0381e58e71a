package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wanna2play/wanna2play/internal/steam"
)

type fakeLibrary struct {
	games []steam.OwnedGame
	err   error
}

func (f fakeLibrary) FetchOwnedGames(context.Context, string) ([]steam.OwnedGame, error) {
	return f.games, f.err
}

// fakeApp is a wanna2play server that records posted games.
type fakeApp struct {
	*httptest.Server

	mu         sync.Mutex
	posted     map[string]GameRequest
	healthFail atomic.Int32 // health checks left to fail
	reject     map[string]bool
	inFlight   atomic.Int32
	maxFlight  atomic.Int32
}

func newFakeApp(t *testing.T) *fakeApp {
	t.Helper()
	a := &fakeApp{posted: map[string]GameRequest{}, reject: map[string]bool{}}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, _ *http.Request) {
		if a.healthFail.Add(-1) >= 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	mux.HandleFunc("POST /api/games", func(w http.ResponseWriter, r *http.Request) {
		n := a.inFlight.Add(1)
		defer a.inFlight.Add(-1)
		for {
			m := a.maxFlight.Load()
			if n <= m || a.maxFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)

		var g GameRequest
		if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		a.mu.Lock()
		defer a.mu.Unlock()
		if a.reject[g.ID] {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"Could not save game."}`))
			return
		}
		a.posted[g.ID] = g
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(g)
	})

	a.Server = httptest.NewServer(mux)
	t.Cleanup(a.Close)
	return a
}

func (a *fakeApp) Posted() map[string]GameRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]GameRequest, len(a.posted))
	for k, v := range a.posted {
		out[k] = v
	}
	return out
}

func ownedGames(n int) []steam.OwnedGame {
	out := make([]steam.OwnedGame, n)
	for i := range out {
		out[i] = steam.OwnedGame{AppID: int64(1000 + i), Name: fmt.Sprintf("Game %d", i)}
	}
	return out
}

func fastOptions() Options {
	return Options{SteamID: "76561197960287930", Concurrency: 3, WaitTries: 5, WaitInterval: time.Millisecond}
}

func TestRunImportsEveryGame(t *testing.T) {
	app := newFakeApp(t)
	app.healthFail.Store(2)

	im := New(fakeLibrary{games: ownedGames(60)}, NewAppClient(app.URL+"/", nil), fastOptions())
	stats, err := im.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Stats{Fetched: 60, Imported: 60, Failed: 0}, stats)
	posted := app.Posted()
	require.Len(t, posted, 60)

	g := posted["steam:1000"]
	assert.Equal(t, "Game 0", g.Title)
	assert.Equal(t, []string{"steam"}, g.Stores)
	assert.Equal(t, "https://cdn.cloudflare.steamstatic.com/steam/apps/1000/library_600x900.jpg", g.CoverURL)

	assert.LessOrEqual(t, app.maxFlight.Load(), int32(3))
}

func TestRunCountsFailures(t *testing.T) {
	app := newFakeApp(t)
	app.reject["steam:1001"] = true
	app.reject["steam:1003"] = true

	im := New(fakeLibrary{games: ownedGames(5)}, NewAppClient(app.URL, nil), fastOptions())
	stats, err := im.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Stats{Fetched: 5, Imported: 3, Failed: 2}, stats)
	assert.NotContains(t, app.Posted(), "steam:1001")
}

func TestRunFailsWhenAppNeverAnswers(t *testing.T) {
	app := newFakeApp(t)
	app.healthFail.Store(100)

	im := New(fakeLibrary{games: ownedGames(1)}, NewAppClient(app.URL, nil), fastOptions())
	_, err := im.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not reachable")
	assert.Empty(t, app.Posted())
}

func TestRunFailsWhenLibraryFails(t *testing.T) {
	app := newFakeApp(t)
	boom := errors.New("steam down")

	im := New(fakeLibrary{err: boom}, NewAppClient(app.URL, nil), fastOptions())
	_, err := im.Run(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestRunHonoursRateLimit(t *testing.T) {
	app := newFakeApp(t)
	opts := fastOptions()
	opts.Rate = 50

	im := New(fakeLibrary{games: ownedGames(6)}, NewAppClient(app.URL, nil), opts)
	start := time.Now()
	stats, err := im.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 6, stats.Imported)
	// Burst of one, then 20ms per token.
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestRunStopsOnCancel(t *testing.T) {
	app := newFakeApp(t)
	ctx, cancel := context.WithCancel(context.Background())

	lib := fakeLibrary{games: ownedGames(10)}
	im := New(lib, &cancellingApp{AppClient: NewAppClient(app.URL, nil), cancel: cancel}, fastOptions())
	stats, err := im.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, stats.Imported+stats.Failed, 10)
}

// cancellingApp cancels the run after the first upsert.
type cancellingApp struct {
	*AppClient
	cancel context.CancelFunc
	once   sync.Once
}

func (c *cancellingApp) UpsertGame(ctx context.Context, g GameRequest) error {
	err := c.AppClient.UpsertGame(ctx, g)
	c.once.Do(c.cancel)
	return err
}

func TestAppClientReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"` + "`title`" + ` is required."}`))
	}))
	t.Cleanup(srv.Close)

	err := NewAppClient(srv.URL, nil).UpsertGame(context.Background(), GameRequest{ID: "steam:1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 400")
	assert.Contains(t, err.Error(), "is required")
}

func TestWaitReadyCountsAttempts(t *testing.T) {
	app := newFakeApp(t)
	app.healthFail.Store(100)

	err := NewAppClient(app.URL, nil).WaitReady(context.Background(), 3, time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, int32(97), app.healthFail.Load())
}
