package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wanna2play/wanna2play/internal/embeddings"
	"github.com/wanna2play/wanna2play/internal/embeddings/ollamatest"
	"github.com/wanna2play/wanna2play/internal/games"
	"github.com/wanna2play/wanna2play/internal/search"
	"github.com/wanna2play/wanna2play/internal/vectorindex"
	"github.com/wanna2play/wanna2play/internal/vectorindex/qdranttest"
)

const testCollection = "wanna2play_games"

type testEnv struct {
	mux      *http.ServeMux
	handlers *Handlers
	store    *games.MemoryStore
	searcher *search.Searcher
	qdrant   *qdranttest.Server
	ollama   *ollamatest.Server
	reindex  chan struct{}
}

type envOption func(*embeddings.Options, *vectorindex.Options)

func withoutEmbeddings() envOption {
	return func(e *embeddings.Options, _ *vectorindex.Options) { e.BaseURL = "" }
}

func withoutIndex() envOption {
	return func(_ *embeddings.Options, v *vectorindex.Options) { v.Collection = "" }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	ollama := ollamatest.New(t, ollamatest.Keywords(
		[]string{"hades", "underworld", "roguelike"},
		[]string{"portal", "puzzle"},
	))
	qdrant := qdranttest.New(t)

	embedOpts := embeddings.Options{Provider: embeddings.ProviderOllama, BaseURL: ollama.URL, Model: "nomic-embed-text", Timeout: time.Second}
	indexOpts := vectorindex.Options{BaseURL: qdrant.URL, Collection: testCollection, Timeout: time.Second}
	for _, o := range opts {
		o(&embedOpts, &indexOpts)
	}

	embedClient, err := embeddings.NewClient(embedOpts)
	require.NoError(t, err)
	index := vectorindex.NewClient(indexOpts)
	store := games.NewMemoryStore()
	searcher := search.NewSearcher(store, embedClient, index, search.Options{})

	staticDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(staticDir, "index.html"), []byte("<h1>wanna2play</h1>"), 0644))

	env := &testEnv{
		store:    store,
		searcher: searcher,
		qdrant:   qdrant,
		ollama:   ollama,
		reindex:  make(chan struct{}, 1),
	}
	h := NewHandlers(Deps{
		Searcher:   searcher,
		Store:      store,
		StoreKind:  "memory",
		Embeddings: embedClient,
		Index:      index,
		ReindexFn:  func() { env.reindex <- struct{}{} },
	})
	env.handlers = h
	env.mux = NewMux(h, staticDir)
	t.Cleanup(searcher.Wait)
	return env
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]string](t, rec)["error"]
}

func TestCreateGame(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/games",
		`{"id":"steam:1145360","title":" Hades ","summary":"roguelike","coverUrl":"https://example.com/h.jpg","stores":["steam","epic",7]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	g := decode[games.Game](t, rec)
	assert.Equal(t, "steam:1145360", g.ID)
	assert.Equal(t, "Hades", g.Title)
	assert.Equal(t, "https://example.com/h.jpg", g.CoverURL)
	assert.Equal(t, []string{"steam", "epic"}, g.Stores)

	env.searcher.Wait()
	_, ok := env.qdrant.Points(testCollection)[vectorindex.PointID("steam:1145360")]
	assert.True(t, ok, "the game is indexed in the background")
}

func TestCreateGameGeneratesID(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/games", `{"title":"Celeste"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	g := decode[games.Game](t, rec)
	require.True(t, strings.HasPrefix(g.ID, "custom:"), g.ID)
	_, err := uuid.Parse(strings.TrimPrefix(g.ID, "custom:"))
	assert.NoError(t, err)
	assert.Equal(t, []string{}, g.Stores)
}

func TestCreateGameKeepsStoresWhenOmitted(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/games", `{"id":"steam:620","title":"Portal 2","stores":["steam"]}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/games", `{"id":"steam:620","title":"Portal 2","summary":"puzzle"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []string{"steam"}, decode[games.Game](t, rec).Stores)
}

func TestCreateGameRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"not json", `{"title":`, "Invalid JSON body."},
		{"empty body", ``, "Invalid JSON body."},
		{"array", `[1,2]`, "Invalid body."},
		{"null", `null`, "Invalid body."},
		{"string", `"Hades"`, "Invalid body."},
		{"missing title", `{"id":"steam:1"}`, "`title` is required."},
		{"blank title", `{"title":"   "}`, "`title` is required."},
		{"title of wrong type", `{"title":5}`, "`title` is required."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/games", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.want, errorMessage(t, rec))
		})
	}

	n, err := env.store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCreateGameSucceedsWhenIndexingFails(t *testing.T) {
	env := newTestEnv(t)
	env.qdrant.FailWith(http.StatusInternalServerError)

	rec := env.do(t, http.MethodPost, "/api/games", `{"id":"steam:1145360","title":"Hades"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	env.searcher.Wait()

	g, err := env.store.GetByID(context.Background(), "steam:1145360")
	require.NoError(t, err)
	assert.Equal(t, "Hades", g.Title)
}

func TestGetGame(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.store.Upsert(context.Background(), games.UpsertInput{ID: "steam:440", Title: "Team Fortress 2"})
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/games/steam:440", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Team Fortress 2", decode[games.Game](t, rec).Title)

	rec = env.do(t, http.MethodGet, "/api/games/steam:1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not found.", errorMessage(t, rec))
}

func TestListGames(t *testing.T) {
	env := newTestEnv(t)
	for _, in := range games.SampleGames() {
		_, err := env.store.Upsert(context.Background(), in)
		require.NoError(t, err)
	}

	rec := env.do(t, http.MethodGet, "/api/games?limit=3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[struct{ Results []games.Game }](t, rec)
	assert.Len(t, got.Results, 3)
	assert.Equal(t, "sample:control", got.Results[0].ID)

	rec = env.do(t, http.MethodGet, "/api/games?limit=nope", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[struct{ Results []games.Game }](t, rec).Results, 12)
}

func TestSearchEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/seed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/games", `{"id":"steam:1145360","title":"Hades II","summary":"underworld roguelike"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	env.searcher.Wait()

	rec = env.do(t, http.MethodGet, "/api/search?q=underworld&limit=3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[search.Response](t, rec)
	assert.Equal(t, search.ModeSemantic, resp.Mode)
	assert.Equal(t, "underworld", resp.Query)
	require.NotEmpty(t, resp.Results)
	assert.LessOrEqual(t, len(resp.Results), 3)

	rec = env.do(t, http.MethodGet, "/api/search?q=", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[search.Response](t, rec)
	assert.Equal(t, search.ModeKeyword, resp.Mode)
	assert.Len(t, resp.Results, 13)
	assert.Equal(t, "steam:1145360", resp.Results[0].ID)
}

func TestSearchEndpointWithoutEmbeddings(t *testing.T) {
	env := newTestEnv(t, withoutEmbeddings())
	_, err := env.store.Upsert(context.Background(), games.UpsertInput{ID: "steam:1145360", Title: "Hades", Summary: "roguelike"})
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/search?q=underworld+escape", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"mode":"keyword","query":"underworld escape","results":[]}`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/search?q=ROGUE", "")
	resp := decode[search.Response](t, rec)
	assert.Equal(t, search.ModeKeyword, resp.Mode)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "steam:1145360", resp.Results[0].ID)
	assert.Zero(t, env.ollama.Calls())
}

func TestSeed(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/seed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"inserted":12,"embedded":12}`, rec.Body.String())
	assert.Len(t, env.qdrant.Points(testCollection), 12)

	rec = env.do(t, http.MethodPost, "/api/seed", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Seed refused because the library is not empty.", errorMessage(t, rec))

	n, err := env.store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, n)
}

func TestSeedWithoutIndex(t *testing.T) {
	env := newTestEnv(t, withoutIndex())

	rec := env.do(t, http.MethodPost, "/api/seed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"inserted":12,"embedded":0}`, rec.Body.String())
	assert.Empty(t, env.qdrant.Requests())
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.OK)
	assert.Equal(t, "memory", got.Store.Kind)
	assert.Equal(t, env.qdrant.URL, got.Qdrant.URL)
	assert.Equal(t, testCollection, got.Qdrant.Collection)
	assert.True(t, got.Qdrant.Ready)
	assert.Equal(t, "ollama", got.Embeddings.Provider)
	assert.Equal(t, "nomic-embed-text", got.Embeddings.Model)
	assert.True(t, got.Embeddings.Enabled)
	assert.True(t, got.Embeddings.Ready)
}

func TestHealthReportsOutages(t *testing.T) {
	env := newTestEnv(t, withoutEmbeddings())
	env.qdrant.FailWith(http.StatusServiceUnavailable)

	rec := env.do(t, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.OK)
	assert.False(t, got.Qdrant.Ready)
	assert.False(t, got.Embeddings.Enabled)
	assert.False(t, got.Embeddings.Ready)
	assert.Empty(t, got.Embeddings.BaseURL)
}

func TestReindex(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/reindex", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case <-env.reindex:
	case <-time.After(time.Second):
		t.Fatal("reindex did not run")
	}

	disabled := newTestEnv(t, withoutIndex())
	rec = disabled.do(t, http.MethodPost, "/api/reindex", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStaticFilesAndMethods(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "wanna2play")

	tests := []struct {
		method, target string
		allow          string
	}{
		{http.MethodGet, "/api/seed", "POST"},
		{http.MethodGet, "/api/reindex", "POST"},
		{http.MethodDelete, "/api/games/steam:1", "GET"},
		{http.MethodPut, "/api/games", "GET, POST"},
	}
	for _, tt := range tests {
		rec := env.do(t, tt.method, tt.target, "")
		require.Equal(t, http.StatusMethodNotAllowed, rec.Code, "%s %s", tt.method, tt.target)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.Equal(t, tt.allow, rec.Header().Get("Allow"), "%s %s", tt.method, tt.target)
		assert.Equal(t, "Method not allowed.", errorMessage(t, rec))
	}

	rec = env.do(t, http.MethodGet, "/api/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not found.", errorMessage(t, rec))

	rec = env.do(t, http.MethodHead, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWaitCoversRunningReindex(t *testing.T) {
	env := newTestEnv(t)
	release := make(chan struct{})
	env.handlers.reindexFn = func() { <-release }

	rec := env.do(t, http.MethodPost, "/api/reindex", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/reindex", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, env.handlers.Wait(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, env.handlers.Wait(context.Background()))
	assert.False(t, env.handlers.reindexing.Load())
}

func TestServerShutdownWaitsForReindex(t *testing.T) {
	release := make(chan struct{})
	srv := New("0", "", Deps{
		Store:     games.NewMemoryStore(),
		Index:     vectorindex.NewClient(vectorindex.Options{BaseURL: "http://127.0.0.1:1", Collection: testCollection}),
		ReindexFn: func() { <-release },
	})

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/reindex", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, srv.Shutdown(ctx), context.DeadlineExceeded)

	close(release)
	assert.NoError(t, srv.Shutdown(context.Background()))
}
