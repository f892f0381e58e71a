package games

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps games in memory and, when given a directory, mirrors
// them to a JSON file after every write. It is meant for development and
// tests; production deployments use PostgresStore.
type MemoryStore struct {
	mu    sync.RWMutex
	games map[string]record
	seq   uint64
	path  string
	now   func() time.Time
}

type record struct {
	Game
	seq uint64
}

// snapshot is the persisted file format.
type snapshot struct {
	Games     []Game    `json:"games"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewMemoryStore returns an empty, unpersisted store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		games: make(map[string]record),
		now:   time.Now,
	}
}

// OpenFileStore returns a store persisted to dataDir/games.json, loading the
// file if it exists. Every write rewrites the whole file, so it suits small
// libraries; use the Postgres store for large imports.
func OpenFileStore(dataDir string) (*MemoryStore, error) {
	s := NewMemoryStore()
	s.path = filepath.Join(dataDir, "games.json")
	if err := s.loadFromDisk(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file, or "" for a purely in-memory store.
func (s *MemoryStore) Path() string {
	return s.path
}

func (s *MemoryStore) loadFromDisk() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read games file: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode games file: %w", err)
	}

	// Sequence numbers follow update time so listings keep their order.
	sort.SliceStable(snap.Games, func(i, j int) bool {
		return snap.Games[i].UpdatedAt.Before(snap.Games[j].UpdatedAt)
	})
	s.games = make(map[string]record, len(snap.Games))
	for _, g := range snap.Games {
		s.seq++
		s.games[g.ID] = record{Game: g, seq: s.seq}
	}

	return nil
}

// saveToDisk writes the snapshot to a temporary file and renames it into
// place. The caller holds s.mu.
func (s *MemoryStore) saveToDisk() error {
	if s.path == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	snap := snapshot{
		Games:     s.sortedLocked(nil),
		UpdatedAt: s.now().UTC(),
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal games: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write games file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace games file: %w", err)
	}

	return nil
}

func (s *MemoryStore) Upsert(_ context.Context, in UpsertInput) (Game, error) {
	in, err := in.normalize()
	if err != nil {
		return Game{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	existing, exists := s.games[in.ID]

	stores := in.Stores
	if stores == nil {
		stores = existing.Stores
	}
	if stores == nil {
		stores = []string{}
	}

	g := Game{
		ID:        in.ID,
		Title:     in.Title,
		Summary:   in.Summary,
		CoverURL:  in.CoverURL,
		Stores:    append([]string(nil), stores...),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if exists {
		g.CreatedAt = existing.CreatedAt
	}

	s.seq++
	s.games[g.ID] = record{Game: g, seq: s.seq}

	if err := s.saveToDisk(); err != nil {
		// Keep memory and disk in agreement.
		if exists {
			s.games[g.ID] = existing
		} else {
			delete(s.games, g.ID)
		}
		return Game{}, err
	}

	return cloneGame(g), nil
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.games[id]
	if !ok {
		return Game{}, ErrNotFound
	}
	return cloneGame(r.Game), nil
}

func (s *MemoryStore) GetByIDs(_ context.Context, ids []string) ([]Game, error) {
	if len(ids) == 0 {
		return []Game{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	found := make([]Game, 0, len(ids))
	for _, id := range ids {
		if r, ok := s.games[id]; ok {
			found = append(found, cloneGame(r.Game))
		}
	}
	return orderByIDs(ids, found), nil
}

func (s *MemoryStore) KeywordSearch(_ context.Context, query string, limit int) ([]Game, error) {
	needle := strings.ToLower(query)

	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := s.sortedLocked(func(g Game) bool {
		return strings.Contains(strings.ToLower(g.Title), needle) ||
			strings.Contains(strings.ToLower(g.Summary), needle)
	})
	return truncate(matches, ClampLimit(limit)), nil
}

func (s *MemoryStore) List(_ context.Context, limit int) ([]Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return truncate(s.sortedLocked(nil), ClampLimit(limit)), nil
}

func (s *MemoryStore) All(context.Context) ([]Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sortedLocked(nil), nil
}

func (s *MemoryStore) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.games), nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// sortedLocked returns the games accepted by keep (all when nil), most
// recently updated first. The caller holds s.mu.
func (s *MemoryStore) sortedLocked(keep func(Game) bool) []Game {
	recs := make([]record, 0, len(s.games))
	for _, r := range s.games {
		if keep == nil || keep(r.Game) {
			recs = append(recs, r)
		}
	}

	sort.Slice(recs, func(i, j int) bool {
		return recs[i].seq > recs[j].seq
	})

	out := make([]Game, len(recs))
	for i, r := range recs {
		out[i] = cloneGame(r.Game)
	}
	return out
}

func truncate(games []Game, limit int) []Game {
	if limit < len(games) {
		return games[:limit]
	}
	return games
}

func cloneGame(g Game) Game {
	g.Stores = append([]string{}, g.Stores...)
	return g
}
