package games

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultPostgresSchema = `
CREATE TABLE IF NOT EXISTS games (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	summary    TEXT,
	cover_url  TEXT,
	stores     TEXT[] NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS games_updated_at_idx ON games (updated_at DESC);
`

// gameColumns matches the field order of Game for pgx.RowToStructByPos.
const gameColumns = `id, title, COALESCE(summary, ''), COALESCE(cover_url, ''), stores, created_at, updated_at`

// PostgresStore keeps games in a single Postgres table.
type PostgresStore struct {
	DB *pgxpool.Pool
}

// NewPostgresStore connects to Postgres and creates the games table if needed.
func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	db, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach Postgres: %w", err)
	}

	ps := &PostgresStore{DB: db}
	if err := ps.CreateSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return ps, nil
}

func (ps *PostgresStore) CreateSchema(ctx context.Context) error {
	if _, err := ps.DB.Exec(ctx, defaultPostgresSchema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

func (ps *PostgresStore) Upsert(ctx context.Context, in UpsertInput) (Game, error) {
	in, err := in.normalize()
	if err != nil {
		return Game{}, err
	}

	// A NULL stores parameter keeps the existing tags.
	rows, err := ps.DB.Query(ctx, `
		INSERT INTO games (id, title, summary, cover_url, stores, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), COALESCE($5::text[], '{}'), now(), now())
		ON CONFLICT (id) DO UPDATE SET
			title      = EXCLUDED.title,
			summary    = EXCLUDED.summary,
			cover_url  = EXCLUDED.cover_url,
			stores     = COALESCE($5::text[], games.stores),
			updated_at = now()
		RETURNING `+gameColumns,
		in.ID, in.Title, in.Summary, in.CoverURL, in.Stores)
	if err != nil {
		return Game{}, fmt.Errorf("upsert game %q: %w", in.ID, err)
	}

	g, err := pgx.CollectOneRow(rows, pgx.RowToStructByPos[Game])
	if err != nil {
		return Game{}, fmt.Errorf("upsert game %q: %w", in.ID, err)
	}
	return g, nil
}

func (ps *PostgresStore) GetByID(ctx context.Context, id string) (Game, error) {
	rows, err := ps.DB.Query(ctx, `SELECT `+gameColumns+` FROM games WHERE id = $1`, id)
	if err != nil {
		return Game{}, fmt.Errorf("get game %q: %w", id, err)
	}

	g, err := pgx.CollectOneRow(rows, pgx.RowToStructByPos[Game])
	if errors.Is(err, pgx.ErrNoRows) {
		return Game{}, ErrNotFound
	}
	if err != nil {
		return Game{}, fmt.Errorf("get game %q: %w", id, err)
	}
	return g, nil
}

func (ps *PostgresStore) GetByIDs(ctx context.Context, ids []string) ([]Game, error) {
	if len(ids) == 0 {
		return []Game{}, nil
	}

	found, err := ps.query(ctx, `SELECT `+gameColumns+` FROM games WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("get games by id: %w", err)
	}
	return orderByIDs(ids, found), nil
}

func (ps *PostgresStore) KeywordSearch(ctx context.Context, query string, limit int) ([]Game, error) {
	out, err := ps.query(ctx, `
		SELECT `+gameColumns+`
		FROM games
		WHERE title ILIKE $1 ESCAPE '\' OR summary ILIKE $1 ESCAPE '\'
		ORDER BY updated_at DESC, id
		LIMIT $2`,
		"%"+escapeLike(query)+"%", ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	return out, nil
}

func (ps *PostgresStore) List(ctx context.Context, limit int) ([]Game, error) {
	out, err := ps.query(ctx, `
		SELECT `+gameColumns+`
		FROM games
		ORDER BY updated_at DESC, id
		LIMIT $1`,
		ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	return out, nil
}

func (ps *PostgresStore) All(ctx context.Context) ([]Game, error) {
	out, err := ps.query(ctx, `SELECT `+gameColumns+` FROM games ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list all games: %w", err)
	}
	return out, nil
}

func (ps *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := ps.DB.QueryRow(ctx, `SELECT count(*) FROM games`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count games: %w", err)
	}
	return n, nil
}

// Close releases the underlying Postgres connection pool.
func (ps *PostgresStore) Close() error {
	if ps == nil || ps.DB == nil {
		return nil
	}
	ps.DB.Close()
	return nil
}

func (ps *PostgresStore) query(ctx context.Context, sql string, args ...any) ([]Game, error) {
	rows, err := ps.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByPos[Game])
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []Game{}
	}
	return out, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes s match literally inside a LIKE pattern.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
