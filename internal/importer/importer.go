// Package importer copies a Steam library into a running wanna2play server
// through its HTTP API.
package importer

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/wanna2play/wanna2play/internal/logging"
	"github.com/wanna2play/wanna2play/internal/steam"
)

const (
	DefaultConcurrency  = 4
	DefaultWaitTries    = 60
	DefaultWaitInterval = time.Second

	progressEvery = 25
)

// Library lists the games a Steam user owns.
type Library interface {
	FetchOwnedGames(ctx context.Context, steamID string) ([]steam.OwnedGame, error)
}

// App receives imported games.
type App interface {
	WaitReady(ctx context.Context, tries int, interval time.Duration) error
	UpsertGame(ctx context.Context, g GameRequest) error
}

type Options struct {
	SteamID     string
	Concurrency int
	// Rate caps game posts per second. Zero means unlimited.
	Rate         float64
	WaitTries    int
	WaitInterval time.Duration
	Logger       *slog.Logger
}

type Stats struct {
	Fetched  int
	Imported int
	Failed   int
}

type Importer struct {
	library Library
	app     App
	opts    Options
	limiter *rate.Limiter
	logger  *slog.Logger
}

func New(library Library, app App, opts Options) *Importer {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.WaitTries <= 0 {
		opts.WaitTries = DefaultWaitTries
	}
	if opts.WaitInterval <= 0 {
		opts.WaitInterval = DefaultWaitInterval
	}

	limit := rate.Inf
	if opts.Rate > 0 {
		limit = rate.Limit(opts.Rate)
	}

	return &Importer{
		library: library,
		app:     app,
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logging.OrDefault(opts.Logger).With("component", "steam-import"),
	}
}

// Run waits for the app, fetches the library and posts every game. The error
// is non-nil only when the import could not start or was cancelled; failures
// of single games are counted in Stats.Failed.
func (im *Importer) Run(ctx context.Context) (Stats, error) {
	if err := im.app.WaitReady(ctx, im.opts.WaitTries, im.opts.WaitInterval); err != nil {
		return Stats{}, err
	}

	im.logger.Info("fetching owned games", "steam_id", im.opts.SteamID)
	owned, err := im.library.FetchOwnedGames(ctx, im.opts.SteamID)
	if err != nil {
		return Stats{}, err
	}
	im.logger.Info("fetched owned games", "count", len(owned))

	var imported, failed, done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(im.opts.Concurrency)

	for _, game := range owned {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := im.limiter.Wait(gctx); err != nil {
				return err
			}

			if err := im.app.UpsertGame(gctx, toRequest(game)); err != nil {
				failed.Add(1)
				im.logger.Error("import failed", "game_id", game.GameID(), "error", err)
			} else {
				imported.Add(1)
			}

			if n := done.Add(1); n%progressEvery == 0 || int(n) == len(owned) {
				im.logger.Info("progress",
					"done", fmt.Sprintf("%d/%d", n, len(owned)),
					"ok", imported.Load(),
					"fail", failed.Load())
			}
			return nil
		})
	}

	err = g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	stats := Stats{
		Fetched:  len(owned),
		Imported: int(imported.Load()),
		Failed:   int(failed.Load()),
	}
	im.logger.Info("done", "ok", stats.Imported, "fail", stats.Failed)
	return stats, err
}

func toRequest(g steam.OwnedGame) GameRequest {
	return GameRequest{
		ID:       g.GameID(),
		Title:    g.Name,
		CoverURL: g.CoverURL(),
		Stores:   []string{steam.Source},
	}
}
