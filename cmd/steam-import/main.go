// Command steam-import copies a user's Steam library into a running
// wanna2play server. It exits with status 2 when some games failed to import
// and 1 when the import could not run at all.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/wanna2play/wanna2play/internal/config"
	"github.com/wanna2play/wanna2play/internal/importer"
	"github.com/wanna2play/wanna2play/internal/logging"
	"github.com/wanna2play/wanna2play/internal/steam"
)

func main() {
	cfg, err := config.LoadImporter()
	if err != nil {
		fmt.Fprintln(os.Stderr, "steam-import:", err)
		os.Exit(1)
	}
	logger := logging.Configure(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := importer.NewAppClient(cfg.AppURL, nil)
	logger.Info("starting", "app", app.BaseURL(), "steam_id", cfg.SteamID, "workers", cfg.Concurrency)

	im := importer.New(
		steam.NewClient(steam.Options{APIKey: cfg.SteamAPIKey, Logger: logger}),
		app,
		importer.Options{
			SteamID:     cfg.SteamID,
			Concurrency: cfg.Concurrency,
			Rate:        cfg.Rate,
			Logger:      logger,
		},
	)

	stats, err := im.Run(ctx)
	if err != nil {
		logger.Error("fatal", "error", err)
		stop()
		os.Exit(1)
	}
	if stats.Failed > 0 {
		stop()
		os.Exit(2)
	}
}
