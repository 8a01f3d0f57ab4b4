package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"thirdcoast.systems/zdownload/internal/config"
	"thirdcoast.systems/zdownload/internal/server"
	"thirdcoast.systems/zdownload/internal/settings"
)

func runServe(ctx context.Context, conf *config.Config, stderr io.Writer) int {
	runner, err := newRunner(conf)
	if err != nil {
		fmt.Fprintf(stderr, "zdownload: %v\n", err)
		return 2
	}

	e, err := server.New(ctx, runner, settings.NewStore(conf.SettingsPath))
	if err != nil {
		slog.Error("failed to create server", "error", err)
		return 1
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Shutdown(shutdownCtx)
	}()

	slog.Info("Listening", "addr", conf.ListenAddr)
	if err := e.Start(conf.ListenAddr); err != nil {
		if errors.Is(err, http.ErrServerClosed) || ctx.Err() != nil {
			return 0
		}
		slog.Error("server failed", "error", err)
		return 1
	}
	return 0
}
