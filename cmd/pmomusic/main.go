package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coissac/pmomusic/config"
	"github.com/coissac/pmomusic/internal/cache"
	"github.com/coissac/pmomusic/internal/ffmpeg"
	"github.com/coissac/pmomusic/internal/playlist"
	"github.com/coissac/pmomusic/internal/radio"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := config.Load()

	slog.Info("starting pmomusic",
		"port", cfg.Port,
		"station_name", cfg.StationName,
		"cache_dir", cfg.CacheDir,
	)

	encoder := ffmpeg.NewEncoder(cfg.CacheBitrate, cfg.SampleRate, cfg.Channels)
	cacheStore := cache.NewStore(cfg.CacheDir, encoder.StreamFromReader, cfg.CacheMaxMB<<20)

	persist, err := playlist.NewJSONFileStore(cfg.PlaylistDir, cacheStore)
	if err != nil {
		slog.Error("failed to open playlist store", "error", err)
		os.Exit(1)
	}
	playlists := playlist.NewManager(cacheStore, persist)

	server := radio.NewServer(cfg, cacheStore, playlists)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		slog.Info("shutdown signal received")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("shutting down gracefully")
	time.Sleep(500 * time.Millisecond)
	slog.Info("server stopped")
}
