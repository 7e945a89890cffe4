package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"scribe/internal/config"
	"scribe/internal/daemon"
	"scribe/internal/logging"
	"scribe/internal/media/ffmpeg"
	"scribe/internal/notifications"
	"scribe/internal/output"
	"scribe/internal/queue"
	"scribe/internal/services/deepgram"
	"scribe/internal/services/ytdlp"
	"scribe/internal/transcribe"
	"scribe/internal/workflow"
	"scribe/internal/workspace"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		os.Exit(1)
	}
	defer store.Close()

	media := ytdlp.NewCLI(
		ytdlp.WithBinary(cfg.YtDlpBin),
		ytdlp.WithCookies(ytdlp.CookiePolicy{Enabled: cfg.Cookies.Enabled, Path: cfg.Cookies.Path}),
	)
	audio := ffmpeg.NewCLI(
		ffmpeg.WithFfmpegBinary(cfg.FfmpegBin),
		ffmpeg.WithFfprobeBinary(cfg.FfprobeBin),
	)
	speech := deepgram.New(cfg.Deepgram.APIKey,
		deepgram.WithBaseURL(cfg.Deepgram.BaseURL),
		deepgram.WithModel(cfg.Deepgram.Model, cfg.Deepgram.Language),
		deepgram.WithLogger(logger),
	)
	writer := output.NewWriter(cfg.OutputDir)
	notifier := notifications.NewService(cfg)

	newController := func(ws *workspace.Workspace) workflow.Transcriber {
		return transcribe.NewController(speech, audio,
			float64(cfg.Chunking.MinChunkSeconds),
			float64(cfg.Chunking.OverlapSeconds),
			ws.Chunks(), logger)
	}

	wf := workflow.NewManager(cfg, store, logger, notifier, media, audio, writer, newController)

	d, err := daemon.New(cfg, store, logger, wf)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		os.Exit(1)
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("start daemon", logging.Error(err))
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("scribed shutting down")
	d.Stop()
}
