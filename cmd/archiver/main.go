package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blockedby/channel-archiver/internal/api"
	"github.com/blockedby/channel-archiver/internal/checkpoint"
	"github.com/blockedby/channel-archiver/internal/config"
	"github.com/blockedby/channel-archiver/internal/coordinator"
	"github.com/blockedby/channel-archiver/internal/database"
	"github.com/blockedby/channel-archiver/internal/downloader"
	"github.com/blockedby/channel-archiver/internal/filter"
	"github.com/blockedby/channel-archiver/internal/logger"
	"github.com/blockedby/channel-archiver/internal/models"
	"github.com/blockedby/channel-archiver/internal/nats"
	"github.com/blockedby/channel-archiver/internal/notifier"
	"github.com/blockedby/channel-archiver/internal/publisher"
	"github.com/blockedby/channel-archiver/internal/scheduler"
	"github.com/blockedby/channel-archiver/internal/telegram"
)

func main() {
	once := flag.Bool("once", false, "run a single export batch and exit")
	flag.Parse()

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// 2. Initialize logger
	if err := logger.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	log := logger.Get()
	log.Info().Msg("starting channel archiver")

	// 3. Setup context with graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("received shutdown signal")
		cancel()
	}()

	// 4. Open databases
	sessionDB, err := database.Open(cfg.SessionDB)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open session database")
	}

	checkpointDB, err := database.Open(cfg.CheckpointDB)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open checkpoint database")
	}

	store, err := checkpoint.NewStore(checkpointDB)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init checkpoint store")
	}

	// 5. Connect to NATS
	var pub coordinator.EventPublisher
	if cfg.NatsURL != "" {
		nc, err := nats.New(ctx, cfg.NatsURL)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to nats, publishing disabled")
		} else {
			defer nc.Close()
			if err := nc.EnsureStream(ctx, "ARCHIVE", []string{"archive.>"}); err != nil {
				log.Warn().Err(err).Msg("failed to ensure nats stream")
			}
			pub = publisher.NewNATSPublisher(nc)
		}
	}

	// 6. Telegram notifications
	var notify coordinator.Notifier
	if cfg.BotToken != "" && cfg.BotChatID != 0 {
		n, err := notifier.New(cfg.BotToken, cfg.BotChatID)
		if err != nil {
			log.Warn().Err(err).Msg("failed to init telegram notifier, notices disabled")
		} else {
			notify = n
		}
	}

	// 7. Initialize telegram client
	if cfg.TGApiID == 0 || cfg.TGApiHash == "" {
		log.Fatal().Msg("TG_API_ID and TG_API_HASH are required")
	}

	tgManager := telegram.NewManager(cfg, sessionDB)
	if err := tgManager.Init(ctx); err != nil {
		log.Fatal().Err(err).Msg("telegram init failed")
	}
	defer tgManager.Stop()

	tgClient := telegram.NewClientWithLimiter(tgManager, telegram.NewRateLimiter(cfg.RequestsRPS, 1))

	// 8. Media acquisition engine
	engine := downloader.New(tgClient, downloader.Config{
		Workers:    cfg.MediaWorkers,
		MaxWorkers: cfg.MediaMaxWorkers,
		MinDelay:   cfg.MinDelay,
		MaxDelay:   cfg.MaxDelay,
		Timeout:    cfg.FileTimeout,
	}, func(p downloader.Progress) {
		log.Info().
			Int("completed", p.Completed).
			Int("remaining", p.Remaining).
			Float64("files_per_sec", p.FilesPerSec).
			Float64("mb_per_sec", p.MBPerSec).
			Msg("download progress")
	})

	// 9. Export coordinator
	coordCfg := coordinator.DefaultConfig(cfg.ExportBaseDir)
	coordCfg.InterChannelGap = cfg.InterChannelGap
	coord := coordinator.New(
		tgClient,
		filter.New(filter.Config{FilterAds: cfg.FilterAds, FilterPromo: cfg.FilterPromo}),
		engine,
		store,
		notify,
		pub,
		coordCfg,
	)

	roster := func() ([]models.ChannelRef, error) {
		channels, warnings, err := config.LoadChannels(cfg.ChannelsFile)
		for _, w := range warnings {
			log.Warn().Err(w).Msg("channel roster entry skipped")
		}
		return channels, err
	}

	// 10. One-shot mode
	if *once {
		channels, err := roster()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load channel roster")
		}
		session := coordinator.NewSession()
		if err := coord.ExportBatch(ctx, channels, session); err != nil {
			log.Error().Err(err).Msg("export batch interrupted")
		}
		snap := session.Snapshot()
		log.Info().
			Int("processed", snap.ChannelsProcessed).
			Int("failed", snap.ChannelsFailed).
			Int("new_messages", snap.NewMessages).
			Int("downloaded", snap.DownloadedFiles).
			Msg("export finished")
		return
	}

	// 11. Status API
	server := api.NewServer(&api.Config{Port: cfg.HTTPPort}, store)
	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("starting status server")
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("status server stopped")
		}
	}()

	// 12. Continuous mode
	runner := scheduler.NewRunner(coord, store, roster, cfg.ExportInterval, cfg.StaleAfter)
	runner.SetSessionCallback(server.RecordSession)

	if err := runner.Run(ctx); err != nil {
		log.Info().Err(err).Msg("scheduler stopped")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("status server shutdown failed")
	}
}
