package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/TGSpeechBot/internal/config"
	"github.com/digkill/TGSpeechBot/internal/database"
	"github.com/digkill/TGSpeechBot/internal/gemini"
	"github.com/digkill/TGSpeechBot/internal/media"
	"github.com/digkill/TGSpeechBot/internal/repository"
	"github.com/digkill/TGSpeechBot/internal/server"
	"github.com/digkill/TGSpeechBot/internal/service"
	"github.com/digkill/TGSpeechBot/internal/storage"
	"github.com/digkill/TGSpeechBot/internal/telegram"
	"github.com/digkill/TGSpeechBot/internal/worker"
	"github.com/digkill/TGSpeechBot/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, closeStore := openKeyRepository(ctx, cfg, logr)
	defer closeStore()

	keys := service.NewKeyStore(repo, logr)
	if err := keys.Preload(ctx); err != nil {
		logr.Warn("preload api keys", "err", err)
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Fatalf("telegram bot: %v", err)
	}
	logr.Info("authorized on telegram", "username", botAPI.Self.UserName)

	tracker := service.NewRotationTracker(cfg.GeminiModel, cfg.GeminiFallbackModel)
	registry := service.NewTranscriptRegistry()
	menus := telegram.NewMenuStates()
	limiter := telegram.NewUserLimiter(cfg.UserRatePerMinute)
	speech := service.NewSpeechService(gemini.NewClient(logr), tracker, cfg.RequestTimeout, logr)

	updates, err := worker.New("updates", cfg.WorkerPoolSize, 0, logr)
	if err != nil {
		log.Fatalf("updates pool: %v", err)
	}
	defer updates.Release()
	jobs, err := worker.New("jobs", cfg.WorkerPoolSize, cfg.RequestTimeout, logr)
	if err != nil {
		log.Fatalf("jobs pool: %v", err)
	}
	defer jobs.Release()

	deps := telegram.Dependencies{
		Keys:       keys,
		Speech:     speech,
		Registry:   registry,
		Modes:      service.NewDisplayModes(),
		Menus:      menus,
		Limiter:    limiter,
		Transcoder: media.NewTranscoder(cfg.FFmpegPath, logr),
		Updates:    updates,
		Jobs:       jobs,
	}
	if cfg.ArchiveEnabled() {
		archive, err := storage.NewArchive(storage.Config{
			Endpoint:      cfg.S3Endpoint,
			Region:        cfg.S3Region,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			PublicBaseURL: cfg.S3PublicBaseURL,
			UsePathStyle:  cfg.S3UsePathStyle,
			Prefix:        cfg.S3Prefix,
		})
		if err != nil {
			log.Fatalf("storage archive: %v", err)
		}
		deps.Archive = archive
	}

	bot := telegram.NewBot(cfg, botAPI, logr, deps)

	go service.RunSweeper(ctx, logr, service.SweepInterval, registry, menus, limiter)

	httpServer := server.NewServer(server.Config{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		WebhookPath: cfg.WebhookPath,
		Username:    cfg.AdminUsername,
		Password:    cfg.AdminPassword,
	}, logr, bot, bot)

	if url := cfg.WebhookURL(); url != "" {
		if err := registerWebhook(botAPI, url); err != nil {
			log.Fatalf("set webhook: %v", err)
		}
		logr.Info("webhook registered", "url", url)
		if err := httpServer.Run(ctx); err != nil {
			logr.Error("http server stopped", "err", err)
		}
		return
	}

	if _, err := botAPI.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		logr.Warn("delete webhook", "err", err)
	}
	go func() {
		if err := httpServer.Run(ctx); err != nil {
			logr.Error("http server stopped", "err", err)
		}
	}()
	if err := bot.Run(ctx, botAPI); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("bot stopped", "err", err)
	}
}

// openKeyRepository connects the configured store. Any failure leaves the bot
// running on the in-memory cache alone.
func openKeyRepository(ctx context.Context, cfg config.Config, logr *slog.Logger) (service.KeyRepository, func()) {
	noop := func() {}

	switch cfg.StoreDriver {
	case config.StoreMongo:
		client, err := database.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			logr.Warn("mongo unavailable, running cache-only", "err", err)
			return nil, noop
		}
		repo := repository.NewMongoKeyRepository(client, cfg.MongoDatabase)
		if err := repo.EnsureIndexes(ctx); err != nil {
			logr.Warn("mongo indexes", "err", err)
		}
		return repo, func() {
			if err := client.Disconnect(context.Background()); err != nil {
				logr.Warn("mongo disconnect", "err", err)
			}
		}
	case config.StoreMySQL:
		db, err := database.Connect(ctx, cfg.MySQLDSN)
		if err != nil {
			logr.Warn("mysql unavailable, running cache-only", "err", err)
			return nil, noop
		}
		if err := database.Migrate(ctx, db); err != nil {
			logr.Warn("mysql migrate", "err", err)
		}
		return repository.NewKeyRepository(db), func() { _ = db.Close() }
	default:
		logr.Info("using in-memory key store")
		return nil, noop
	}
}

func registerWebhook(api *tgbotapi.BotAPI, url string) error {
	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return err
	}
	_, err = api.Request(wh)
	return err
}
