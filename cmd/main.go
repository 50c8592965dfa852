package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"mediaforge/internal/account"
	"mediaforge/internal/api"
	"mediaforge/internal/config"
	fileutil "mediaforge/internal/file"
	"mediaforge/internal/history"
	"mediaforge/internal/job"
	"mediaforge/internal/media"
	"mediaforge/internal/toolexec"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load("config.yml")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	if err := fileutil.EnsureDir(cfg.DataDir); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("ensure data dir")
	}

	checkTools(cfg)

	manager := job.NewManager(job.Options{
		DataDir:           cfg.DataDir,
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
		JobTimeout:        cfg.JobTimeout,
		Retention:         cfg.Retention,
		SweepInterval:     cfg.SweepInterval,
	})

	hist, err := history.Open(filepath.Join(cfg.DataDir, cfg.HistoryDB))
	if err != nil {
		log.Fatal().Err(err).Msg("open history store")
	}
	manager.SetHistory(hist)

	subs, err := account.OpenSubscriptions(filepath.Join(cfg.DataDir, cfg.SubscriptionsFile))
	if err != nil {
		log.Fatal().Err(err).Msg("open subscriptions")
	}
	manager.SetLimiter(subs)

	access, err := account.OpenAccess(filepath.Join(cfg.DataDir, cfg.AccessFile))
	if err != nil {
		log.Fatal().Err(err).Msg("open access grants")
	}

	tools := media.Tools{
		Runner:       toolexec.NewRunner(),
		FFmpeg:       cfg.FFmpegPath,
		FFprobe:      cfg.FFprobePath,
		YTDLP:        cfg.YTDLPPath,
		Whisper:      cfg.WhisperPath,
		WhisperModel: cfg.WhisperModel,
	}

	router := setupRouter()
	api.NewAPI(manager, tools, hist, access).RegisterRoutes(router)

	baseCtx, baseCancel := context.WithCancel(context.Background())
	manager.SetBaseContext(baseCtx)
	go job.NewSweeper(manager).Run(baseCtx)

	const (
		readHeaderTimeout = 5 * time.Second
		shutdownTimeout   = 10 * time.Second
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("mediaforge listening")

	waitForShutdownSignal()

	gracefulShutdown(srv, baseCancel, manager, shutdownTimeout)
}

func setupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(api.ZerologLogger())
	return r
}

// checkTools verifies the external binaries early. Missing ffmpeg or
// yt-dlp is fatal; the whisper fallback is optional.
func checkTools(cfg config.Config) {
	for _, tool := range []string{cfg.FFmpegPath, cfg.FFprobePath, cfg.YTDLPPath} {
		if err := toolexec.LookPath(tool); err != nil {
			log.Fatal().Err(err).Msg("required tool missing")
		}
	}
	if cfg.WhisperPath != "" {
		if err := toolexec.LookPath(cfg.WhisperPath); err != nil {
			log.Warn().Err(err).Msg("whisper not available, subtitle fallback disabled")
		}
	}
}

func waitForShutdownSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")
}

func gracefulShutdown(srv *http.Server, cancelBase context.CancelFunc, m *job.Manager, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown warning")
	}

	cancelBase()
	if !m.WaitAll(ctx) {
		log.Warn().Msg("background workers did not finish before timeout")
	}
	log.Info().Msg("server exited cleanly")
}
