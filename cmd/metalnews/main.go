package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deusflow/metalnews/internal/app"
	"github.com/deusflow/metalnews/internal/config"
	"github.com/deusflow/metalnews/internal/fetcher"
	"github.com/deusflow/metalnews/internal/gemini"
	"github.com/deusflow/metalnews/internal/logger"
	"github.com/deusflow/metalnews/internal/metrics"
	"github.com/deusflow/metalnews/internal/monitor"
	"github.com/deusflow/metalnews/internal/proxy"
	"github.com/deusflow/metalnews/internal/ratelimit"
	"github.com/deusflow/metalnews/internal/storage"
	"github.com/deusflow/metalnews/internal/telegram"
	"github.com/deusflow/metalnews/internal/translate"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code so deferred cleanup always happens.
func run() int {
	logger.Init()

	cfg, err := config.Load()
	if errors.Is(err, config.ErrHelp) {
		return 0
	}
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		return 1
	}
	if cfg.Debug {
		logger.Logger = logger.New(os.Stdout, slog.LevelDebug)
		slog.SetDefault(logger.Logger)
	}
	log := logger.Logger

	sources, err := config.LoadSources(cfg.SourcesFile)
	if err != nil {
		logger.Error("failed to load sources", "file", cfg.SourcesFile, "error", err)
		return 1
	}
	keywords, err := config.LoadKeywords(cfg.KeywordsFile)
	if err != nil {
		logger.Error("failed to load keywords", "file", cfg.KeywordsFile, "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg)
	if err != nil {
		logger.Error("failed to open dedup store", "backend", cfg.DedupBackend, "error", err)
		return 1
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("failed to close dedup store", "error", err)
		}
	}()

	proxies := proxy.NewPool(cfg.StaticProxy, cfg.ProxySourceURL, log)
	f := fetcher.New(fetcher.Options{
		Attempts:       cfg.FetchAttempts,
		Timeout:        cfg.RequestTimeout,
		RenderHeadless: cfg.RenderHeadless,
		RenderTimeout:  cfg.RenderTimeout,
	}, proxies, log)

	deps := app.Deps{
		Fetcher:  f,
		Store:    store,
		Sender:   telegram.New(cfg.TelegramToken, cfg.TelegramAPIURL, cfg.RequestTimeout),
		Sources:  sources,
		Keywords: keywords,
		Metrics:  metrics.Global,
		Log:      log,
	}

	extra := map[string]monitor.StatsSource{}
	if cfg.TranslateEnabled {
		svc, gem := newTranslator(ctx, cfg, log)
		defer svc.Close()
		if gem != nil {
			defer gem.Close()
		}
		deps.Translator = svc
		extra["translation"] = svc.Budget()
	}

	if cfg.MonitoringEnabled {
		srv := monitor.NewServer(cfg.MonitoringPort, monitor.NewHandler(metrics.Global, extra), log)
		srv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("monitoring server shutdown", "error", err)
			}
		}()
	}

	logger.Info("metalnews started",
		"sources", len(sources),
		"destination", cfg.Destination(),
		"dedup_backend", cfg.DedupBackend,
		"translate", cfg.TranslateEnabled)

	if err := app.New(cfg, deps).Run(ctx); err != nil {
		logger.Error("stopped with error", "error", err)
		return 1
	}
	logger.Info("metalnews stopped")
	return 0
}

// newTranslator returns the translation service and the Gemini client it
// uses, if any, so the caller can close it.
func newTranslator(ctx context.Context, cfg *config.Config, log *slog.Logger) (*translate.Service, *gemini.Client) {
	opts := translate.Options{
		Target:  cfg.TranslateTarget,
		Google:  translate.NewGoogle("", cfg.RequestTimeout),
		Budget:  ratelimit.NewBudget(map[string]int{"gemini": cfg.MaxGeminiRequests}, cfg.MaxGeminiRequests, log),
		Timeout: cfg.RequestTimeout,
	}
	var client *gemini.Client
	if cfg.GeminiAPIKey != "" {
		c, err := gemini.NewClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			logger.Warn("gemini unavailable, using google only", "error", err)
		} else {
			client = c
			opts.Gemini = c
		}
	}
	return translate.NewService(opts, log), client
}
