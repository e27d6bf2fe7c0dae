package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"fichua-bot/internal/analyzer"
	"fichua-bot/internal/config"
	"fichua-bot/internal/fetcher"
	"fichua-bot/internal/gemini"
	"fichua-bot/internal/handler"
	"fichua-bot/internal/llm"
	"fichua-bot/internal/metrics"
	"fichua-bot/internal/middleware"
	"fichua-bot/internal/notify"
	"fichua-bot/internal/poller"
	"fichua-bot/internal/publisher"
	"fichua-bot/internal/repository"
	"fichua-bot/internal/service"
	"fichua-bot/internal/twitter"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	logger.Info("Starting FichuaBot...", zap.String("config", configPath))

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Service stopped with error", zap.Error(err))
	}

	logger.Info("Service exited")
}

func newLogger(level string, development bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	zcfg := zap.NewProductionConfig()
	if development {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	metrics.Register()

	llmClient, err := newLLMClient(cfg, logger)
	if err != nil {
		return err
	}
	defer llmClient.Close()

	if cfg.Database.Type == repository.DialectSQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	ledger, err := repository.NewLedger(cfg.Database.Type, cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize ledger: %w", err)
	}
	defer ledger.Close()

	var loader fetcher.PageLoader
	if cfg.Fetcher.Mode == "browser" {
		browser := fetcher.NewBrowserLoader(cfg.Fetcher.Headless, logger)
		defer browser.Close()
		loader = browser
	} else {
		loader = fetcher.NewHTTPLoader()
	}
	postFetcher := fetcher.NewNitterFetcher(cfg.Fetcher.NitterBaseURL, loader, logger)

	var notifier notify.Notifier = notify.Nop{}
	if cfg.Telegram.Enabled {
		tg, err := notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID, logger)
		if err != nil {
			logger.Warn("Telegram notifier disabled", zap.Error(err))
		} else {
			notifier = tg
		}
	}

	pipeline := service.NewPipeline(
		ledger,
		postFetcher,
		analyzer.New(llmClient, logger),
		notifier,
		cfg.Fetcher.Limit,
		logger,
	)

	var pub handler.Publisher
	if cfg.Typefully.Enabled {
		tf, err := publisher.NewTypefully(publisher.Config{
			APIKey:  cfg.Typefully.APIKey,
			BaseURL: cfg.Typefully.BaseURL,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize typefully: %w", err)
		}
		pub = tf
	}

	apiHandler := handler.NewHandler(pipeline, ledger, pub, cfg.Analysis.MaxLength, cfg.Server.WebhookSecret, logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.Logger(logger))
	apiHandler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var p *poller.Poller
	if cfg.Poller.Enabled {
		tw, err := twitter.NewClient(twitter.Config{
			BaseURL:     cfg.Twitter.BaseURL,
			BearerToken: cfg.Twitter.BearerToken,
			UserToken:   cfg.Twitter.UserToken,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize twitter client: %w", err)
		}

		p = poller.New(tw, pipeline, poller.Config{
			BotUsername:       cfg.Bot.Username,
			SearchQuery:       cfg.Poller.SearchQuery,
			MinInterval:       cfg.Poller.MinInterval,
			MaxInterval:       cfg.Poller.MaxInterval,
			MaxResults:        cfg.Poller.MaxResults,
			AnalysisMaxLength: cfg.Analysis.MaxLength,
			ReplyMaxLength:    cfg.Reply.MaxLength,
		}, logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Server starting", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if p != nil {
		g.Go(func() error {
			return p.Run(gctx)
		})
	} else {
		logger.Info("Poller disabled, serving webhook only")
	}

	modelInfo := llmClient.GetModelInfo()
	logger.Info("FichuaBot is running",
		zap.String("port", cfg.Server.Port),
		zap.Any("model", modelInfo["model"]),
		zap.Bool("poller", cfg.Poller.Enabled),
		zap.Bool("typefully", cfg.Typefully.Enabled))

	return g.Wait()
}

// newLLMClient prefers the configured provider chain and falls back to the
// legacy single Gemini block
func newLLMClient(cfg *config.Config, logger *zap.Logger) (llm.Provider, error) {
	if len(cfg.Providers) > 0 {
		multiClient, err := llm.NewMultiProviderClient(llm.MultiProviderConfig{
			Providers:   cfg.Providers,
			MaxFailures: cfg.MaxFailuresBeforeSwitch,
		}, logger)
		if err == nil {
			logger.Info("Multi-provider client initialized",
				zap.Int("provider_count", len(cfg.Providers)))
			return multiClient, nil
		}
		logger.Warn("Failed to initialize multi-provider client, falling back to single provider",
			zap.Error(err))
	}

	if cfg.Gemini.APIKey == "" || cfg.Gemini.APIKey == "YOUR_API_KEY_HERE" {
		return nil, errors.New("no LLM provider configured: set providers or gemini.api_key")
	}

	geminiClient, err := gemini.NewClient(gemini.Config{
		APIKey:     cfg.Gemini.APIKey,
		ModelName:  cfg.Gemini.ModelName,
		MaxRetries: cfg.Gemini.MaxRetries,
		RetryDelay: 2 * time.Second,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Gemini client: %w", err)
	}

	logger.Info("Single provider client initialized with rate limiting")
	return llm.NewRateLimitedProvider(geminiClient, 8, logger), nil
}
