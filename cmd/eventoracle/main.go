package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rewired-gh/eventoracle/internal/assessor"
	"github.com/rewired-gh/eventoracle/internal/config"
	"github.com/rewired-gh/eventoracle/internal/cycle"
	"github.com/rewired-gh/eventoracle/internal/dedup"
	"github.com/rewired-gh/eventoracle/internal/judge"
	"github.com/rewired-gh/eventoracle/internal/llm"
	"github.com/rewired-gh/eventoracle/internal/logger"
	"github.com/rewired-gh/eventoracle/internal/metrics"
	"github.com/rewired-gh/eventoracle/internal/oracle"
	"github.com/rewired-gh/eventoracle/internal/proposal"
	"github.com/rewired-gh/eventoracle/internal/resolver"
	"github.com/rewired-gh/eventoracle/internal/source"
	"github.com/rewired-gh/eventoracle/internal/storage"
	"github.com/rewired-gh/eventoracle/internal/telegram"
)

var (
	configPath = flag.String("config", "", "Path to configuration file (defaults and environment only when empty)")
	once       = flag.Bool("once", false, "Run a single cycle and exit, ignoring pipeline.interval")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	defer logger.Sync()
	logger.Info("Configuration loaded (llm mode: %s, sources: %d)", cfg.LLM.Mode, len(cfg.Sources))

	store, err := storage.New(cfg.Storage.DBPath, cfg.Storage.Timeout)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o, err := newOracle(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize oracle: %v", err)
	}
	logger.Info("Using oracle %s", o.Name())

	runner, err := newRunner(cfg, store, o)
	if err != nil {
		logger.Fatal("Failed to initialize pipeline: %v", err)
	}
	recorder := metrics.NewRecorder()

	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	consecutiveFailures := 0

	runCycle := func() error {
		logger.Info("Starting cycle")
		sum, err := runner.Run(ctx)
		recorder.Observe(sum, err)
		if werr := recorder.WriteTextfile(cfg.Metrics.TextfilePath); werr != nil {
			logger.Warn("Failed to write metrics textfile: %v", werr)
		}
		fmt.Println(sum)

		if err != nil {
			consecutiveFailures++
			logger.Error("Cycle failed: %v", err)
			if consecutiveFailures == 1 && telegramClient != nil {
				if sendErr := telegramClient.SendError(err); sendErr != nil {
					logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
				}
			}
			return err
		}

		logger.Info("Cycle completed in %v: %d ingested, %d accepted, %d rejected, %d predictions, %d resolved, %d failures",
			sum.Duration.Round(time.Millisecond), sum.ItemsIngested, sum.Accepted, sum.Rejected,
			sum.PredictionsEmitted, sum.EventsResolved, sum.Failures())
		if telegramClient != nil {
			if consecutiveFailures > 0 {
				if sendErr := telegramClient.SendRecovery(consecutiveFailures); sendErr != nil {
					logger.Warn("Failed to send recovery notification to Telegram: %v", sendErr)
				}
			}
			if sendErr := telegramClient.SendSummary(sum); sendErr != nil {
				logger.Warn("Failed to send summary to Telegram: %v", sendErr)
			}
		}
		consecutiveFailures = 0
		return nil
	}

	if *once || cfg.Pipeline.Interval <= 0 {
		if err := runCycle(); err != nil {
			_ = store.Close()
			logger.Sync()
			os.Exit(1)
		}
		return
	}

	if telegramClient != nil {
		telegramClient.ListenForCommands(ctx)
	}

	logger.Info("Starting pipeline service (interval: %v, max_proposals: %d, max_events: %d)",
		cfg.Pipeline.Interval, cfg.Pipeline.MaxProposals, cfg.Pipeline.MaxEvents)

	ticker := time.NewTicker(cfg.Pipeline.Interval)
	defer ticker.Stop()

	logger.Debug("Running initial cycle")
	_ = runCycle()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Service stopped")
			return

		case <-ticker.C:
			logger.Debug("Starting scheduled cycle")
			_ = runCycle()
		}
	}
}

func newOracle(ctx context.Context, cfg *config.Config) (oracle.Oracle, error) {
	year := cfg.EffectiveReferenceYear(time.Now())
	if cfg.LLM.Mode == config.ModeMock {
		return oracle.NewOffline(cfg.LLM.MockSeed, year), nil
	}

	gen, err := llm.NewGemini(ctx, llm.GeminiConfig{
		APIKey:            cfg.LLM.APIKey,
		Model:             cfg.LLM.Model,
		Temperature:       float32(cfg.LLM.Temperature),
		RequestsPerMinute: cfg.LLM.RequestsPerMinute,
	})
	if err != nil {
		return nil, err
	}
	pricing := llm.Pricing{
		InputPerMTok:  cfg.LLM.InputCostPerMTok,
		OutputPerMTok: cfg.LLM.OutputCostPerMTok,
	}
	return oracle.NewModel(gen, cfg.Judge.Categories, pricing, year), nil
}

func newRunner(cfg *config.Config, store *storage.Storage, o oracle.Oracle) (*cycle.Runner, error) {
	sources, err := source.FromConfig(cfg.Sources, cfg.Pipeline.FetchTimeout)
	if err != nil {
		return nil, err
	}
	limits := make(map[string]int, len(cfg.Sources))
	for _, s := range cfg.Sources {
		if s.MaxItems > 0 {
			limits[s.Name] = s.MaxItems
		}
	}

	j := judge.New(o, store, judge.Config{
		Threshold: cfg.Judge.ApprovalThreshold,
		Weights: judge.Weights{
			Answerability: cfg.Judge.Weights.Answerability,
			Significance:  cfg.Judge.Weights.Significance,
			Frequency:     cfg.Judge.Weights.Frequency,
			Temporal:      cfg.Judge.Weights.Temporal,
		},
		Categories:   cfg.Judge.Categories,
		MaxAttempts:  cfg.Judge.MaxAttempts,
		RetryBackoff: cfg.Judge.RetryBackoff,
		Timeout:      cfg.LLM.Timeout,
		AutoActivate: cfg.Pipeline.AutoActivateEvents,
	})
	a := assessor.New(o, store, assessor.Config{
		EvidenceWindow: cfg.Pipeline.EvidenceWindow,
		MaxAttempts:    cfg.Judge.MaxAttempts,
		RetryBackoff:   cfg.Judge.RetryBackoff,
		Timeout:        cfg.LLM.Timeout,
	})
	res := resolver.New(o, store, resolver.Config{
		Sources:        cfg.Pipeline.ResolutionSources,
		RecheckAfter:   cfg.Pipeline.RecheckAfter,
		EvidenceWindow: cfg.Pipeline.EvidenceWindow,
		MaxAttempts:    cfg.Judge.MaxAttempts,
		RetryBackoff:   cfg.Judge.RetryBackoff,
		Timeout:        cfg.LLM.Timeout,
	})

	return cycle.NewRunner(
		sources,
		dedup.New(store),
		proposal.NewBuilder(store, cfg.Pipeline.ReopenTerminalKeys),
		j,
		a,
		res,
		store,
		cycle.Config{
			MaxItemsPerSource: cfg.Pipeline.MaxItemsPerSource,
			SourceLimits:      limits,
			MaxProposals:      cfg.Pipeline.MaxProposals,
			MaxEvents:         cfg.Pipeline.MaxEvents,
			FetchConcurrency:  cfg.Pipeline.FetchConcurrency,
			FetchTimeout:      cfg.Pipeline.FetchTimeout,
		},
	), nil
}
