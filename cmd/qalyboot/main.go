package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/mtvedt/qalyboot/internal/bootstrap"
	"github.com/mtvedt/qalyboot/internal/config"
	"github.com/mtvedt/qalyboot/internal/dataset"
	"github.com/mtvedt/qalyboot/internal/fit"
	"github.com/mtvedt/qalyboot/internal/logger"
	"github.com/mtvedt/qalyboot/internal/models"
	"github.com/mtvedt/qalyboot/internal/qaly"
	"github.com/mtvedt/qalyboot/internal/storage"
	"github.com/mtvedt/qalyboot/internal/telegram"
)

var (
	configPath  = flag.String("config", "configs/config.yaml", "Path to configuration file")
	datasetPath = flag.String("dataset", "", "Override the configured dataset path")
	output      = flag.String("output", "text", "Report format: text or json")
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *datasetPath != "" {
		cfg.Dataset.Path = *datasetPath
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if *output != "text" && *output != "json" {
		log.Fatalf("Invalid output format %q, must be text or json", *output)
	}

	// Setup logging with level support
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	if cfg.Bootstrap.MinRetained < 30 {
		logger.Warn("bootstrap.min_retained is %d; fewer than 30 retained replicates give unstable tail quantiles",
			cfg.Bootstrap.MinRetained)
	}

	// Load the input panel
	var manifest *dataset.Manifest
	if cfg.Dataset.Manifest != "" {
		manifest, err = dataset.LoadManifest(cfg.Dataset.Manifest)
		if err != nil {
			logger.Fatal("Failed to load dataset manifest: %v", err)
		}
	}
	panel, err := dataset.Load(cfg.Dataset.Path, manifest)
	if err != nil {
		logger.Fatal("Failed to load dataset: %v", err)
	}
	respondents := len(panel.RespondentIDs())
	logger.Info("Loaded %d records for %d respondents from %s", len(panel), respondents, cfg.Dataset.Path)

	// Build the fit adapter against the raw panel so factor coding stays
	// identical across every replicate
	fitter, err := fit.New(cfg.Fit.Adapter, cfg.Fit.Formula, panel, cfg.QALY.BaselineSurvey)
	if err != nil {
		logger.Fatal("Failed to build fit adapter: %v", err)
	}

	var times map[int]float64
	if manifest != nil {
		times = manifest.Times
	}
	computer := qaly.NewComputer(qaly.Options{
		BaselineSurvey: cfg.QALY.BaselineSurvey,
		Times:          times,
	})

	engine, err := bootstrap.New(bootstrap.Params{
		Replicates:  cfg.Bootstrap.Replicates,
		DrawSize:    cfg.Bootstrap.DrawSize,
		Seed:        cfg.Bootstrap.Seed,
		MinRetained: cfg.Bootstrap.MinRetained,
		Workers:     cfg.Bootstrap.Workers,
	}, fitter, computer)
	if err != nil {
		logger.Fatal("Failed to build bootstrap engine: %v", err)
	}

	// Initialize run-history storage
	store := storage.New(cfg.Storage.MaxRuns, cfg.Storage.FilePath, 0o600, 0o755)
	if err := store.Load(); err != nil {
		logger.Warn("Failed to load run history: %v", err)
	}

	// Initialize Telegram client
	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID,
			cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelay)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cancelling run...")
		cancel()
	}()

	// Run the bootstrap
	result, err := engine.Run(ctx, panel)
	if err != nil {
		logger.Fatal("Bootstrap run failed: %v", err)
	}

	run := &models.RunSummary{
		RunID:          uuid.New().String(),
		CreatedAt:      time.Now(),
		Dataset:        cfg.Dataset.Path,
		Seed:           cfg.Bootstrap.Seed,
		Replicates:     result.Replicates,
		DrawSize:       result.DrawSize,
		Respondents:    respondents,
		Records:        len(panel),
		Retained:       result.Retained,
		Dropped:        result.Dropped,
		Formula:        cfg.Fit.Formula,
		Adapter:        cfg.Fit.Adapter,
		BaselineSurvey: cfg.QALY.BaselineSurvey,
		Coefficients:   result.Coefficients,
		Bands:          result.Bands,
		Reference:      result.Reference,
		Elapsed:        result.Elapsed,
	}

	// Emit the report
	if err := report(*output, run); err != nil {
		logger.Fatal("Failed to write report: %v", err)
	}

	// Persist the run
	if err := store.AddRun(run); err != nil {
		logger.Error("Failed to record run: %v", err)
	} else if err := store.Save(); err != nil {
		logger.Error("Failed to persist run history: %v", err)
	}

	// Archive the retained ensemble
	if cfg.Archive.Enabled {
		archiveRun(cfg.Archive.Path, run, result)
	}

	// Notify
	if telegramClient != nil {
		if err := telegramClient.Send(run); err != nil {
			logger.Error("Failed to send Telegram notification: %v", err)
		} else {
			logger.Info("Sent Telegram notification for run %s", run.RunID)
		}
	}
}

func archiveRun(path string, run *models.RunSummary, result *bootstrap.Result) {
	archive, err := storage.OpenArchive(path)
	if err != nil {
		logger.Error("Failed to open archive: %v", err)
		return
	}
	defer func() {
		if err := archive.Close(); err != nil {
			logger.Error("Failed to close archive: %v", err)
		}
	}()

	if err := archive.SaveRun(context.Background(), run, result.Samples, result.Draws); err != nil {
		logger.Error("Failed to archive run: %v", err)
		return
	}
	logger.Info("Archived %d coefficient samples and %d group draws to %s",
		len(result.Samples), len(result.Draws), path)
}

func report(format string, run *models.RunSummary) error {
	if format == "json" {
		data, err := json.MarshalIndent(run, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}
	printTextReport(run)
	return nil
}

func printTextReport(run *models.RunSummary) {
	fmt.Printf("\nRun %s\n", run.RunID)
	fmt.Println(strings.Repeat("-", 80))
	fmt.Printf("Dataset: %s (%d respondents, %d records)\n", run.Dataset, run.Respondents, run.Records)
	fmt.Printf("Model: %s via %s\n", run.Formula, run.Adapter)
	fmt.Printf("Replicates: %d retained / %d dropped of %d (seed %d, draw size %d)\n",
		run.Retained, run.Dropped, run.Replicates, run.Seed, run.DrawSize)
	fmt.Printf("Elapsed: %v\n", run.Elapsed)

	fmt.Println("\nCoefficients (2.5% / 25% / 50% / 75% / 97.5%):")
	for _, coef := range run.Coefficients {
		marker := " "
		if coef.Significant {
			marker = "*"
		}
		q := coef.Quantiles
		fmt.Printf("  %s %-28s %9.4f %9.4f %9.4f %9.4f %9.4f\n",
			marker, coef.Name, q.P025, q.P25, q.P50, q.P75, q.P975)
	}
	fmt.Println("  (* = all five quantiles share one strict sign)")

	fmt.Println("\nQALY bands by age group:")
	for _, band := range run.Bands {
		q := band.Quantiles
		fmt.Printf("  %-10s %-15s %9.3f %9.3f %9.3f %9.3f %9.3f\n",
			band.AgeGroup, band.Type, q.P025, q.P25, q.P50, q.P75, q.P975)
	}

	fmt.Println("\nReference estimates from observed utilities:")
	for _, ref := range run.Reference {
		fmt.Printf("  %-10s %-15s %9.3f  (%d respondents)\n",
			ref.AgeGroup, ref.Type, ref.Mean, ref.Respondents)
	}
}
