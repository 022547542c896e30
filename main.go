// Package main implements the WattCast household power forecast service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"syscall"
	_ "time/tzdata"

	"github.com/go-telegram/bot"

	"github.com/z0rr0/wattcast/config"
	"github.com/z0rr0/wattcast/databaser"
	"github.com/z0rr0/wattcast/importer"
	"github.com/z0rr0/wattcast/metrics"
	"github.com/z0rr0/wattcast/plotter"
	"github.com/z0rr0/wattcast/predictor"
	"github.com/z0rr0/wattcast/refresher"
	"github.com/z0rr0/wattcast/series"
	"github.com/z0rr0/wattcast/watcher"
)

var (
	// Version is a git version.
	Version = "v0.0.0" //nolint:gochecknoglobals
	// Revision is a revision number.
	Revision = "git:0000000" //nolint:gochecknoglobals
	// BuildDate is a build date.
	BuildDate = "1970-01-01T00:00:00" //nolint:gochecknoglobals
	// GoVersion is a runtime Go language version.
	GoVersion = runtime.Version() //nolint:gochecknoglobals
)

func main() {
	const name = "WattCast"
	var (
		configPath = "config.toml"
		importPath string
		horizon    int
		outputPath = "forecast.csv"
		plotPath   string
	)

	defer func() {
		if r := recover(); r != nil {
			slog.Error("abnormal termination", "version", Version, "error", r)
			_, writeErr := fmt.Fprintf(os.Stderr, "abnormal termination: %v\n", string(debug.Stack()))
			if writeErr != nil {
				slog.Error("failed to write stack trace", "error", writeErr)
			}
		}
	}()

	flag.StringVar(&configPath, "config", configPath, "path to configuration file")
	flag.StringVar(&importPath, "import", importPath, "path to import hourly readings from CSV file")
	flag.IntVar(&horizon, "forecast", horizon, "forecast hours once and exit")
	flag.StringVar(&outputPath, "output", outputPath, "forecast CSV file path")
	flag.StringVar(&plotPath, "plot", plotPath, "forecast PNG plot file path, optional")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return
	}

	// init slog logger
	initLogger(cfg.Base.Debug, os.Stdout)
	slog.Info(
		"Start",
		"name", name, "version", Version, "revision", Revision,
		"go", GoVersion, "build", BuildDate, "debug", cfg.Base.Debug,
	)

	dbCtx, dbCancel := context.WithTimeout(context.Background(), cfg.Database.Timeout)
	defer dbCancel()

	db, err := databaser.New(dbCtx, cfg.Database.Path)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		return
	}
	defer func() {
		if dbErr := db.Close(); dbErr != nil {
			slog.Error("failed to close database", "error", dbErr)
		}
	}()

	if importPath != "" {
		slog.Info("importing data", "path", importPath)
		n, importErr := importer.ImportCSV(db, importPath, cfg.Database.Timeout)
		if importErr != nil {
			slog.Error("failed to import data", "error", importErr)
			return
		}
		slog.Info("data imported", "readings", n)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var recorder *metrics.Recorder
	if cfg.Metrics.Active {
		recorder = metrics.New()
	}
	worker := newRefresher(cfg, db, recorder)

	if horizon > 0 {
		if err = forecastOnce(ctx, cfg, worker, horizon, outputPath, plotPath); err != nil {
			slog.Error("forecast failed", "error", err)
		}
		return
	}

	metricsDoneCh := runMetrics(ctx, cfg, recorder)

	refresherDoneCh, err := runRefresher(ctx, cfg, worker)
	if err != nil {
		slog.Error("failed to start refresher", "error", err)
		return
	}

	err = runTelegramBot(ctx, cfg, db, worker)
	if err != nil {
		slog.Error("telegram bot failed", "error", err)
		return
	}

	// wait for termination
	<-ctx.Done()
	slog.Info("shutting down")
	<-refresherDoneCh
	<-metricsDoneCh
	slog.Info("stopped")
}

func newRefresher(cfg *config.Config, db *databaser.DB, recorder *metrics.Recorder) *refresher.Refresher {
	return &refresher.Refresher{
		Db: db,
		Model: predictor.Options{
			ModelPath:    cfg.Model.Path,
			FeaturesPath: cfg.Model.Features,
			Target:       cfg.Forecast.Target,
		},
		Engine:       cfg.Forecast.Engine(),
		Horizon:      cfg.Forecast.Horizon,
		HistoryHours: cfg.Forecast.HistoryHours,
		Period:       cfg.Refresher.Interval,
		QueryTimeout: cfg.Database.Timeout,
		Recorder:     recorder,
		Retention:    cfg.Refresher.Keep,
	}
}

// forecastOnce writes a forecast of horizon hours to outputPath and optionally plots it.
func forecastOnce(ctx context.Context, cfg *config.Config, r *refresher.Refresher, horizon int, outputPath, plotPath string) error {
	if horizon > cfg.Forecast.MaxHorizon {
		return fmt.Errorf("forecast hours %d exceed max horizon %d", horizon, cfg.Forecast.MaxHorizon)
	}

	f, err := r.Forecast(ctx, horizon)
	if err != nil {
		return err
	}

	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}

	err = series.WriteCSV(file, f.Result.Steps, cfg.Forecast.Target)
	if closeErr := file.Close(); closeErr != nil {
		err = errors.Join(err, fmt.Errorf("close output: %w", closeErr))
	}
	if err != nil {
		return err
	}
	slog.Info("forecast written", "path", outputPath, "result", f.Result)

	if plotPath == "" {
		return nil
	}

	history, err := f.History.Tail(horizon).Points(cfg.Forecast.Target)
	if err != nil {
		return fmt.Errorf("plot history: %w", err)
	}

	imageData, err := plotter.Graph(history, f.Result.Steps, series.WallClock)
	if err != nil {
		return fmt.Errorf("plot: %w", err)
	}

	if err = os.WriteFile(plotPath, imageData, 0o644); err != nil { //nolint:gosec
		return fmt.Errorf("write plot: %w", err)
	}

	slog.Info("plot written", "path", plotPath)
	return nil
}

func runRefresher(ctx context.Context, cfg *config.Config, r *refresher.Refresher) (<-chan struct{}, error) {
	if !cfg.Refresher.Active {
		slog.Info("refresher is inactive")
		doneCh := make(chan struct{})
		close(doneCh)
		return doneCh, nil
	}

	return r.Run(ctx)
}

func runMetrics(ctx context.Context, cfg *config.Config, recorder *metrics.Recorder) <-chan struct{} {
	doneCh := make(chan struct{})
	if recorder == nil {
		slog.Info("metrics are inactive")
		close(doneCh)
		return doneCh
	}

	go func() {
		defer close(doneCh)
		if err := recorder.Serve(ctx, cfg.Metrics.Addr); err != nil {
			slog.Error("metrics server failed", "error", err)
		}
	}()

	return doneCh
}

func runTelegramBot(ctx context.Context, cfg *config.Config, db *databaser.DB, f watcher.Forecaster) error {
	if !cfg.Telegram.Active {
		slog.Info("telegram bot is inactive")
		return nil
	}
	var (
		mwLog   bot.Middleware = watcher.BotLoggingMiddleware
		mwAuth  bot.Middleware = watcher.BotAuthMiddleware(cfg.Base.AdminIDs)
		mwAdmin bot.Middleware = watcher.BotAdminOnlyMiddleware(cfg.Base.AdminIDs)
	)

	botHandler := watcher.NewBotHandler(db, cfg, f)
	b, err := bot.New(cfg.Telegram.Token, bot.WithDefaultHandler(mwLog(botHandler.WrapDefaultHandler)))
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}

	ok, err := b.SetMyCommands(ctx, &bot.SetMyCommandsParams{Commands: watcher.Commands})
	if err != nil {
		return fmt.Errorf("failed to set bot commands: %w", err)
	}
	if !ok {
		return errors.New("bot commands are not set")
	}

	b.RegisterHandler(bot.HandlerTypeMessageText, watcher.CmdStart, bot.MatchTypeCommand, botHandler.WrapHandleStart, mwLog, mwAuth)
	b.RegisterHandler(bot.HandlerTypeMessageText, watcher.CmdStats, bot.MatchTypeCommand, botHandler.WrapHandleStats, mwLog, mwAuth)
	b.RegisterHandler(bot.HandlerTypeMessageText, watcher.CmdHistory, bot.MatchTypeCommand, botHandler.WrapHandleHistory, mwLog, mwAuth)
	b.RegisterHandler(bot.HandlerTypeMessageText, watcher.CmdForecast, bot.MatchTypeCommand, botHandler.WrapHandleForecast, mwLog, mwAuth)
	b.RegisterHandler(bot.HandlerTypeMessageText, watcher.CmdLatest, bot.MatchTypeCommand, botHandler.WrapHandleLatest, mwLog, mwAuth)
	b.RegisterHandler(bot.HandlerTypeCallbackQueryData, watcher.CallbackPrefix, bot.MatchTypePrefix, botHandler.WrapHandleCallback, mwLog, mwAuth)

	// admin handlers
	b.RegisterHandler(bot.HandlerTypeMessageText, watcher.CmdRefresh, bot.MatchTypeCommand, botHandler.WrapHandleRefresh, mwLog, mwAdmin)

	slog.Info("bot is starting")
	go b.Start(ctx)
	return nil
}

// initLogger initializes logger with debug mode and writer.
func initLogger(debug bool, w io.Writer) {
	var level = slog.LevelInfo

	if debug {
		level = slog.LevelDebug
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}
