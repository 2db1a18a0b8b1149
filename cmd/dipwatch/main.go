package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rewired-gh/dipwatch/internal/config"
	"github.com/rewired-gh/dipwatch/internal/gateio"
	"github.com/rewired-gh/dipwatch/internal/httpapi"
	"github.com/rewired-gh/dipwatch/internal/logger"
	"github.com/rewired-gh/dipwatch/internal/metrics"
	"github.com/rewired-gh/dipwatch/internal/models"
	"github.com/rewired-gh/dipwatch/internal/monitor"
	"github.com/rewired-gh/dipwatch/internal/notify"
	"github.com/rewired-gh/dipwatch/internal/storage"
	"github.com/rewired-gh/dipwatch/internal/telegram"
)

const defaultConfigPath = "configs/config.yaml"

var (
	configPath = flag.String("config", defaultConfigPath, "Path to configuration file")
	threshold  = flag.String("threshold", "", "Drawdown alert threshold in percent (overrides config)")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] [threshold_percent]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	path := resolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if raw, ok := thresholdOverride(); ok {
		cfg.SetThreshold(raw)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	lg := logger.New(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	if path != "" {
		lg.Info("Configuration loaded from %s", path)
	}
	for _, w := range cfg.Warnings {
		lg.Warn("%s", w)
	}

	if err := run(cfg, lg); err != nil {
		lg.Fatal("%v", err)
	}
}

// resolveConfigPath drops the default path when it does not exist so that
// the service can run on defaults and environment alone.
func resolveConfigPath() string {
	explicit := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicit = true
		}
	})
	if !explicit {
		if _, err := os.Stat(*configPath); err != nil {
			return ""
		}
	}
	return *configPath
}

// thresholdOverride returns the -threshold flag, else the first positional argument.
func thresholdOverride() (string, bool) {
	if *threshold != "" {
		return *threshold, true
	}
	if flag.NArg() > 0 {
		return flag.Arg(0), true
	}
	return "", false
}

func run(cfg *config.Config, lg *logger.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			lg.Info("Shutdown signal received, cleaning up...")
			cancel()
		case <-ctx.Done():
		}
	}()

	rec := metrics.New()

	var journal *storage.Storage
	if cfg.Storage.Enabled {
		var err error
		journal, err = storage.New(cfg.Storage.MaxAlerts, cfg.Storage.DBPath)
		if err != nil {
			return fmt.Errorf("failed to initialize alert journal: %w", err)
		}
		defer func() {
			if err := journal.Close(); err != nil {
				lg.Error("Failed to close alert journal: %v", err)
			}
		}()
		lg.Info("Alert journal at %s (max %d alerts)", cfg.Storage.DBPath, cfg.Storage.MaxAlerts)
	}

	// mon is assigned below; the Telegram commands only read it once listening starts
	var mon *monitor.Monitor
	snapshot := func() models.StatsView { return mon.Snapshot() }

	sinks := []notify.Sink{notify.NewLogSink(lg)}
	if journal != nil {
		sinks = append(sinks, notify.NewJournalSink(journal))
	}

	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		var err error
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, telegram.Options{
			MaxRetries:     cfg.Telegram.MaxRetries,
			RetryDelayBase: cfg.Telegram.RetryDelayBase,
			RatePerSecond:  cfg.Telegram.RatePerSecond,
			Burst:          cfg.Telegram.Burst,
			Stats:          snapshot,
			Log:            lg,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize Telegram client: %w", err)
		}
		sinks = append(sinks, telegramClient)
		lg.Info("Telegram client initialized successfully")
	} else {
		lg.Debug("Telegram notifications disabled")
	}

	if cfg.Kafka.Enabled {
		kafkaSink, err := notify.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return fmt.Errorf("failed to initialize Kafka sink: %w", err)
		}
		defer kafkaSink.Close()
		sinks = append(sinks, kafkaSink)
		lg.Info("Publishing alerts to Kafka topic %s", cfg.Kafka.Topic)
	}

	if cfg.Redis.Enabled {
		redisSink, err := notify.NewRedisSink(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Channel)
		if err != nil {
			return fmt.Errorf("failed to initialize Redis sink: %w", err)
		}
		defer redisSink.Close()
		sinks = append(sinks, redisSink)
		lg.Info("Publishing alerts to Redis channel %s", cfg.Redis.Channel)
	}

	dispatcher := notify.NewDispatcher(cfg.Notify.QueueSize, cfg.Notify.DrainTimeout, rec, lg, sinks...)

	mon = monitor.New(monitor.Config{
		Threshold:   cfg.Monitor.ThresholdPercent,
		Symbols:     cfg.Monitor.Symbols,
		Feed:        cfg.Feed.Exchange,
		PriceFields: cfg.Monitor.PriceFields,
		Delimiter:   cfg.Monitor.CanonicalDelimiter,
		Alternates:  cfg.Monitor.AlternateDelimiters,
	}, dispatcher, rec, lg)

	feed := gateio.NewClient(gateio.Options{
		WSURL:          cfg.Feed.WSURL,
		RESTURL:        cfg.Feed.RESTURL,
		Channel:        cfg.Feed.Channel,
		SubscribeBatch: cfg.Feed.SubscribeBatch,
		PingInterval:   cfg.Feed.PingInterval,
		ReconnectDelay: cfg.Feed.ReconnectDelay,
		Timeout:        cfg.Feed.Timeout,
		MaxRetries:     cfg.Feed.MaxRetries,
		Log:            lg,
	})

	if cfg.Monitor.DiscoverPairs {
		pairs, err := feed.FetchPairs(ctx, cfg.Monitor.QuoteCurrency)
		switch {
		case err != nil && len(cfg.Monitor.Symbols) == 0:
			return fmt.Errorf("pair discovery failed and no symbols are configured: %w", err)
		case err != nil:
			lg.Warn("Pair discovery failed, continuing with %d configured symbols: %v", len(cfg.Monitor.Symbols), err)
		default:
			mon.Initialize(cfg.Monitor.ThresholdPercent, pairs)
		}
	}

	view := mon.Snapshot()
	symbols := make([]string, 0, len(view.Entries))
	for _, e := range view.Entries {
		symbols = append(symbols, e.Symbol)
	}
	if len(symbols) == 0 {
		return fmt.Errorf("no symbols to monitor: configure monitor.symbols or enable monitor.discover_pairs")
	}

	lg.Info("Starting dip monitor (pairs: %d, threshold: %.2f%%, report interval: %v)",
		len(symbols), mon.Threshold(), cfg.Monitor.ReportInterval)

	// Alerts keep flowing while ingestion drains, so the dispatcher gets its own context.
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	defer stopDispatch()

	var wg sync.WaitGroup

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		dispatcher.Run(dispatchCtx)
	}()

	events := make(chan models.FeedEvent, 4096)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(events)
		if err := feed.Run(ctx, symbols, events); err != nil {
			lg.Error("Feed stopped: %v", err)
			cancel()
		}
	}()

	ingestDone := make(chan struct{})
	go func() {
		defer close(ingestDone)
		for ev := range events {
			mon.HandleEvent(ev)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		notify.RunReporters(ctx, cfg.Monitor.ReportInterval, mon.Snapshot, lg,
			notify.NewLogReporter(lg), rec)
	}()

	if cfg.HTTP.Enabled {
		srv := httpapi.NewServer(cfg.HTTP.Addr, httpapi.NewHandler(mon, journal, rec.Handler()), lg)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx, cfg.HTTP.ShutdownTimeout); err != nil {
				lg.Error("HTTP server failed: %v", err)
				cancel()
			}
		}()
	}

	if telegramClient != nil {
		telegramClient.ListenForCommands(ctx)
	}

	<-ctx.Done()

	<-ingestDone
	stopDispatch()
	<-dispatchDone
	wg.Wait()

	final := mon.Snapshot()
	lg.Info("Service stopped: %d alerts delivered, %d dropped; final stats: %d pairs, %d with data, uptime %s",
		dispatcher.Delivered(), dispatcher.Dropped(),
		final.TotalSymbols, final.SymbolsWithData, logger.Duration(final.Uptime))
	return nil
}
