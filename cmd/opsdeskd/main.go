package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	apiPkg "github.com/opsdesk-io/opsdesk/internal/api"
	"github.com/opsdesk-io/opsdesk/internal/access"
	"github.com/opsdesk-io/opsdesk/internal/broadcast"
	"github.com/opsdesk-io/opsdesk/internal/classifier"
	"github.com/opsdesk-io/opsdesk/internal/config"
	"github.com/opsdesk-io/opsdesk/internal/dedup"
	"github.com/opsdesk-io/opsdesk/internal/engine"
	"github.com/opsdesk-io/opsdesk/internal/logbuf"
	"github.com/opsdesk-io/opsdesk/internal/mailbox"
	slackbox "github.com/opsdesk-io/opsdesk/internal/mailbox/slack"
	"github.com/opsdesk-io/opsdesk/internal/mailbox/telegram"
	"github.com/opsdesk-io/opsdesk/internal/provider"
	"github.com/opsdesk-io/opsdesk/internal/search"
	"github.com/opsdesk-io/opsdesk/internal/ticket"
	"github.com/opsdesk-io/opsdesk/internal/tracker"
)

func main() {
	configPath := flag.String("config", "", "Path to config JSON file")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	// Set up logging
	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logBuf := logbuf.New(2000)
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(logbuf.NewHandler(jsonHandler, logBuf))

	// Load config (file or env)
	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("opsdeskd starting", "data_dir", cfg.Daemon.DataDir)

	// 1. Initialize the LLM provider
	prov, err := buildProvider(cfg, logger)
	if err != nil {
		logger.Error("failed to init provider", "error", err)
		os.Exit(1)
	}

	// 2. Ticket store + dedup guard primed from the chain
	os.MkdirAll(cfg.Daemon.DataDir, 0o755)
	dbPath := cfg.Daemon.DataDir + "/tickets.db"
	store, err := ticket.NewSQLiteStore(dbPath)
	if err != nil {
		logger.Error("failed to open ticket store", "path", dbPath, "error", err)
		os.Exit(1)
	}

	guard := dedup.New()
	if ids, err := store.EventIDs(); err != nil {
		logger.Error("failed to load event ids", "error", err)
		os.Exit(1)
	} else {
		guard.Prime(ids)
		logger.Info("dedup guard primed", "events", len(ids))
	}

	// 3. Mailbox adapter (telegram or slack) behind the reply dedup window
	reader, rawReplier, err := buildMailbox(cfg, logger)
	if err != nil {
		logger.Error("failed to init mailbox", "error", err)
		os.Exit(1)
	}
	replier := mailbox.NewDedupReplier(rawReplier, cfg.Daemon.ReplyDedupWindowDuration(), logger.With("component", "replier"))

	// 4. Tracker and access clients
	var trackerOpts []tracker.AzureOption
	if cfg.Tracker.BaseURL != "" {
		trackerOpts = append(trackerOpts, tracker.WithAzureBaseURL(cfg.Tracker.BaseURL))
	}
	trk := tracker.NewAzure(cfg.Tracker.Organization, cfg.Tracker.Project, cfg.Tracker.Token, trackerOpts...)

	var accessOpts []access.GitHubOption
	if cfg.Access.BaseURL != "" {
		accessOpts = append(accessOpts, access.WithGitHubBaseURL(cfg.Access.BaseURL))
	}
	ctrl := access.NewGitHub(cfg.Access.Owner, cfg.Access.Token, accessOpts...)

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 5. Search projection (optional) and its periodic resync
	var index *search.Client
	if cfg.Search.BaseURL != "" {
		index = search.NewClient(cfg.Search.BaseURL, logger.With("component", "search"))
		schedule := cfg.Search.ResyncSchedule
		if schedule == "" {
			schedule = "@every 5m"
		}
		resyncer, err := search.NewResyncer(store, index, schedule, logger.With("component", "resync"))
		if err != nil {
			logger.Error("failed to init search resync", "error", err)
			os.Exit(1)
		}
		go safeGo(logger, "search-resync", func() { resyncer.Start(ctx) })
		logger.Info("search projection enabled", "base_url", cfg.Search.BaseURL, "resync", schedule)
	}

	// 6. Lifecycle broadcast: websocket hub, plus Kafka when configured
	hub := broadcast.NewHub(logger.With("component", "ws"))
	sinks := broadcast.Fanout{hub}
	if brokers := broadcast.ParseBrokers(cfg.Broadcast.KafkaBrokers); len(brokers) > 0 && cfg.Broadcast.KafkaTopic != "" {
		kafkaSink := broadcast.NewKafkaSink(brokers, cfg.Broadcast.KafkaTopic, logger.With("component", "kafka"))
		sinks = append(sinks, kafkaSink)
		defer kafkaSink.Close()
		logger.Info("kafka lifecycle feed enabled", "topic", cfg.Broadcast.KafkaTopic)
	}

	// 7. The engine itself
	params := engine.Params{
		Store:             store,
		Guard:             guard,
		Classifier:        classifier.NewLLM(prov, logger.With("component", "classifier")),
		Tracker:           trk,
		Access:            ctrl,
		Reader:            reader,
		Replier:           replier,
		Sink:              sinks,
		Logger:            logger.With("component", "engine"),
		PollInterval:      cfg.Daemon.PollIntervalDuration(),
		ReconcileInterval: cfg.Daemon.ReconcileIntervalDuration(),
		FetchLimit:        cfg.Daemon.FetchLimit,
	}
	if index != nil {
		params.Index = index
	}
	eng := engine.New(params)

	if cfg.Daemon.AutoStart {
		if err := eng.Start(); err != nil {
			logger.Error("failed to auto-start engine", "error", err)
			os.Exit(1)
		}
		logger.Info("engine auto-started", "session_id", eng.SessionID())
	}

	// 8. Control API server
	var searcher apiPkg.Searcher
	if index != nil && index.Enabled() {
		searcher = index
	}
	apiSrv := apiPkg.NewServer(eng, store, searcher, logBuf, hub, apiPkg.Config{
		Host: cfg.API.Host,
		Port: cfg.API.Port,
		Key:  cfg.API.Key,
	}, logger.With("component", "api"))

	go safeGo(logger, "api-server", func() { apiSrv.Start(ctx) })
	logger.Info("api server started", "port", cfg.API.Port)

	// 9. Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	eng.Stop()
	cancel()
	logger.Info("opsdeskd stopped")
}

// buildProvider selects the "default" provider from config. Other entries
// are initialized only to validate them early.
func buildProvider(cfg *config.Config, logger *slog.Logger) (provider.Provider, error) {
	providers := make(map[string]provider.Provider)
	for name, pcfg := range cfg.Providers {
		switch pcfg.Type {
		case "anthropic":
			var opts []provider.AnthropicOption
			if pcfg.BaseURL != "" {
				opts = append(opts, provider.WithAnthropicBaseURL(pcfg.BaseURL))
			}
			if pcfg.Model != "" {
				opts = append(opts, provider.WithAnthropicModel(pcfg.Model))
			}
			providers[name] = provider.NewAnthropic(pcfg.APIKey, opts...)
		default: // "openai" or empty
			var opts []provider.OpenAIOption
			if pcfg.BaseURL != "" {
				opts = append(opts, provider.WithBaseURL(pcfg.BaseURL))
			}
			if pcfg.Model != "" {
				opts = append(opts, provider.WithModel(pcfg.Model))
			}
			providers[name] = provider.NewOpenAI(pcfg.APIKey, opts...)
		}
		logger.Info("provider initialized", "name", name, "type", pcfg.Type, "model", pcfg.Model)
	}

	prov, ok := providers["default"]
	if !ok {
		return nil, fmt.Errorf("no 'default' provider configured")
	}
	return prov, nil
}

// buildMailbox wires the configured message channel. Telegram wins when both
// are present.
func buildMailbox(cfg *config.Config, logger *slog.Logger) (mailbox.Reader, mailbox.Replier, error) {
	if cfg.Mailbox.Telegram != nil {
		a, err := telegram.New(telegram.Config{
			Token:     cfg.Mailbox.Telegram.Token,
			AllowFrom: cfg.Mailbox.Telegram.AllowFrom,
		}, logger.With("mailbox", "telegram"))
		if err != nil {
			return nil, nil, err
		}
		logger.Info("telegram mailbox started")
		return a, a, nil
	}
	if cfg.Mailbox.Slack != nil {
		a, err := slackbox.New(slackbox.Config{
			BotToken: cfg.Mailbox.Slack.Token,
			Channel:  cfg.Mailbox.Slack.Channel,
		}, logger.With("mailbox", "slack"))
		if err != nil {
			return nil, nil, err
		}
		logger.Info("slack mailbox started")
		return a, a, nil
	}
	return nil, nil, fmt.Errorf("no mailbox configured")
}

// safeGo runs fn with panic recovery.
func safeGo(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("goroutine panicked", "name", name, "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn()
}
