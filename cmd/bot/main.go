package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"tg_agent_bridge/internal/agent"
	"tg_agent_bridge/internal/config"
	"tg_agent_bridge/internal/feature/capability"
	"tg_agent_bridge/internal/feature/group"
	"tg_agent_bridge/internal/feature/relay"
	"tg_agent_bridge/internal/health"
	"tg_agent_bridge/internal/logging"
	"tg_agent_bridge/internal/store"
	"tg_agent_bridge/internal/telegram"
)

const (
	mongoConnectTimeout     = 10 * time.Second
	mongoIndexTimeout       = 5 * time.Second
	mongoDisconnectTimeout  = 5 * time.Second
	registryLoadTimeout     = 10 * time.Second
	botNameTimeout          = 10 * time.Second
	telegramShutdownTimeout = 10 * time.Second
	serverShutdownTimeout   = 10 * time.Second
	relayDrainTimeout       = 30 * time.Second
)

func main() {
	configOnly := flag.Bool("config-only", false, "load and print configuration then exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Error("configuration error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		logging.Error("logger setup error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "logger setup error: %v\n", err)
		os.Exit(1)
	}

	if *configOnly {
		logging.Info("configuration check", logging.Fields{"event": "config_only"})
		fmt.Println("configuration check: ok")
		fmt.Println(config.FormatRedacted(cfg))
		return
	}

	logger.WithFields(logging.Fields{
		"event":            "startup",
		"registry_backend": cfg.RegistryBackend,
		"http_port":        cfg.HTTPPort,
	}).Info("configuration loaded")

	persister, mongoManager, err := openPersister(cfg, logger)
	if err != nil {
		fail(logger, "registry backend error", err)
	}

	loadCtx, cancelLoad := context.WithTimeout(context.Background(), registryLoadTimeout)
	registry, err := group.Open(loadCtx, persister, logger)
	cancelLoad()
	if err != nil {
		fail(logger, "registry load error", err)
	}

	tgClient, err := telegram.NewClient(cfg, logger)
	if err != nil {
		fail(logger, "telegram client setup error", err)
	}

	nameCtx, cancelName := context.WithTimeout(context.Background(), botNameTimeout)
	botName, err := tgClient.BotName(nameCtx)
	cancelName()
	if err != nil {
		fail(logger, "bot name resolution error", err)
	}

	agentClient, err := agent.NewClient(cfg.AgentAPIBase, cfg.AgentAPIKey, cfg.AgentModel,
		agent.WithSystemPrompt(relay.SystemPrompt),
	)
	if err != nil {
		fail(logger, "agent client setup error", err)
	}

	router, err := relay.NewRouter(registry, tgClient, agentClient, relay.Options{
		BotName:     botName,
		Timeout:     cfg.AgentTimeout,
		Rate:        cfg.RelayRate,
		Burst:       cfg.RelayBurst,
		MaxInflight: cfg.RelayMaxInflight,
	}, logger)
	if err != nil {
		fail(logger, "relay router setup error", err)
	}
	tgClient.SetMessageHandler(router)

	handlers := capability.NewHandlers(registry, tgClient, logger)
	server, err := agent.NewServer(cfg.HTTPPort, handlers.Capabilities(), logger, health.NewHandler(registry, logger))
	if err != nil {
		fail(logger, "agent server setup error", err)
	}

	logger.WithFields(logging.Fields{
		"event":    "telegram_ready",
		"bot_name": botName,
	}).Info("telegram client initialized")

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()

	telegramCtx, cancelTelegram := context.WithCancel(context.Background())
	tgDone := make(chan struct{})

	go func() {
		tgClient.Start(telegramCtx)
		close(tgDone)
	}()

	select {
	case <-signalCtx.Done():
		logger.WithField("event", "shutdown_signal").Info("received termination signal, stopping telegram polling")
	case <-tgDone:
		logger.WithField("event", "telegram_stopped_early").Warn("telegram client stopped before shutdown signal")
	case err := <-serverErr:
		logger.WithField("event", "http_stopped_early").WithError(err).Error("agent capability server stopped before shutdown signal")
	}

	cancelTelegram()

	waitCtx, cancelWait := context.WithTimeout(context.Background(), telegramShutdownTimeout)
	select {
	case <-tgDone:
	case <-waitCtx.Done():
		logger.WithField("event", "telegram_shutdown_timeout").Warn("timed out waiting for telegram client to stop")
	}
	cancelWait()

	serverCtx, cancelServer := context.WithTimeout(context.Background(), serverShutdownTimeout)
	if err := server.Shutdown(serverCtx); err != nil {
		logger.WithField("event", "http_shutdown_error").WithError(err).Error("agent capability server shutdown error")
	}
	cancelServer()

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), relayDrainTimeout)
	if err := router.Wait(drainCtx); err != nil {
		logger.WithField("event", "relay_drain_timeout").WithError(err).Warn("timed out waiting for in-flight relays")
	}
	cancelDrain()

	if mongoManager != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
		if err := mongoManager.Close(shutdownCtx); err != nil {
			logger.WithError(err).Error("mongo disconnect error")
		} else {
			logger.WithField("event", "mongo_disconnect").Info("mongo client disconnected")
		}
		cancelShutdown()
	}

	logger.WithField("event", "shutdown_complete").Info("shutdown complete")
}

// openPersister selects the registry backend. The manager is nil for the
// file backend.
func openPersister(cfg config.Config, logger *logrus.Entry) (group.Persister, *store.Manager, error) {
	switch cfg.RegistryBackend {
	case config.BackendMongo:
		connectCtx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
		manager, err := store.NewManager(connectCtx, cfg)
		cancel()
		if err != nil {
			return nil, nil, fmt.Errorf("mongo connection: %w", err)
		}
		logger.WithField("event", "mongo_connect").Info("connected to mongo")

		indexCtx, cancelIndexes := context.WithTimeout(context.Background(), mongoIndexTimeout)
		err = manager.EnsureIndexes(indexCtx)
		cancelIndexes()
		if err != nil {
			return nil, nil, fmt.Errorf("mongo index setup: %w", err)
		}
		logger.WithField("event", "mongo_indexes").Info("ensured monitored group indexes")

		return group.NewMongoPersister(manager.MonitoredGroups(), manager), manager, nil
	case config.BackendFile:
		logger.WithFields(logging.Fields{
			"event": "registry_file",
			"path":  cfg.RegistryFile,
		}).Info("using file registry backend")
		return group.NewFilePersister(cfg.RegistryFile), nil, nil
	default:
		return nil, nil, errors.New("unsupported registry backend: " + cfg.RegistryBackend)
	}
}

func fail(logger *logrus.Entry, msg string, err error) {
	logger.WithError(err).Error(msg)
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}
