package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"convometrics-server/pkg/analytics"
	"convometrics-server/pkg/config"
	http_server "convometrics-server/pkg/http"
	"convometrics-server/pkg/lexicon"
	"convometrics-server/pkg/messaging"
	"convometrics-server/pkg/metrics"
	"convometrics-server/pkg/storage"
)

var (
	logger     = logrus.New()
	appConfig  *config.Config
	manager    *analytics.Manager
	httpServer *http_server.Server
	amqpClient *messaging.AMQPClient
	store      storage.SnapshotStore
	wsHandler  *http_server.AnalyticsWebSocketHandler

	// Context for graceful shutdown
	rootCtx    context.Context
	rootCancel context.CancelFunc
)

func main() {
	// Set up logger with basic configuration (will be updated after config is loaded)
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	logger.SetOutput(os.Stdout)

	rootCtx, rootCancel = context.WithCancel(context.Background())
	defer rootCancel()

	if err := initialize(); err != nil {
		logger.WithError(err).Fatal("Failed to initialize application")
	}

	if appConfig.HTTP.Enabled {
		httpServer.Start()
		logger.Info("HTTP server started")
	} else {
		logger.Info("HTTP server is disabled by configuration")
	}

	// Graceful shutdown handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigChan
	logger.WithField("signal", sig.String()).Info("Received shutdown signal, cleaning up...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	rootCancel()

	// Shutdown HTTP server first so no new messages arrive while the
	// manager drains.
	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Error shutting down HTTP server")
		} else {
			logger.Info("HTTP server shut down successfully")
		}
	}

	// Close all conversations and publish final snapshots.
	if manager != nil {
		manager.Shutdown()
		logger.Info("Conversation manager shut down")
	}

	// Give the final snapshot callbacks a moment to flush.
	time.Sleep(500 * time.Millisecond)

	if amqpClient != nil {
		amqpClient.Disconnect()
		logger.Info("AMQP client disconnected")
	}

	if store != nil {
		if err := store.Close(); err != nil {
			logger.WithError(err).Error("Error closing snapshot store")
		} else {
			logger.Info("Snapshot store closed")
		}
	}

	logger.Info("Application shut down gracefully")
}

// initialize loads configuration and initializes all components
func initialize() error {
	var err error
	appConfig, err = config.Load(logger)
	if err != nil {
		return err
	}

	setupLogger(appConfig.Logging)

	metrics.Init(logger)

	// Lexicon and sentiment scorer
	provider, err := lexicon.Load(logger, appConfig.Lexicon.Path)
	if err != nil {
		return err
	}

	scorer := analytics.NewScorer(logger, provider, analytics.ScorerConfig{
		PositiveThreshold: appConfig.Analytics.PositiveThreshold,
		NegativeThreshold: appConfig.Analytics.NegativeThreshold,
	})

	manager = analytics.NewManager(logger, scorer, analytics.ManagerConfig{
		Conversation: analytics.ConversationConfig{
			Scorer: analytics.ScorerConfig{
				PositiveThreshold: appConfig.Analytics.PositiveThreshold,
				NegativeThreshold: appConfig.Analytics.NegativeThreshold,
			},
			EngagementCeiling: appConfig.Analytics.EngagementCeiling,
			WindowSize:        appConfig.Analytics.WindowSize,
		},
		MaxIdleTime:     appConfig.Analytics.MaxIdleTime,
		CleanupInterval: appConfig.Analytics.CleanupInterval,
		SnapshotEvery:   appConfig.Analytics.SnapshotEvery,
	})

	// Snapshot store: Redis when configured, in-memory otherwise.
	if appConfig.Redis.Enabled {
		redisStore, err := storage.NewRedisSnapshotStore(storage.RedisConfig{
			Address:      appConfig.Redis.Address,
			Password:     appConfig.Redis.Password,
			Database:     appConfig.Redis.Database,
			PoolSize:     appConfig.Redis.PoolSize,
			DialTimeout:  appConfig.Redis.DialTimeout,
			ReadTimeout:  appConfig.Redis.ReadTimeout,
			WriteTimeout: appConfig.Redis.WriteTimeout,
			TTL:          appConfig.Redis.SnapshotTTL,
			KeyPrefix:    appConfig.Redis.KeyPrefix,
		}, logger)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, falling back to in-memory snapshot store")
			store = storage.NewMemorySnapshotStore(logger, appConfig.Redis.SnapshotTTL)
		} else {
			store = redisStore
		}
	} else {
		store = storage.NewMemorySnapshotStore(logger, appConfig.Redis.SnapshotTTL)
	}

	manager.AddSnapshotCallback(func(snapshot *analytics.MetricsSnapshot) {
		if err := store.Store(snapshot); err != nil {
			logger.WithError(err).WithField("conversation_id", snapshot.ConversationID).Warn("Failed to persist snapshot")
		}
	})

	// AMQP snapshot publishing, best-effort.
	if appConfig.Messaging.AMQPUrl != "" && appConfig.Messaging.AMQPQueueName != "" {
		amqpClient = messaging.NewAMQPClient(logger, messaging.AMQPConfig{
			URL:          appConfig.Messaging.AMQPUrl,
			QueueName:    appConfig.Messaging.AMQPQueueName,
			ExchangeName: appConfig.Messaging.AMQPExchange,
			RoutingKey:   appConfig.Messaging.AMQPRoutingKey,
		})

		if err := amqpClient.Connect(); err != nil {
			logger.WithError(err).Warn("AMQP connection failed, snapshots will not be published until the broker is reachable")
		}

		manager.AddSnapshotCallback(func(snapshot *analytics.MetricsSnapshot) {
			if err := amqpClient.PublishSnapshot(snapshot); err != nil {
				logger.WithError(err).WithField("conversation_id", snapshot.ConversationID).Debug("Failed to publish snapshot")
			}
		})
	} else {
		logger.Info("AMQP not configured, snapshot publishing disabled")
	}

	// HTTP server plus WebSocket streaming.
	httpServer = http_server.NewServer(logger, &http_server.Config{
		Port:          appConfig.HTTP.Port,
		Enabled:       appConfig.HTTP.Enabled,
		EnableMetrics: appConfig.HTTP.EnableMetrics,
		EnableAPI:     appConfig.HTTP.EnableAPI,
		ReadTimeout:   appConfig.HTTP.ReadTimeout,
		WriteTimeout:  appConfig.HTTP.WriteTimeout,
	}, manager)

	httpServer.SetSnapshotStore(store)
	if amqpClient != nil {
		httpServer.SetAMQPStatusCheck(amqpClient.IsConnected)
	}

	wsHandler = http_server.NewAnalyticsWebSocketHandler(logger)
	wsHandler.Start()
	httpServer.SetAnalyticsWebSocketHandler(wsHandler)

	manager.AddSnapshotCallback(wsHandler.BroadcastSnapshot)

	logger.Info("Application initialized successfully")
	return nil
}

// setupLogger applies the loaded logging configuration
func setupLogger(cfg config.LoggingConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}

	if cfg.OutputFile != "" {
		file, err := os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			logger.WithError(err).Warn("Failed to open log output file, using stdout")
		} else {
			logger.SetOutput(file)
		}
	}
}
