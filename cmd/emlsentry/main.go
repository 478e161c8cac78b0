package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/emlsentry/emlsentry/internal/analyzer"
	"github.com/emlsentry/emlsentry/internal/cache"
	"github.com/emlsentry/emlsentry/internal/clients"
	"github.com/emlsentry/emlsentry/internal/notifications"
	"github.com/emlsentry/emlsentry/internal/webserver"
)

func main() {
	ctx := context.Background()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		logger.SetLevel(level)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	// Load .env file if present
	if err := godotenv.Load(); err != nil {
		logger.Info("No .env file found. Proceeding with environment variables.")
	}

	clientCfg, err := clients.LoadConfig()
	if err != nil {
		logger.Fatalf("Failed to load client configuration: %v", err)
	}
	clientSet, err := clients.NewSet(clientCfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize backend clients: %v", err)
	}

	analyzerCfg, err := analyzer.LoadConfig()
	if err != nil {
		logger.Fatalf("Failed to load analyzer configuration: %v", err)
	}
	engine := analyzer.New(clientSet, analyzerCfg.MaxConcurrency, logger)

	cacheCfg, err := cache.LoadConfig()
	if err != nil {
		logger.Fatalf("Failed to load cache configuration: %v", err)
	}
	responseCache, err := cache.New(cacheCfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize cache: %v", err)
	}
	if responseCache != nil {
		defer responseCache.Close()
		logger.Infof("Cache initialized successfully (%s)", cacheCfg.Type)
	} else {
		logger.Info("No cache configured. Responses will not be persisted.")
	}

	var notifier *notifications.Notifier
	notificationCfg := notifications.LoadNotificationConfig()
	if len(notificationCfg.ShoutrrrURLs) > 0 {
		notifier, err = notifications.NewNotifier(notificationCfg.ShoutrrrURLs)
		if err != nil {
			logger.Fatalf("Failed to initialize notifier: %v", err)
		}
		logger.Info("Notifier initialized successfully")
	}

	webServerConfig, err := webserver.NewWebserverConfig()
	if err != nil {
		logger.Fatalf("Failed to load webserver configuration: %v", err)
	}

	webServer := webserver.NewWebServer(engine, clientSet, responseCache, notifier, webServerConfig, logger)

	ctxCancel, cancel := context.WithCancel(ctx)
	defer cancel()

	server, err := webserver.StartWebServer(ctxCancel, webServer)
	if err != nil {
		logger.Fatalf("Failed to start web server: %v", err)
	}

	// Listen for OS signals to handle graceful shutdown
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigs
	logger.Infof("Received signal: %s. Initiating shutdown...", sig)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("Failed to gracefully shutdown the server: %v", err)
	}

	logger.Info("Shutdown complete. Exiting.")
}
