package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/gravitas-games/slotkeeper/internal/catalog"
	"github.com/gravitas-games/slotkeeper/internal/config"
	"github.com/gravitas-games/slotkeeper/internal/server"
)

func main() {
	l := logrus.New()
	l.Info("Starting slotkeeper server.")

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./configs/server.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		l.WithError(err).Fatal("Failed to load configuration.")
	}
	configureLogger(l, cfg.Log)
	l.Infof("Configuration loaded from [%s].", configPath)

	cat, err := catalog.Load(cfg.Inventory.CatalogPath)
	if err != nil {
		l.WithError(err).Fatal("Failed to load item catalog.")
	}
	l.Infof("Loaded [%d] items from [%s].", cat.Len(), cfg.Inventory.CatalogPath)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	srv, err := server.New(cfg, cat, rdb, l)
	if err != nil {
		l.WithError(err).Fatal("Failed to create server.")
	}

	errChan := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := srv.Start(addr); err != nil {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		l.WithError(err).Fatal("Server error.")
	case sig := <-sigChan:
		l.Infof("Received signal [%v], shutting down.", sig)
	}

	if err := srv.Shutdown(); err != nil {
		l.WithError(err).Error("Error during shutdown.")
	}

	l.Info("Server stopped.")
}

func configureLogger(l *logrus.Logger, cfg config.LogConfig) {
	if cfg.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		l.WithError(err).Warnf("Unknown log level [%s], using info.", cfg.Level)
		level = logrus.InfoLevel
	}
	l.SetLevel(level)
}
