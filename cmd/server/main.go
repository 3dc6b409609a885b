package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nebulaide/backend/internal/config"
	"github.com/nebulaide/backend/internal/logging"
	"github.com/nebulaide/backend/internal/server"
)

func main() {
	cfg := config.LoadOrDefault()

	// Flags override environment for development convenience.
	port := flag.String("port", cfg.Server.Port, "Server port")
	host := flag.String("host", cfg.Server.Host, "Server host")
	extensionsDir := flag.String("extensions", cfg.Extensions.Dir, "Pre-installed extensions directory")
	logLevel := flag.String("log-level", cfg.Logging.Level, "Log level (debug, info, warn, error)")
	dev := flag.Bool("dev", cfg.Logging.Development, "Development mode logging")
	flag.Parse()

	cfg.Server.Port = *port
	cfg.Server.Host = *host
	cfg.Extensions.Dir = *extensionsDir
	cfg.Logging.Level = *logLevel
	cfg.Logging.Development = *dev

	log, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stdout"},
	})
	if err != nil {
		log = logging.NewDefault()
		log.Warn("invalid logging config, using defaults", zap.Error(err))
	}
	defer log.Sync()

	srv, err := server.New(cfg, log)
	if err != nil {
		log.Fatal("failed to build server", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Run(net.JoinHostPort(cfg.Server.Host, cfg.Server.Port))
	}()

	select {
	case <-sigChan:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Error("shutdown error", zap.Error(err))
		}
	case err := <-errChan:
		if err != nil {
			log.Fatal("server error", zap.Error(err))
		}
	}
}
