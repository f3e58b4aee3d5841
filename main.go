package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"linechat/config"
	"linechat/db"
	"linechat/observ"
	"linechat/server"
)

type store interface {
	server.Store
	Close() error
}

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	database, err := openStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	srv := server.New(database, &server.ServerConfig{
		Host:            cfg.Host,
		Port:            cfg.Port,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		MaxLineLength:   cfg.MaxLineLength,
		MessageRate:     cfg.MessageRate,
		MessageBurst:    cfg.MessageBurst,
		AllowMultiLogin: cfg.AllowMultiLogin,
	}, logger)

	if cfg.ControlSocket != "" {
		os.Remove(cfg.ControlSocket)
		control, err := net.Listen("unix", cfg.ControlSocket)
		if err != nil {
			logger.Warn("failed to create control socket", zap.String("path", cfg.ControlSocket), zap.Error(err))
		} else {
			defer os.Remove(cfg.ControlSocket)
			defer control.Close()
			go srv.ServeControl(control)
		}
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var reason string
	select {
	case err := <-serveErr:
		return fmt.Errorf("serve: %w", err)
	case sig := <-sigChan:
		reason = "maintenance"
		logger.Info("received signal", zap.String("signal", sig.String()))
	case reason = <-srv.ShutdownRequested():
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx, reason); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
	return nil
}

func openStore(cfg *config.Config, logger *zap.Logger) (store, error) {
	if db.IsPostgresURL(cfg.DBPath) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return db.NewPostgres(ctx, cfg.DBPath, logger)
	}
	return db.New(cfg.DBPath, logger)
}
