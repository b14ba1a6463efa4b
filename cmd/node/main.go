package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gridwire/gridwire/internal/config"
	"github.com/gridwire/gridwire/internal/logging"
	"github.com/gridwire/gridwire/internal/server"
	"github.com/gridwire/gridwire/internal/store"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML/JSON config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() // best-effort flush

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer st.Close()

	srv := server.New(cfg, logger, st)
	if err := srv.Start(ctx); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.Store, error) {
	switch cfg.Store.Backend {
	case "memory":
		logger.Info("using in-memory store; state is not shared across instances")
		return store.NewMemory(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis %s: %w", cfg.Store.Redis.Addr, err)
		}
		logger.Info("connected to redis", zap.String("addr", cfg.Store.Redis.Addr))
		return store.NewRedis(client, logger), nil
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Store.Backend)
	}
}
