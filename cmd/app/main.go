package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ReilBleem13/PalMessenger/internal/config"
	"github.com/ReilBleem13/PalMessenger/internal/metrics"
	"github.com/ReilBleem13/PalMessenger/internal/push"
	"github.com/ReilBleem13/PalMessenger/internal/repository"
	"github.com/ReilBleem13/PalMessenger/internal/repository/bus"
	"github.com/ReilBleem13/PalMessenger/internal/repository/cache"
	"github.com/ReilBleem13/PalMessenger/internal/repository/database"
	"github.com/ReilBleem13/PalMessenger/internal/server"
	"github.com/ReilBleem13/PalMessenger/internal/service"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
)

type eventBus interface {
	service.Bus
	Close() error
}

func main() {
	if err := run(); err != nil {
		slog.Error("Service stopped with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.App.LogLevel),
	})).With("instance_id", cfg.App.InstanceID))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	slog.Info("Redis inited")

	db, err := database.NewPostgresClient(ctx, cfg.Database.DSN())
	if err != nil {
		redisClient.Close()
		return err
	}
	slog.Info("Database inited")

	if err := database.MigrateUp(db); err != nil {
		return multierr.Combine(err, db.Close(), redisClient.Close())
	}
	slog.Info("Migrations completed")

	var fanout eventBus
	switch cfg.Bus.Driver {
	case "nats":
		nc, err := bus.ConnectNATS(ctx, cfg.Bus.NATSURL, "chat-"+cfg.App.InstanceID)
		if err != nil {
			return multierr.Combine(err, db.Close(), redisClient.Close())
		}
		fanout = bus.NewNATSBus(nc, cfg.Bus.Channel, cfg.App.InstanceID)
	default:
		fanout = bus.NewRedisBus(redisClient, cfg.Bus.Channel, cfg.App.InstanceID)
	}
	slog.Info("Fan-out bus inited", "driver", cfg.Bus.Driver, "channel", cfg.Bus.Channel)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	subRepository := repository.NewPushSubscriptionRepo(db)

	var pushSender service.PushSender = push.NopSender{}
	if cfg.Push.Enabled() {
		pushSender = push.NewWebPushSender(subRepository, cfg.Push, m)
		slog.Info("Web push enabled")
	}

	msgService := service.NewMessageService(
		repository.NewPresenceRepo(redisClient, cfg.App.InstanceID, cfg.Presence.HeartbeatTTL),
		fanout,
		repository.NewMessageRepo(db),
		repository.NewUserRepo(db),
		pushSender,
		m,
		service.Options{
			InstanceID:        cfg.App.InstanceID,
			RecoveryBatchSize: cfg.Delivery.RecoveryBatchSize,
			MaxMessageLength:  cfg.Delivery.MaxMessageLength,
			ClientSendBuffer:  cfg.Delivery.ClientSendBuffer,
			HeartbeatInterval: cfg.Presence.HeartbeatInterval,
		},
	)
	if err := msgService.Start(ctx); err != nil {
		return multierr.Combine(err, fanout.Close(), db.Close(), redisClient.Close())
	}

	opts := []server.Option{
		server.WithMetrics(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})),
		server.WithShutdownTimeout(cfg.Delivery.ShutdownTimeout),
	}
	if cfg.App.MigrateDownOnExit {
		opts = append(opts, server.WithMigrateDown(func() error {
			return database.MigrateDown(db)
		}))
	}

	h := server.NewHandler(msgService, subRepository, cfg.App.InstanceID)
	srv := server.NewServer(h, cfg.JWT.Secret, opts...)

	err = srv.Run(ctx, ":"+cfg.App.Port)

	// presence removal in Disconnect needs redis, so it closes last
	return multierr.Combine(err, fanout.Close(), db.Close(), redisClient.Close())
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
