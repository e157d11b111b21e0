package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Tyrowin/chatrelay/internal/auth"
	"github.com/Tyrowin/chatrelay/internal/config"
	"github.com/Tyrowin/chatrelay/internal/fanout"
	"github.com/Tyrowin/chatrelay/internal/logging"
	"github.com/Tyrowin/chatrelay/internal/server"
	"github.com/Tyrowin/chatrelay/internal/store"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("chat relay exited")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	logging.Info().Str("instance", cfg.InstanceID).Str("fanout", cfg.Fanout.Driver).Msg("starting chat relay")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	data, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer data.Close()

	bus, cleanup, err := openBus(ctx, cfg.Fanout)
	if err != nil {
		return err
	}
	defer cleanup()

	verifier, err := auth.NewJWTVerifier(cfg.Auth.JWTSecret)
	if err != nil {
		return err
	}

	guarded := fanout.NewGuarded(bus, fanout.BreakerConfig{
		FailureThreshold: cfg.Fanout.Breaker.FailureThreshold,
		OpenTimeout:      cfg.Fanout.Breaker.OpenTimeout,
		PublishTimeout:   cfg.Fanout.Breaker.PublishTimeout,
	})

	relay := server.NewRelay(server.RelayOptions{
		InstanceID:           cfg.InstanceID,
		ChatChannel:          cfg.Fanout.ChatChannel,
		NotificationsChannel: cfg.Fanout.NotificationsChannel,
		Verifier:             verifier,
		Oracle:               data,
		Messages:             data,
		Publisher:            guarded,
		Registry:             server.NewRegistry(),
	})
	hub := server.NewHub(cfg.Server.ShutdownTimeout)

	srv := server.NewServer(hub, relay, server.Options{
		InstanceID:     cfg.InstanceID,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Client: server.ClientOptions{
			MaxMessageSize: cfg.Server.MaxMessageSize,
			RateBurst:      cfg.Server.RateLimit.Burst,
			RateInterval:   cfg.Server.RateLimit.RefillInterval,
		},
		Verifier:    verifier,
		Oracle:      data,
		Messages:    data,
		Checks:      []server.HealthCheck{{Name: "store", Check: data.Ping}},
		FanoutState: guarded.State,
	})

	httpServer := server.CreateServer(cfg.Server.Port, srv.Routes())
	sup := server.NewSupervisor("chatrelay", cfg.Server.ShutdownTimeout,
		hub,
		server.NewFanoutBridge(relay, bus),
		server.NewHTTPService(httpServer, cfg.Server.ShutdownTimeout),
	)

	err = sup.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor: %w", err)
	}
	logging.Info().Msg("chat relay stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (store.DataStore, error) {
	var seed *store.Seed
	if cfg.SeedFile != "" {
		var err error
		if seed, err = store.LoadSeed(cfg.SeedFile); err != nil {
			return nil, err
		}
	}

	if cfg.URL == "" {
		logging.Warn().Msg("DATABASE_URL not set, using in-memory store")
		mem := store.NewMemory()
		if seed != nil {
			mem.Apply(seed)
			logSeed(cfg.SeedFile, seed)
		}
		return mem, nil
	}
	pg, err := store.NewPostgres(ctx, cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.Migrate {
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
	}
	if seed != nil {
		if err := pg.Apply(ctx, seed); err != nil {
			pg.Close()
			return nil, err
		}
		logSeed(cfg.SeedFile, seed)
	}
	return pg, nil
}

func logSeed(path string, seed *store.Seed) {
	logging.Info().Int("users", len(seed.Users)).Int("friendships", len(seed.Friendships)).
		Str("file", path).Msg("store seeded")
}

// openBus returns the configured backbone and a cleanup func that closes it
// and any embedded server.
func openBus(ctx context.Context, cfg config.FanoutConfig) (fanout.Bus, func(), error) {
	switch cfg.Driver {
	case config.DriverMemory:
		bus := fanout.NewMemoryBus()
		return bus, func() { _ = bus.Close() }, nil

	case config.DriverNATS:
		url := cfg.NATSURL
		var embedded *fanout.EmbeddedNATS
		if cfg.NATSEmbedded {
			var err error
			embedded, err = fanout.StartEmbeddedNATS("127.0.0.1", cfg.NATSEmbeddedPort)
			if err != nil {
				return nil, nil, err
			}
			url = embedded.ClientURL()
			logging.Info().Str("url", url).Msg("embedded NATS server started")
		}
		bus, err := fanout.NewNATSBus(url)
		if err != nil {
			if embedded != nil {
				embedded.Shutdown()
			}
			return nil, nil, err
		}
		return bus, func() {
			_ = bus.Close()
			if embedded != nil {
				embedded.Shutdown()
			}
		}, nil

	default:
		bus, err := fanout.NewRedisBus(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return bus, func() { _ = bus.Close() }, nil
	}
}
