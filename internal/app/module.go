package app

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/arenabook/chatcore/internal/bus"
	"github.com/arenabook/chatcore/internal/cache"
	"github.com/arenabook/chatcore/internal/chat"
	"github.com/arenabook/chatcore/internal/config"
	"github.com/arenabook/chatcore/internal/conn"
	"github.com/arenabook/chatcore/internal/gateway"
	"github.com/arenabook/chatcore/internal/logging"
	"github.com/arenabook/chatcore/internal/room"
)

// Params holds the identity the client runs as.
type Params struct {
	UserID     string
	Credential string
	ConfigPath string // empty = default location
}

// Module composes the chat core: config, logger, bus, cache, transport,
// connection manager, resolver and client, with lifecycle teardown.
func Module(p Params) fx.Option {
	return fx.Module("chatcore",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideCacheDB,
			provideCache,
			provideTransport,
			provideRoomAPI,
			provideConnManager,
			provideResolver,
			provideClient,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) *config.Config {
	path := p.ConfigPath
	if path == "" {
		path = config.FilePath()
	}
	return config.LoadOrDefault(path)
}

func provideLogger() (*zap.Logger, error) {
	return logging.New(config.LogPath())
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideCacheDB(logger *zap.Logger) (*cache.DB, error) {
	db, err := cache.Open(config.CacheDBPath())
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("cache initialized", zap.String("path", config.CacheDBPath()))
	return db, nil
}

func provideCache(db *cache.DB, logger *zap.Logger) *cache.Cache {
	return cache.New(db, logger)
}

func provideTransport(cfg *config.Config) gateway.Transport {
	return gateway.NewWebsocketTransport(cfg.ServerURL)
}

func provideRoomAPI(p Params, cfg *config.Config) gateway.RoomAPI {
	return gateway.NewHTTPRoomAPI(cfg.RoomAPIURL, p.Credential, cfg.FetchTimeout)
}

func provideConnManager(t gateway.Transport, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *conn.Manager {
	return conn.NewManager(t, b, conn.Options{
		ConnectTimeout:   cfg.ConnectTimeout,
		ReconnectBackoff: cfg.ReconnectBackoff,
		MaxAttempts:      cfg.ReconnectMaxAttempts,
	}, logger)
}

func provideResolver(api gateway.RoomAPI, c *cache.Cache, cfg *config.Config, logger *zap.Logger) *room.Resolver {
	return room.NewResolver(api, c, cfg.FetchTimeout, logger)
}

func provideClient(
	p Params,
	cfg *config.Config,
	b *bus.Bus,
	mgr *conn.Manager,
	resolver *room.Resolver,
	c *cache.Cache,
	api gateway.RoomAPI,
	logger *zap.Logger,
) *chat.Client {
	return chat.NewClient(p.UserID, p.Credential, cfg, b, mgr, resolver, c, api, logger)
}

func registerLifecycle(lc fx.Lifecycle, client *chat.Client, db *cache.DB, b *bus.Bus, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			client.Disconnect()
			b.Close()
			if err := db.Close(); err != nil {
				logger.Warn("error closing cache", zap.Error(err))
			}
			logger.Info("chat core stopped")
			return nil
		},
	})
}
