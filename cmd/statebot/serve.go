package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/memohai/statebot/internal/boot"
	"github.com/memohai/statebot/internal/channel"
	"github.com/memohai/statebot/internal/channel/adapters/discord"
	"github.com/memohai/statebot/internal/channel/adapters/email"
	"github.com/memohai/statebot/internal/channel/adapters/telegram"
	"github.com/memohai/statebot/internal/config"
	"github.com/memohai/statebot/internal/handlers"
	channelchecker "github.com/memohai/statebot/internal/healthcheck/checkers/channel"
	storagechecker "github.com/memohai/statebot/internal/healthcheck/checkers/storage"
	"github.com/memohai/statebot/internal/journal"
	"github.com/memohai/statebot/internal/logger"
	"github.com/memohai/statebot/internal/roles"
	"github.com/memohai/statebot/internal/router"
	"github.com/memohai/statebot/internal/server"
	"github.com/memohai/statebot/internal/state"
	"github.com/memohai/statebot/internal/storage"
	"github.com/memohai/statebot/internal/usermeta"
)

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect the configured channels and serve the HTTP endpoints",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			app := newApp(resolveConfigPath(*configPath))
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
}

func newApp(configPath string) *fx.App {
	return fx.New(
		fx.Provide(
			func() (config.Config, error) { return provideConfig(configPath) },
			provideLogger,
			provideStorage,
			provideStateService,
			provideRolesService,
			provideUserMetaService,
			provideRouter,
			provideJournal,
			provideInboundProcessor,
			telegram.NewAdapter,
			discord.NewAdapter,
			email.NewAdapter,
			provideChannelRegistry,
			provideChannelManager,
			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(provideHealthHandler),
			provideServerHandler(provideRoutesHandler),
			provideServerHandler(provideJournalHandler),
			provideServer,
		),
		fx.Invoke(
			startJournal,
			startChannelManager,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	)
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideStorage(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (storage.Storage, error) {
	store, err := boot.OpenStorage(context.Background(), log, cfg.Storage)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return boot.CloseStorage(ctx, store) }})
	return store, nil
}

func provideStateService(log *slog.Logger, store storage.Storage, cfg config.Config) *state.Service {
	return state.NewService(log, store, boot.StateConfig(cfg))
}

func provideRolesService(log *slog.Logger, store storage.Storage, cfg config.Config) *roles.Service {
	return roles.NewService(log, store, boot.RolesConfig(cfg))
}

func provideUserMetaService(log *slog.Logger, store storage.Storage, cfg config.Config) *usermeta.Service {
	return usermeta.NewService(log, store, boot.UserMetaConfig(cfg))
}

func provideRouter(log *slog.Logger, states *state.Service, roleService *roles.Service, meta *usermeta.Service, cfg config.Config) (*router.Router, error) {
	r := router.NewRouter(log, states, roleService, boot.RouterOptions(cfg))
	if err := r.RegisterBootstrap(meta, boot.BootstrapDefaults(cfg)); err != nil {
		return nil, err
	}
	if err := registerAccountRoutes(r, roleService, meta); err != nil {
		return nil, err
	}
	return r, nil
}

func provideJournal(log *slog.Logger, store storage.Storage, cfg config.Config) (*journal.Journal, error) {
	return journal.New(log, store, boot.JournalConfig(cfg))
}

func provideInboundProcessor(r *router.Router, j *journal.Journal, cfg config.Config) channel.InboundProcessor {
	if cfg.Journal.Enabled {
		return j.Processor(r)
	}
	return r
}

func provideChannelRegistry(tg *telegram.Adapter, dc *discord.Adapter, mail *email.Adapter) *channel.Registry {
	registry := channel.NewRegistry()
	registry.MustRegister(tg)
	registry.MustRegister(dc)
	registry.MustRegister(mail)
	return registry
}

func provideChannelManager(log *slog.Logger, registry *channel.Registry, processor channel.InboundProcessor, j *journal.Journal, cfg config.Config) *channel.Manager {
	manager := channel.NewManager(log, registry, processor,
		channel.WithInboundWorkers(cfg.Inbound.Workers),
		channel.WithInboundQueueSize(cfg.Inbound.QueueSize),
	)
	if cfg.Journal.Enabled {
		manager.Use(j.Middleware())
	}
	return manager
}

func provideHealthHandler(log *slog.Logger, store storage.Storage, manager *channel.Manager) *handlers.HealthHandler {
	return handlers.NewHealthHandler(log,
		storagechecker.NewChecker(log, store),
		channelchecker.NewChecker(log, manager),
	)
}

func provideRoutesHandler(log *slog.Logger, r *router.Router) *handlers.RoutesHandler {
	return handlers.NewRoutesHandler(log, r)
}

func provideJournalHandler(log *slog.Logger, j *journal.Journal, cfg config.Config) *handlers.JournalHandler {
	if !cfg.Journal.Enabled {
		return handlers.NewJournalHandler(log, nil)
	}
	return handlers.NewJournalHandler(log, j)
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, server.Options{
		Addr:      params.Config.Server.Addr,
		JWTSecret: params.Config.Server.JWTSecret,
	}, params.ServerHandlers...)
}

func startJournal(lc fx.Lifecycle, log *slog.Logger, j *journal.Journal, cfg config.Config) error {
	if !cfg.Journal.Enabled {
		return nil
	}
	pruner, err := journal.NewPruner(log, j, cfg.Journal.PruneSchedule, cfg.Journal.Retention)
	if err != nil {
		return err
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := j.LogStart(ctx); err != nil {
				log.Warn("journal start record failed", slog.Any("error", err))
			}
			pruner.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := j.LogStop(ctx); err != nil {
				log.Warn("journal stop record failed", slog.Any("error", err))
			}
			return pruner.Stop(ctx)
		},
	})
	return nil
}

func startChannelManager(lc fx.Lifecycle, log *slog.Logger, manager *channel.Manager, r *router.Router, tg *telegram.Adapter, cfg config.Config) {
	r.Observe(tg)
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			// A channel that fails to connect is reported by /health and does
			// not stop the others.
			if err := manager.Start(ctx, boot.ChannelConfigs(cfg)); err != nil {
				log.Error("channel start failed", slog.Any("error", err))
			}
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			return manager.Shutdown(stopCtx)
		},
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
