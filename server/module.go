package server

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"miku/config"
	"miku/provider"
	"miku/websearch"
)

const pingTimeout = 10 * time.Second

// Module returns the fx module for the relay. The logger is built by the
// caller so that startup failures before fx runs are logged the same way.
func Module(cfg *config.Config, logger *zap.Logger) fx.Option {
	return fx.Options(
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
		fx.Module("relay",
			fx.Supply(cfg, logger),
			fx.Provide(
				provideProvider,
				provideSearcher,
				provideServer,
			),
			fx.Invoke(registerLifecycle),
		),
	)
}

func provideProvider(cfg *config.Config, logger *zap.Logger) (provider.Provider, error) {
	p, err := provider.NewProvider(provider.Config{
		Type:    provider.MapProviderIDToType(cfg.Provider.Type),
		BaseURL: cfg.Provider.BaseURL,
		Model:   cfg.Provider.Model,
		APIKey:  cfg.Provider.APIKey,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("provider ready", zap.String("provider", p.Name()), zap.String("model", p.Model()))
	return p, nil
}

// provideSearcher returns nil when no search key is configured.
func provideSearcher(cfg *config.Config, logger *zap.Logger) (Searcher, error) {
	if cfg.Search.APIKey == "" {
		logger.Info("web search disabled")
		return nil, nil
	}
	c, err := websearch.NewClient(cfg.Search.APIKey, cfg.Search.Endpoint, nil)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func provideServer(cfg *config.Config, p provider.Provider, searcher Searcher, logger *zap.Logger) (*Server, error) {
	return New(Options{
		Addr:      cfg.Server.Listen,
		Provider:  p,
		Searcher:  searcher,
		Token:     cfg.Server.Token,
		RateLimit: cfg.Server.RateLimit,
		RateBurst: cfg.Server.RateBurst,
		Logger:    logger,
	})
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, p provider.Provider, shutdowner fx.Shutdowner, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			ln, err := srv.Listen()
			if err != nil {
				return err
			}
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
				defer cancel()
				if err := p.Ping(ctx); err != nil {
					logger.Warn("provider unreachable", zap.String("provider", p.Name()), zap.Error(err))
				}
			}()
			go func() {
				if err := srv.Serve(ln); err != nil {
					logger.Error("relay server error", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			err := srv.Shutdown(ctx)
			logger.Info("relay stopped")
			_ = logger.Sync()
			return err
		},
	})
}
