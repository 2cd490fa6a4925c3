// feedhub multiplexes one upstream market-feed connection across many
// consumers: browser sessions over websocket, the tick archive and the
// last-price cache.
//
// Usage: feedhub --config configs/feedhub.yaml --env-file .env
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/tickhub/internal/cache"
	"github.com/rickgao/tickhub/internal/config"
	"github.com/rickgao/tickhub/internal/database"
	"github.com/rickgao/tickhub/internal/hub"
	"github.com/rickgao/tickhub/internal/instrument"
	"github.com/rickgao/tickhub/internal/logging"
	"github.com/rickgao/tickhub/internal/metrics"
	"github.com/rickgao/tickhub/internal/model"
	"github.com/rickgao/tickhub/internal/push"
	"github.com/rickgao/tickhub/internal/router"
	"github.com/rickgao/tickhub/internal/version"
	"github.com/rickgao/tickhub/internal/writer"
)

const (
	watchlistConsumer model.ConsumerID = "watchlist"
	shutdownTimeout                    = 30 * time.Second
)

func main() {
	cmd := &cli.Command{
		Name:    "feedhub",
		Usage:   "Share one market feed connection across many consumers",
		Version: version.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
				Value:   "configs/feedhub.yaml",
				Sources: cli.EnvVars("TICKHUB_CONFIG"),
			},
			&cli.StringSliceFlag{
				Name:  "env-file",
				Usage: "dotenv files loaded before the config is expanded",
				Value: []string{".env"},
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "feedhub:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	if err := config.LoadEnvFiles(cmd.StringSlice("env-file")...); err != nil {
		return err
	}

	configPath := cmd.String("config")
	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	logger = logger.With(zap.String("instance_id", cfg.Instance.ID))
	logger.Info("starting feedhub", append(version.Fields(), zap.String("config", configPath))...)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	mode, err := model.ParseMode(cfg.Feed.Mode)
	if err != nil {
		return err
	}
	watchlist, err := instrument.ParseAll(cfg.Feed.Watchlist)
	if err != nil {
		return fmt.Errorf("feed.watchlist: %w", err)
	}

	// Upstream
	dialer, err := newDialer(cfg.Feed, logger)
	if err != nil {
		return err
	}

	// Watchlist sinks
	var (
		watchSinks router.Tee
		deps       = make(map[string]pinger)
		pool       *pgxpool.Pool
		tickWriter *writer.TickWriter
		store      *cache.RedisStore
		lastPrice  *cache.LastPrice
	)

	if cfg.Database.Enabled {
		logger.Info("connecting to database",
			zap.String("host", cfg.Database.Host),
			zap.Int("port", cfg.Database.Port),
			zap.String("database", cfg.Database.Name),
		)
		pool, err = database.Connect(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()

		if err := database.EnsureSchema(ctx, pool); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}

		tickWriter = writer.NewTickWriter(writer.WriterConfig{
			BatchSize:     cfg.Writers.BatchSize,
			FlushInterval: cfg.Writers.FlushInterval,
			BufferSize:    cfg.Writers.BufferSize,
		}, pool, m, logger)
		if err := tickWriter.Start(ctx); err != nil {
			return fmt.Errorf("start tick writer: %w", err)
		}
		watchSinks = append(watchSinks, tickWriter)
		deps["database"] = pool
	}

	if cfg.Redis.Enabled {
		store = cache.NewRedisStore(redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}))
		defer store.Close()

		lastPrice = cache.NewLastPrice(cache.Config{
			KeyPrefix:     cfg.Redis.KeyPrefix,
			FlushInterval: cfg.Redis.FlushInterval,
			TTL:           cfg.Redis.TTL,
		}, store, m, logger)
		if err := lastPrice.Start(ctx); err != nil {
			return fmt.Errorf("start last-price cache: %w", err)
		}
		watchSinks = append(watchSinks, lastPrice)
		deps["redis"] = store
	}

	var watchSink router.Sink = watchSinks
	if len(watchSinks) == 0 {
		watchSink = router.SinkFunc(func(_ model.ConsumerID, tick model.Tick) router.AcceptResult {
			logger.Debug("tick",
				zap.Stringer("instrument", tick.Key),
				zap.String("kind", string(tick.Kind)),
				zap.Stringer("ltp", tick.LTP),
			)
			return router.Delivered
		})
	}

	sinks := router.NewMux(nil)
	sinks.Set(watchlistConsumer, watchSink)

	// Hub
	h := hub.New(hub.Config{
		Mode:               mode,
		LivenessWindow:     cfg.Feed.LivenessWindow,
		ConnectTimeout:     cfg.Feed.ConnectTimeout,
		CheckInterval:      cfg.Feed.CheckInterval,
		DialTimeout:        cfg.Feed.DialTimeout,
		SubscribeTimeout:   cfg.Feed.SubscribeTimeout,
		ReconnectBaseDelay: cfg.Feed.ReconnectBaseDelay,
		ReconnectMaxDelay:  cfg.Feed.ReconnectMaxDelay,
	}, dialer, sinks, m, logger)

	var pushServer *push.Server
	if cfg.Push.Enabled {
		pushServer = push.NewServer(push.Config{
			SessionBuffer:  cfg.Push.SessionBuffer,
			WriteTimeout:   cfg.Push.WriteTimeout,
			AllowedOrigins: cfg.Push.AllowedOrigins,
		}, h, m, logger)
		sinks.SetFallback(pushServer)
	}

	if dialer != nil {
		if err := h.Start(ctx); err != nil {
			return fmt.Errorf("start hub: %w", err)
		}

		if len(watchlist) > 0 {
			if err := h.RegisterConsumer(ctx, watchlistConsumer, watchlist, mode); err != nil {
				return fmt.Errorf("register watchlist: %w", err)
			}
			logger.Info("watchlist registered", zap.Int("instruments", len(watchlist)))
		}
	}

	// HTTP
	healthMux := newHealthHandler(h, dialer != nil, deps, logger)
	healthMux.Handle(cfg.Metrics.Path, metrics.Handler(reg))
	servers := []*http.Server{{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           healthMux,
		ReadHeaderTimeout: 10 * time.Second,
	}}
	if pushServer != nil {
		pushMux := http.NewServeMux()
		pushMux.Handle(cfg.Push.Path, pushServer)
		servers = append(servers, &http.Server{
			Addr:              cfg.Push.Addr,
			Handler:           pushMux,
			ReadHeaderTimeout: 10 * time.Second,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			logger.Info("http server listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server %s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	logger.Info("feedhub running",
		zap.Stringer("mode", mode),
		zap.Bool("feed", dialer != nil),
		zap.String("health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port)),
		zap.Bool("push", pushServer != nil),
		zap.Bool("archive", tickWriter != nil),
		zap.Bool("cache", lastPrice != nil),
	)

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()

		// Sessions, then the hub, then the sinks.
		if pushServer != nil {
			if err := pushServer.Close(shutdownCtx); err != nil {
				logger.Warn("push server close", zap.Error(err))
			}
		}
		if err := h.Stop(shutdownCtx); err != nil {
			logger.Warn("hub stop", zap.Error(err))
		}
		if tickWriter != nil {
			if err := tickWriter.Stop(shutdownCtx); err != nil {
				logger.Warn("tick writer stop", zap.Error(err))
			}
		}
		if lastPrice != nil {
			if err := lastPrice.Stop(shutdownCtx); err != nil {
				logger.Warn("last-price cache stop", zap.Error(err))
			}
		}
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("http server shutdown", zap.String("addr", srv.Addr), zap.Error(err))
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("feedhub failed", zap.Error(err))
		return err
	}

	stats := h.Stats()
	logger.Info("feedhub stopped",
		zap.Int64("ticks", stats.TicksReceived),
		zap.Int64("reconnects", stats.Reconnects),
	)
	return nil
}
