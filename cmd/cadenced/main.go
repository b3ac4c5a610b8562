// Command cadenced runs a scheduler node: the engine loops plus the HTTP
// management and worker API.
//
//	cadenced -config /etc/cadence/cadenced.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/api"
	"github.com/xraph/cadence/cluster/k8s"
	"github.com/xraph/cadence/engine"
	"github.com/xraph/cadence/event"
	"github.com/xraph/cadence/event/redisstream"
	"github.com/xraph/cadence/store"
	"github.com/xraph/cadence/store/memory"
	"github.com/xraph/cadence/store/postgres"
	"github.com/xraph/cadence/store/sqlite"
)

func main() {
	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load(".env.local"); err != nil {
			fmt.Fprintln(os.Stderr, "no .env or .env.local file found, using environment variables")
		}
	}

	configPath := flag.String("config", os.Getenv("CADENCE_CONFIG"), "path to the YAML config file")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cadenced: %v\n", err)
		os.Exit(1)
	}
	logger := cfg.Log.NewLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("cadenced exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	st, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	sched, err := cadence.New(
		cadence.WithLogger(logger),
		cadence.WithStore(st),
		cadence.WithConfig(cfg.SchedulerConfig()),
	)
	if err != nil {
		return err
	}

	opts, cleanup, err := engineOptions(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	eng, err := engine.Build(sched, opts...)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	if err := eng.Start(ctx); err != nil {
		return err
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.New(eng, logger).Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("api listening", slog.String("addr", server.Addr), slog.String("node_id", eng.NodeID()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve api: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sched.Config().ShutdownTimeout)
		defer cancel()
		return errors.Join(server.Shutdown(shutdownCtx), eng.Stop(shutdownCtx))
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg StoreConfig, logger *slog.Logger) (store.Store, error) {
	switch cfg.Driver {
	case "postgres":
		st, err := postgres.New(ctx, cfg.DSN, postgres.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return st, nil
	case "sqlite":
		st, err := sqlite.Open(ctx, cfg.DSN, sqlite.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return st, nil
	default:
		logger.Warn("using the in-memory store, state is lost on exit")
		return memory.New(), nil
	}
}

// engineOptions builds the sink and leadership options. cleanup releases
// the clients they hold.
func engineOptions(cfg *Config, logger *slog.Logger) ([]engine.Option, func(), error) {
	var opts []engine.Option
	cleanup := func() {}

	if cfg.Leadership.NodeID != "" {
		opts = append(opts, engine.WithNodeID(cfg.Leadership.NodeID))
	}

	switch cfg.Sink.Driver {
	case "redis":
		client := goredis.NewClient(&goredis.Options{Addr: cfg.Sink.RedisAddr})
		cleanup = func() { _ = client.Close() }

		sinkOpts := []redisstream.Option{
			redisstream.WithCodec(redisstream.CodecFor(cfg.Sink.Codec)),
			redisstream.WithMaxLen(cfg.Sink.MaxLen),
			redisstream.WithLogger(logger),
		}
		if cfg.Sink.Stream != "" {
			sinkOpts = append(sinkOpts, redisstream.WithStream(cfg.Sink.Stream))
		}
		if cfg.Sink.StreamPerType {
			sinkOpts = append(sinkOpts, redisstream.WithStreamPerType())
		}
		opts = append(opts, engine.WithSink(redisstream.New(client, sinkOpts...)))
	default:
		opts = append(opts, engine.WithSink(event.LogSink{Logger: logger}))
	}

	if cfg.Leadership.Driver == "k8s" {
		restCfg, err := rest.InClusterConfig()
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("k8s in-cluster config: %w", err)
		}
		clientset, err := kubernetes.NewForConfig(restCfg)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("k8s client: %w", err)
		}
		leaseOpts := []k8s.Option{k8s.WithLogger(logger)}
		if cfg.Leadership.LeaseName != "" {
			leaseOpts = append(leaseOpts, k8s.WithLeaseName(cfg.Leadership.LeaseName))
		}
		opts = append(opts, engine.WithLeadership(k8s.New(clientset, cfg.Leadership.Namespace, leaseOpts...)))
	}
	return opts, cleanup, nil
}
