package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/enverbisevac/distlock/errors"
	"github.com/enverbisevac/distlock/lock"
	"github.com/enverbisevac/distlock/lock/httpapi"
	"github.com/enverbisevac/distlock/lock/inmem"
	lockpgx "github.com/enverbisevac/distlock/lock/pgx"
	lockredis "github.com/enverbisevac/distlock/lock/redis"
	"github.com/enverbisevac/distlock/pubsub"
	psinmem "github.com/enverbisevac/distlock/pubsub/inmem"
	pspgx "github.com/enverbisevac/distlock/pubsub/pgx"
	psredis "github.com/enverbisevac/distlock/pubsub/redis"
	"github.com/enverbisevac/distlock/validator"
	"github.com/go-logr/logr"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

const (
	backendMemory   = "memory"
	backendRedis    = "redis"
	backendPostgres = "postgres"
)

type serveConfig struct {
	Addr            string
	Backend         string
	RedisURL        string
	RedisTimeout    time.Duration
	PostgresURL     string
	PostgresTable   string
	JanitorInterval time.Duration
	ShutdownTimeout time.Duration
	TraceExporter   string
	Notify          bool
	NotifyNamespace string
	Lock            lock.Config
}

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the lockd server",
		Long:  `Start the lockd server. Every flag can also be set as an environment variable of the form LOCKD_<FLAG> (e.g. LOCKD_BACKEND=redis).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := newLogger(v, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			cfg, err := readServeConfig(v, log)
			if err != nil {
				return describe(err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			shutdownTracing, err := setupTracing(ctx, cfg.TraceExporter, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer func() {
				_ = shutdownTracing(context.WithoutCancel(ctx))
			}()

			srv, err := newServer(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer srv.close()

			ln, err := net.Listen("tcp", cfg.Addr)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", cfg.Addr, err)
			}
			log.Info("lockd listening", "addr", ln.Addr().String(), "backend", cfg.Backend)
			return srv.run(ctx, ln)
		},
	}

	defaults := lock.DefaultConfig()

	key := "addr"
	cmd.Flags().String(key, ":8080", wrapString("Address the HTTP API listens on"))
	key = "backend"
	cmd.Flags().String(key, backendMemory, wrapString("Lock store backend (memory, redis, postgres)"))
	key = "redis-url"
	cmd.Flags().String(key, "redis://localhost:6379/0", wrapString("Redis connection URL for the redis backend"))
	key = "redis-timeout"
	cmd.Flags().Duration(key, lockredis.DefaultOperationTimeout, wrapString("Per operation timeout of the redis backend"))
	key = "postgres-url"
	cmd.Flags().String(key, "", wrapString("PostgreSQL connection string for the postgres backend"))
	key = "postgres-table"
	cmd.Flags().String(key, "distlock_leases", wrapString("Lease table of the postgres backend, created on startup"))
	key = "janitor-interval"
	cmd.Flags().Duration(key, time.Minute, wrapString("How often expired leases are purged from the memory and postgres backends, 0 disables purging"))
	key = "shutdown-timeout"
	cmd.Flags().Duration(key, 10*time.Second, wrapString("Grace period for in-flight requests on shutdown"))
	key = "notify"
	cmd.Flags().Bool(key, true, wrapString("Announce releases through the backend so waiting acquisitions retry at once"))
	key = "notify-namespace"
	cmd.Flags().String(key, pubsub.DefaultNamespace, wrapString("Namespace of release notifications. Servers sharing a backend must use the same one"))
	key = "trace-exporter"
	cmd.Flags().String(key, "none", wrapString("Trace exporter (none, stdout, otlp). otlp is configured by the OTEL_EXPORTER_OTLP_* variables"))

	key = "lock-enabled"
	cmd.Flags().Bool(key, defaults.Enabled, wrapString("Serve acquisitions. When false every acquisition is refused"))
	key = "default-expiration"
	cmd.Flags().Duration(key, defaults.DefaultExpiration, wrapString("Lease used when a request gives no ttl"))
	key = "retry-interval"
	cmd.Flags().Duration(key, defaults.RetryInterval, wrapString("Delay between acquisition attempts while waiting"))
	key = "max-retry-count"
	cmd.Flags().Int(key, defaults.MaxRetryCount, wrapString("Retry cap while waiting, 0 for no cap"))
	key = "key-prefix"
	cmd.Flags().String(key, defaults.KeyPrefix, wrapString("Namespace prepended to every lock key in the backend"))
	key = "owner-strategy"
	cmd.Flags().String(key, string(defaults.OwnerStrategy), wrapString("How the owner part of lock values is chosen (random, host, custom)"))
	key = "owner-id"
	cmd.Flags().String(key, "", wrapString("Owner identifier for the custom owner strategy"))
	key = "slow-threshold"
	cmd.Flags().Duration(key, 0, wrapString("Log lock operations slower than this, 0 disables monitoring"))

	return cmd
}

func readServeConfig(v *viper.Viper, log logr.Logger) (serveConfig, error) {
	cfg := serveConfig{
		Addr:            v.GetString("addr"),
		Backend:         v.GetString("backend"),
		RedisURL:        v.GetString("redis-url"),
		RedisTimeout:    v.GetDuration("redis-timeout"),
		PostgresURL:     v.GetString("postgres-url"),
		PostgresTable:   v.GetString("postgres-table"),
		JanitorInterval: v.GetDuration("janitor-interval"),
		ShutdownTimeout: v.GetDuration("shutdown-timeout"),
		TraceExporter:   v.GetString("trace-exporter"),
		Notify:          v.GetBool("notify"),
		NotifyNamespace: v.GetString("notify-namespace"),
		Lock:            lock.DefaultConfig(),
	}

	cfg.Lock.Enabled = v.GetBool("lock-enabled")
	cfg.Lock.DefaultExpiration = v.GetDuration("default-expiration")
	cfg.Lock.RetryInterval = v.GetDuration("retry-interval")
	cfg.Lock.MaxRetryCount = v.GetInt("max-retry-count")
	cfg.Lock.KeyPrefix = v.GetString("key-prefix")
	cfg.Lock.OwnerStrategy = lock.OwnerStrategy(v.GetString("owner-strategy"))
	cfg.Lock.OwnerID = v.GetString("owner-id")
	if threshold := v.GetDuration("slow-threshold"); threshold > 0 {
		cfg.Lock.Monitoring = true
		cfg.Lock.SlowThreshold = threshold
	}
	cfg.Lock.Logger = log

	val := new(validator.Validator)
	val.Check(validator.NotBlank(cfg.Addr), errors.New("addr must not be blank"))
	val.Check(validator.In(cfg.Backend, backendMemory, backendRedis, backendPostgres),
		errors.New("backend must be one of memory, redis, postgres"))
	if cfg.Backend == backendRedis {
		val.Check(validator.NotBlank(cfg.RedisURL), errors.New("redis-url is required for the redis backend"))
	}
	if cfg.Backend == backendPostgres {
		val.Check(validator.NotBlank(cfg.PostgresURL), errors.New("postgres-url is required for the postgres backend"))
		val.Check(validator.NotBlank(cfg.PostgresTable), errors.New("postgres-table must not be blank"))
	}
	val.Check(validator.AtLeast(cfg.JanitorInterval, 0), errors.New("janitor-interval must not be negative"))
	val.Check(validator.In(cfg.TraceExporter, "none", "stdout", "otlp"),
		errors.New("trace-exporter must be one of none, stdout, otlp"))
	if err := val.Err("invalid serve configuration"); err != nil {
		return cfg, err
	}
	if err := cfg.Lock.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// backend is an opened lock store with the release notifier living on
// the same infrastructure. purge is nil for stores that expire entries on
// their own.
type backend struct {
	store    lock.Store
	notifier pubsub.PubSub
	purge    func(ctx context.Context) (int64, error)
	close    func()
}

func openBackend(ctx context.Context, cfg serveConfig) (*backend, error) {
	notifyOptions := []pubsub.Option{pubsub.WithNamespace(cfg.NotifyNamespace)}

	switch cfg.Backend {
	case backendRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		be := &backend{
			store: lockredis.New(client, lockredis.WithOperationTimeout(cfg.RedisTimeout)),
			close: func() { _ = client.Close() },
		}
		if cfg.Notify {
			notifier := psredis.New(client, notifyOptions...)
			be.notifier = notifier
			be.close = func() {
				_ = notifier.Close(context.Background())
				_ = client.Close()
			}
		}
		return be, nil

	case backendPostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		store := lockpgx.New(pool, lockpgx.WithTableName(cfg.PostgresTable))
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		be := &backend{
			store: store,
			purge: store.Purge,
			close: pool.Close,
		}
		if cfg.Notify {
			notifier, err := pspgx.New(ctx, pool, notifyOptions...)
			if err != nil {
				pool.Close()
				return nil, err
			}
			be.notifier = notifier
			be.close = func() {
				_ = notifier.Close(context.Background())
				pool.Close()
			}
		}
		return be, nil

	default:
		store := inmem.New()
		be := &backend{
			store: store,
			purge: func(context.Context) (int64, error) {
				return int64(store.Purge()), nil
			},
			close: func() {},
		}
		if cfg.Notify {
			notifier := psinmem.New(notifyOptions...)
			be.notifier = notifier
			be.close = func() { _ = notifier.Close(context.Background()) }
		}
		return be, nil
	}
}

type server struct {
	cfg     serveConfig
	log     logr.Logger
	backend *backend
	manager *lock.Manager
	handler http.Handler
}

func newServer(ctx context.Context, cfg serveConfig, log logr.Logger) (*server, error) {
	be, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	options := []lock.Option{lock.WithConfig(cfg.Lock)}
	if be.notifier != nil {
		options = append(options, lock.WithNotifier(be.notifier))
	}
	manager, err := lock.New(be.store, options...)
	if err != nil {
		be.close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	lock.RegisterMetrics(reg)

	router, err := httpapi.NewRouter(manager, log)
	if err != nil {
		be.close()
		return nil, err
	}
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok\n"))
	})

	return &server{
		cfg:     cfg,
		log:     log,
		backend: be,
		manager: manager,
		handler: router,
	}, nil
}

func (s *server) close() {
	s.backend.close()
}

// run serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *server) run(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.log.Info("lockd shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), s.cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if s.backend.purge != nil && s.cfg.JanitorInterval > 0 {
		g.Go(func() error {
			s.janitor(gctx)
			return nil
		})
	}
	return g.Wait()
}

// janitor purges expired leases until ctx is cancelled.
func (s *server) janitor(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.backend.purge(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.log.Error(err, "purge expired leases failed")
				}
				continue
			}
			if n > 0 {
				s.log.V(1).Info("purged expired leases", "count", n)
			}
		}
	}
}
