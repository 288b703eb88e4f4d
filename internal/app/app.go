package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/five82/storefront/internal/api"
	"github.com/five82/storefront/internal/auth"
	"github.com/five82/storefront/internal/checkout"
	"github.com/five82/storefront/internal/config"
	"github.com/five82/storefront/internal/engine"
	"github.com/five82/storefront/internal/logging"
	"github.com/five82/storefront/internal/persist"
	"github.com/five82/storefront/internal/state"
)

// Options configure one storefront invocation.
type Options struct {
	ConfigPath string
	EnvFile    string   // empty loads ./.env when present
	Args       []string // command followed by its arguments
	Stdout     io.Writer
}

// App is the wired client: storage, remote API, session, engine and
// checkout sharing one logger and metrics registry.
type App struct {
	Config   config.Config
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Client   *api.Client
	Tracker  *state.Tracker
	Auth     *auth.Manager
	Engine   *engine.Engine
	Checkout *checkout.Pipeline

	closers []io.Closer
}

// Run loads configuration, builds the app, executes one command and waits
// for its background sync calls before returning.
func Run(ctx context.Context, opts Options) error {
	if err := config.LoadEnvFile(opts.EnvFile); err != nil {
		return err
	}
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, closeLog, err := logging.New(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: cfg.LogOutput,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = closeLog() }()

	a, err := New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	out := opts.Stdout
	if out == nil {
		out = os.Stdout
	}
	err = a.Execute(ctx, out, opts.Args)
	a.Engine.Wait()
	return err
}

// New wires every component from cfg, loads persisted state and restores a
// persisted session.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	logger = logging.OrNop(logger)
	a := &App{Config: cfg, Logger: logger, Registry: prometheus.NewRegistry()}

	storage, err := a.openStorage()
	if err != nil {
		return nil, err
	}
	store := persist.NewAdapter(storage, cfg.Namespace, logger)

	a.Client, err = api.NewClient(cfg.APIURL, api.Options{
		Timeout:            cfg.RequestTimeout,
		MutationsPerSecond: cfg.RemoteRate,
		Logger:             logger,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init api client: %w", err)
	}

	metrics, err := state.NewMetrics(a.Registry)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	a.Tracker = state.NewTracker(metrics)

	policy, err := engine.PolicyByName(cfg.MergePolicy)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Engine = engine.New(engine.Options{
		Persist:          store,
		Remote:           a.Client,
		Catalog:          a.Client,
		Tracker:          a.Tracker,
		Logger:           logger,
		MergePolicy:      policy,
		MergeConcurrency: cfg.MergeConcurrency,
		RemoteTimeout:    cfg.RequestTimeout,
	})
	a.Auth = auth.NewManager(a.Client, store, logger)
	a.Auth.Subscribe(a.Engine.HandleTransition)
	a.Checkout = &checkout.Pipeline{
		Cart:         a.Engine,
		Service:      a.Client,
		MinimumTotal: cfg.MinOrderTotal,
		Logger:       logger,
	}

	a.Engine.Start(ctx)
	a.Auth.Restore(ctx)

	logger.Debug("storefront ready",
		zap.String("api", a.Client.BaseURL()),
		zap.String("storage", cfg.Storage),
		zap.String("mode", a.Engine.Mode().String()))
	return a, nil
}

func (a *App) openStorage() (persist.Storage, error) {
	switch a.Config.Storage {
	case config.StorageMemory:
		return &persist.MemoryStorage{}, nil
	case config.StorageRedis:
		rs := persist.NewRedisStorage(persist.RedisConfig{
			Addr:     a.Config.RedisAddr,
			Password: a.Config.RedisPassword,
			DB:       a.Config.RedisDB,
		})
		a.closers = append(a.closers, rs)
		return rs, nil
	case config.StorageFile, "":
		fs, err := persist.NewFileStorage(a.Config.StatePath)
		if err != nil {
			return nil, fmt.Errorf("open state file: %w", err)
		}
		return fs, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", a.Config.Storage)
	}
}

// Close releases storage connections.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
