package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/swiftfs/swiftfs/internal/circuit"
	"github.com/swiftfs/swiftfs/internal/config"
	"github.com/swiftfs/swiftfs/internal/metrics"
	"github.com/swiftfs/swiftfs/pkg/auth"
	"github.com/swiftfs/swiftfs/pkg/errors"
	"github.com/swiftfs/swiftfs/pkg/objectstore"
	"github.com/swiftfs/swiftfs/pkg/swift"
	"github.com/swiftfs/swiftfs/pkg/types"
	"github.com/swiftfs/swiftfs/pkg/utils"
	"github.com/swiftfs/swiftfs/pkg/vfs"
)

// app holds everything one command invocation needs.
type app struct {
	cfg    *config.Configuration
	opts   options
	stdout io.Writer
	stderr io.Writer

	logger    *slog.Logger
	logCloser io.Closer
	collector *metrics.Collector
	registry  *objectstore.Registry
	fs        *vfs.FileSystem
}

func newApp(ctx context.Context, cfg *config.Configuration, opts options, stdout, stderr io.Writer) (*app, error) {
	logCfg := cfg.LoggerConfig()
	logCfg.Output = stderr
	logger, logCloser, err := utils.NewLogger(logCfg)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		opts:      opts,
		stdout:    stdout,
		stderr:    stderr,
		logger:    logger,
		logCloser: logCloser,
	}

	a.collector, err = metrics.NewCollector(&metrics.Config{
		Enabled:   cfg.Metrics.Enabled,
		Address:   cfg.Metrics.Address,
		Namespace: cfg.Metrics.Namespace,
		Logger:    logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := a.collector.Start(ctx); err != nil {
		a.Close()
		return nil, err
	}

	session, err := auth.NewSession(auth.Config{
		Credentials: cfg.Credentials(),
		HTTPClient:  swift.NewHTTPClient(cfg.Network.Timeouts.Connect, cfg.Network.Timeouts.Request),
		Logger:      logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	breakers := cfg.Breakers(func(name string, from, to circuit.State) {
		logger.Warn("circuit breaker changed state", "container", name, "from", from, "to", to)
	})

	a.registry = objectstore.NewRegistry()
	factory := swift.Factory(session, swift.Config{
		ConnectTimeout: cfg.Network.Timeouts.Connect,
		RequestTimeout: cfg.Network.Timeouts.Request,
		Retry:          cfg.RetryPolicy(),
		Breakers:       breakers,
		Logger:         logger,
		Metrics:        a.collector,
	})
	if err := a.registry.Register(types.BackendSwift, factory); err != nil {
		a.Close()
		return nil, err
	}

	a.fs, err = vfs.New(a.registry.Factory(types.BackendSwift), vfs.Options{
		Scheme:                cfg.Storage.Scheme,
		StatTTL:               cfg.Cache.StatTTL,
		MaterializeAfterReads: cfg.Features.MaterializeAfterReads,
		Logger:                logger,
		Metrics:               a.collector,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

// Close stops the metrics server and releases the log file.
func (a *app) Close() {
	if a.fs != nil {
		a.collector.UpdateCacheEntries(a.fs.CacheStats().Size)
	}
	if a.collector != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.collector.Stop(ctx); err != nil {
			a.logger.Warn("failed to stop metrics server", "error", err)
		}
	}
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
}

// client returns the Swift client for the configured container.
func (a *app) client() (*swift.Client, error) {
	container := a.cfg.Storage.Container
	if container == "" {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "no container configured: pass --container or set storage.container")
	}
	store, err := a.fs.Store(container)
	if err != nil {
		return nil, err
	}
	client, ok := store.(*swift.Client)
	if !ok {
		return nil, errors.Newf(errors.ErrCodeUnsupportedOperation, "backend %s does not support this command", store.Kind())
	}
	return client, nil
}

// path turns a command argument into a file system path. Arguments without a
// scheme are resolved in the configured container.
func (a *app) path(arg string) (string, error) {
	if strings.Contains(arg, "://") {
		return arg, nil
	}
	container := a.cfg.Storage.Container
	if container == "" {
		return "", fmt.Errorf("%q has no container: use %s://container/object or pass --container", arg, a.cfg.Storage.Scheme)
	}
	return fmt.Sprintf("%s://%s/%s", a.cfg.Storage.Scheme, container, strings.TrimPrefix(arg, "/")), nil
}
