// Package app assembles the process: configuration, logging, metrics, the vector index, the
// pipeline and the HTTP server. The binaries under cmd/ only parse flags and call into here.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/chiweic/rag-08122025/internal/config"
	"github.com/chiweic/rag-08122025/internal/handlers"
	ai "github.com/chiweic/rag-08122025/internal/handlers/ai"
	"github.com/chiweic/rag-08122025/internal/logger"
	"github.com/chiweic/rag-08122025/internal/metrics"
	"github.com/chiweic/rag-08122025/internal/pipeline"
	"github.com/chiweic/rag-08122025/internal/routing"
	"github.com/chiweic/rag-08122025/internal/vector"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	Config   *config.Config
	Log      zerolog.Logger
	Metrics  *metrics.Metrics
	Pipeline *pipeline.Pipeline

	configPath string
}

// Options - What the binaries may override on top of the config file.
type Options struct {
	ConfigPath string
	Port       int
	Backend    string
	LogLevel   string
	Pretty     bool
}

// New - Load the configuration, open the index and build the pipeline. Nothing is indexed yet.
func New(opts Options, pipelineOpts ...pipeline.Option) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.Port > 0 {
		cfg.Server.Port = opts.Port
	}
	if opts.Backend != "" {
		cfg.Index.Backend = opts.Backend
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty || opts.Pretty, os.Stderr)
	m := metrics.New()

	index, err := OpenIndex(cfg.Index, log)
	if err != nil {
		return nil, err
	}
	p, err := pipeline.New(cfg, index, append([]pipeline.Option{
		pipeline.WithLogger(log),
		pipeline.WithMetrics(m),
	}, pipelineOpts...)...)
	if err != nil {
		_ = index.Close()
		return nil, err
	}
	return &App{Config: cfg, Log: log, Metrics: m, Pipeline: p, configPath: opts.ConfigPath}, nil
}

// OpenIndex - The configured vector index backend.
func OpenIndex(cfg config.IndexConfig, log zerolog.Logger) (vector.Index, error) {
	if cfg.Backend == "memory" {
		return vector.NewMemoryIndex(), nil
	}
	db, err := vector.Connect(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("connect to qdrant: %w", err)
	}
	return db, nil
}

// Echo - The HTTP server with every route registered.
func (a *App) Echo() *echo.Echo {
	e := echo.New()
	routing.InitMiddleware(e, a.Config.Server, a.Metrics, a.Log)
	routing.InitRoutes(e,
		handlers.NewHandler(a.Pipeline, a.Metrics, a.Log),
		ai.NewHandler(a.Pipeline, a.Metrics, a.Log),
		a.Metrics,
	)
	return e
}

// Initialize - Build or reuse the collection, logging instead of failing so the server stays up
// and /initialize can be retried.
func (a *App) Initialize(ctx context.Context, req pipeline.InitializeRequest) {
	res, err := a.Pipeline.Initialize(ctx, req)
	if err != nil {
		a.Log.Error().Err(err).Msg("startup initialization failed, call /initialize to retry")
		return
	}
	a.Log.Info().
		Int("points", res.Points).
		Int("indexed", res.Indexed).
		Float64("seconds", res.Elapsed).
		Msg("pipeline ready")
}

// WatchConfig - Apply edits to the providers block of the config file while running.
func (a *App) WatchConfig(ctx context.Context) error {
	if a.configPath == "" {
		return nil
	}
	return config.Watch(ctx, a.configPath, a.Pipeline.Providers, func(next config.Providers) error {
		_, err := a.Pipeline.UpdateConfig(a.Pipeline.Providers().Diff(next))
		return err
	}, logger.Component(a.Log, "config"))
}

// Serve - Run the HTTP server until ctx is done, then shut it down gracefully. The collection is
// initialized in the background when autoInit is set.
func (a *App) Serve(ctx context.Context, autoInit bool) error {
	e := a.Echo()
	addr := fmt.Sprintf(":%d", a.Config.Server.Port)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Log.Info().Str("addr", addr).Msg("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		if err := a.WatchConfig(ctx); err != nil {
			a.Log.Warn().Err(err).Msg("config hot reload disabled")
		}
		return nil
	})
	if autoInit {
		g.Go(func() error {
			a.Initialize(ctx, pipeline.InitializeRequest{})
			return nil
		})
	}
	return g.Wait()
}

func (a *App) Close() error {
	return a.Pipeline.Close()
}
