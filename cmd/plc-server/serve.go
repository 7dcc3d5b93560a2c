package main

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"plcserver/internal/adapters/gateway"
	"plcserver/internal/adapters/history"
	"plcserver/internal/addressspace"
	"plcserver/internal/blob"
	"plcserver/internal/config"
	"plcserver/internal/core"
	"plcserver/internal/methods"
	"plcserver/internal/metrics"
	"plcserver/internal/mirror"
	"plcserver/internal/runtime"
	"plcserver/internal/tanksystem"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the node server and its HTTP gateway until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}
			app, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer app.close()
			ln, err := net.Listen("tcp", cfg.HTTPAddr)
			if err != nil {
				return err
			}
			return app.run(cmd.Context(), ln)
		},
	}
}

// app is one fully wired server process.
type app struct {
	cfg       config.Config
	logger    *slog.Logger
	log       *core.ReadingLog
	model     tanksystem.Model
	syncer    *mirror.Syncer
	refresher *mirror.Refresher
	server    *runtime.Server
	mux       *http.ServeMux
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	log, err := openLog(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, log: log, mux: http.NewServeMux()}
	if err := a.wire(ctx); err != nil {
		_ = log.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	methodMetrics, mirrorMetrics := a.metrics()

	space := addressspace.New()
	model, err := tanksystem.Build(space, a.cfg.NamespaceURI, a.cfg.Instances)
	if err != nil {
		return err
	}
	a.model = model
	a.syncer = mirror.NewSyncer(space,
		mirror.WithQueueSize(a.cfg.Mirror.QueueSize),
		mirror.WithLogger(a.logger),
		mirror.WithMetrics(mirrorMetrics),
	)
	a.refresher = mirror.NewRefresher(a.log, a.syncer, model.Instances, a.cfg.Mirror.RefreshInterval, a.logger)

	a.server = runtime.New(space, runtime.WithLogger(a.logger), runtime.WithEndpoint(a.cfg.Endpoint))
	deps := methods.Deps{Store: a.log, Mirror: a.syncer, Logger: a.logger, Metrics: methodMetrics, Instances: model.Instances}
	for _, inst := range model.Instances {
		if err := a.server.RegisterInstance(deps, inst); err != nil {
			return err
		}
	}

	store, err := blob.Open(ctx, a.cfg.BlobOptions())
	if err != nil {
		return fmt.Errorf("open archive store: %w", err)
	}
	archiver := history.NewArchiver(a.log, store, history.WithLogger(a.logger))
	handler := gateway.NewHandler(a.server, archiver, a.logger)
	a.mux.Handle("/api/", handler)
	a.mux.Handle("/healthz", handler)
	return nil
}

// metrics registers the configured sink on the mux.
func (a *app) metrics() (core.MetricsRecorder, mirror.Metrics) {
	if a.cfg.Metrics.Backend == config.MetricsExpvar {
		rec := metrics.NewExpvar("")
		a.mux.Handle("/debug/vars", expvar.Handler())
		return rec, rec
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rec := metrics.New(reg)
	a.mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return rec, rec
}

// run serves until ctx ends, then drains the HTTP server and stops the
// mirror consumer.
func (a *app) run(ctx context.Context, ln net.Listener) error {
	a.syncer.Start()
	srv := &http.Server{Handler: a.mux, ReadHeaderTimeout: 10 * time.Second}
	a.logger.Info("server started",
		"endpoint", a.server.Endpoint(),
		"http", ln.Addr().String(),
		"instances", len(a.model.Instances),
		"storage", string(a.cfg.Storage.Driver),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return a.refresher.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		httpErr := srv.Shutdown(shutdownCtx)
		mirrorErr := a.syncer.Stop(shutdownCtx)
		a.logger.Info("server stopped")
		return errors.Join(httpErr, mirrorErr)
	})
	return g.Wait()
}

func (a *app) close() {
	if err := a.log.Close(); err != nil {
		a.logger.Warn("close reading log", "error", err)
	}
}
