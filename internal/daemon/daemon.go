package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/socpm/pmres/internal/api"
	"github.com/socpm/pmres/internal/health"
	"github.com/socpm/pmres/internal/infra/hw"
	"github.com/socpm/pmres/internal/infra/metrics"
	"github.com/socpm/pmres/internal/infra/resource"
	"github.com/socpm/pmres/internal/infra/sqlite"
)

// Daemon is the pmres runtime. It wires the simulated SoC, the resource
// framework, the journal, health checks and the HTTP API together.
type Daemon struct {
	Config    Config
	Log       logr.Logger
	SoC       *hw.SoC
	Framework *resource.Framework
	DB        *sqlite.DB
	Health    *health.Checker
	Server    *api.Server

	cancel context.CancelFunc
}

// NewWithConfig creates a Daemon with the given configuration. Callers load
// it with LoadConfig first so the logger can honor its verbosity.
func NewWithConfig(cfg Config, log logr.Logger) (*Daemon, error) {
	if err := cfg.Board.Validate(); err != nil {
		return nil, fmt.Errorf("board: %w", err)
	}
	log = log.WithName("daemon")

	dir := cfg.Journal.Dir
	if dir == "" {
		dir = pmresHome()
	}
	db, err := sqlite.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.SetInfo("board", cfg.Board.Name); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal board info: %w", err)
	}
	_ = db.SetInfo("started_at", time.Now().UTC().Format(time.RFC3339))

	tables := cfg.Board.Tables()
	soc := hw.New(tables, cfg.Board.Boot(), cfg.Board.PowerDomainNames(), log)
	soc.CPUFreq.Subscribe(metrics.FreqNotified)

	fw, err := resource.New(PlatformFor(soc), tables,
		resource.WithLogger(log),
		resource.WithPolicy(cfg.Board.Policy()),
		resource.WithObserver(sqlite.NewJournal(db, log)),
		resource.WithObserver(metrics.Observer{}),
	)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := fw.Register(cfg.Board.Definitions()...); err != nil {
		db.Close()
		return nil, fmt.Errorf("register resources: %w", err)
	}
	if !fw.TablesLoaded() {
		log.Info("no OPP tables configured, OPP and frequency resources are inert")
	}
	metrics.RecordSnapshots(fw.List())

	checker := health.NewChecker(db, dir, fw, parseDuration(cfg.Health.Interval, health.DefaultInterval), log)

	srv := api.NewServer(fw, log)
	srv.SetJournal(db)
	srv.SetHealth(checker)
	if cfg.Telemetry.Prometheus {
		srv.EnableMetrics()
	}

	return &Daemon{
		Config:    cfg,
		Log:       log,
		SoC:       soc,
		Framework: fw,
		DB:        db,
		Health:    checker,
		Server:    srv,
	}, nil
}

// PlatformFor exposes the simulated SoC as framework collaborators.
func PlatformFor(soc *hw.SoC) resource.Platform {
	return resource.Platform{
		Clocks:       soc.Clocks,
		Voltage:      soc.SmartReflex,
		PowerDomains: soc.PowerDomains,
		QoS:          soc.QoS,
		CPUFreq:      soc.CPUFreq,
		OPP:          soc.PRCM,
	}
}

// Serve starts the HTTP server, the health checker and the metrics
// refresher, and blocks until ctx is done, a signal arrives or one of them
// fails.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	defer cancel()

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		d.Log.Info("serving", "addr", "http://"+addr, "board", d.Config.Board.Name,
			"metrics", d.Config.Telemetry.Prometheus)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return d.Health.Run(gctx)
	})

	g.Go(func() error {
		d.refreshMetrics(gctx, parseDuration(d.Config.Telemetry.RefreshInterval, 5*time.Second))
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	d.Log.Info("stopped")
	return err
}

// refreshMetrics keeps the per-resource gauges current.
func (d *Daemon) refreshMetrics(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.RecordSnapshots(d.Framework.List())
		}
	}
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
}
