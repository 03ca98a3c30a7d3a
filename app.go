package qlink

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
)

/*
App is the application core: it owns the Station, drives the grounding
machine on its main loop, and runs the optional link capability beside it.
*/
type App struct {
	cfg     *Config
	log     *log.Logger
	station *Station
	machine *GroundingMachine
	server  *Server
	metrics *Metrics
	cycles  chan struct{}
}

// NewApp wires the station from cfg. The link is only built when enabled.
func NewApp(cfg *Config, logger *log.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}

	variant, err := VariantByName(cfg.Machine.Variant)
	if err != nil {
		return nil, err
	}

	station := NewStation()
	metrics := NewMetrics()

	a := &App{
		cfg:     cfg,
		log:     logger,
		station: station,
		machine: NewGroundingMachine(station, WithVariant(variant)),
		metrics: metrics,
		cycles:  make(chan struct{}, 1),
	}

	if cfg.Link.Enabled {
		opts := []ServerOption{
			WithServerMetrics(metrics),
			WithServerLogger(logger.WithPrefix("link")),
		}

		if cfg.Link.Teleport {
			backend, err := NewBackend(cfg.Backend)
			if err != nil {
				return nil, err
			}
			if cfg.Link.Secret == DefaultSecret {
				logger.Warn("using the built-in demo secret, set link.secret")
			}

			popts := []PipelineOption{
				WithBreaker(NewCircuitBreaker(
					cfg.Backend.BreakerFailures,
					cfg.Backend.BreakerReset,
					cfg.Backend.BreakerHalfOpen,
				)),
				WithPipelineMetrics(metrics),
				WithPipelineLogger(logger.WithPrefix("pipeline")),
			}
			if cfg.Backend.RateBurst > 0 {
				popts = append(popts, WithRateLimiter(NewRateLimiter(cfg.Backend.RateBurst, cfg.Backend.RateRefill)))
			}

			pipeline := NewPipeline(NewTeleporter(backend), station, popts...)
			opts = append(opts, WithTeleport(NewCodec([]byte(cfg.Link.Secret)), pipeline))
		}

		a.server = NewServer(cfg.Link, station, opts...)
	}

	return a, nil
}

// NewBackend builds the simulation backend named in cfg.
func NewBackend(cfg BackendConfig) (Backend, error) {
	var backend Backend

	switch cfg.Name {
	case "statevector", "":
		backend = NewStateVectorBackend(nil)
	case "offline":
		backend = OfflineBackend{}
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Name)
	}

	if cfg.Noise > 0 {
		backend = NewNoisyBackend(backend, cfg.Noise, nil)
	}
	return backend, nil
}

// Station is the shared state handle display layers read.
func (a *App) Station() *Station { return a.station }

func (a *App) Machine() *GroundingMachine { return a.machine }

// Server returns the link server, nil when the link is disabled.
func (a *App) Server() *Server { return a.server }

func (a *App) Metrics() *Metrics { return a.metrics }

/*
Cycle requests a protocol cycle. It is safe to call from any goroutine;
the request is applied on the main loop, and requests arriving while one is
pending are coalesced.
*/
func (a *App) Cycle() {
	select {
	case a.cycles <- struct{}{}:
	default:
	}
}

/*
Run starts the link, if any, and ticks the machine until ctx is cancelled.
A link that fails to bind is logged and the station keeps running without
it.
*/
func (a *App) Run(ctx context.Context) error {
	linkDone := make(chan struct{})

	if a.server != nil {
		go func() {
			defer close(linkDone)
			if err := a.server.Run(ctx); err != nil {
				a.log.Error("duplex link disabled", "err", err)
			}
		}()
	} else {
		close(linkDone)
	}

	if a.cfg.Machine.AutoCycle {
		a.machine.Cycle()
	}

	ticker := time.NewTicker(time.Second / time.Duration(a.cfg.Machine.TickRate))
	defer ticker.Stop()

	wasScanning := a.machine.Scanning()

	for {
		select {
		case <-ctx.Done():
			<-linkDone
			a.log.Info("station stopped", "metrics", a.metrics.Export())
			return nil
		case <-a.cycles:
			if a.machine.Cycle() {
				a.log.Info("scan started", "protocol", a.station.Snapshot().Protocol)
			}
		case <-ticker.C:
			a.machine.Tick()
		}

		scanning := a.machine.Scanning()
		if wasScanning && !scanning {
			snap := a.station.Snapshot()
			a.log.Info("scan resolved",
				"phase", a.machine.Phase(),
				"fidelity", fmt.Sprintf("%.4f", snap.Fidelity),
				"level", snap.GroundingLevel,
				"status", snap.Status,
			)
		}
		wasScanning = scanning
	}
}
