package qlink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

/*
Server is the duplex link. It services one peer at a time: each accepted
connection gets a Session running a receiver and a heartbeat sender, and
the accept loop only resumes once that session has ended.

Without a codec and pipeline the server is the heartbeat-only floor: every
inbound line is treated as plain text.
*/
type Server struct {
	cfg      LinkConfig
	station  *Station
	codec    *Codec
	pipeline *Pipeline
	metrics  *Metrics
	log      *log.Logger

	mu        sync.RWMutex
	listener  net.Listener
	ready     chan struct{}
	readyOnce sync.Once
	running   atomic.Bool
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithTeleport enables authenticated payload teleportation.
func WithTeleport(codec *Codec, pipeline *Pipeline) ServerOption {
	return func(s *Server) {
		s.codec = codec
		s.pipeline = pipeline
	}
}

// WithServerMetrics shares m with the rest of the station instead of a
// private Metrics.
func WithServerMetrics(m *Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithServerLogger replaces the default logger. Sessions derive theirs
// from it.
func WithServerLogger(l *log.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

/*
NewServer creates a link server publishing to station. Zero values in cfg
fall back to the defaults of NewConfig. Without WithTeleport the server is
the heartbeat-only floor.
*/
func NewServer(cfg LinkConfig, station *Station, opts ...ServerOption) *Server {
	s := &Server{
		cfg:     cfg,
		station: station,
		log:     log.Default(),
		ready:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}
	if s.cfg.AcceptTimeout <= 0 {
		s.cfg.AcceptTimeout = time.Second
	}
	if s.cfg.Heartbeat <= 0 {
		s.cfg.Heartbeat = 200 * time.Millisecond
	}
	if s.cfg.ReadBuffer <= 0 {
		s.cfg.ReadBuffer = 1024
	}
	if s.cfg.FrameIdle <= 0 {
		s.cfg.FrameIdle = 50 * time.Millisecond
	}
	if s.cfg.MaxFrame <= 0 {
		s.cfg.MaxFrame = 64 * 1024
	}
	return s
}

// Ready is closed the first time the listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the bound address, or nil before Ready.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Metrics returns the counters sessions record into.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Teleports reports whether authenticated teleportation is enabled.
func (s *Server) Teleports() bool { return s.codec != nil && s.pipeline != nil }

/*
Run binds the listener and serves peers until ctx is cancelled. A bind
failure is returned immediately; everything after that is recovered per
connection and Run returns nil on shutdown.

Only one Run may be active at a time; a concurrent call returns
ErrServerRunning. Run may be called again once the previous one returned.
*/
func (s *Server) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrServerRunning
	}
	defer s.running.Store(false)

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Listen)
	if err != nil {
		s.log.Error("link offline, port busy", "addr", s.cfg.Listen, "err", err)
		return fmt.Errorf("bind %s: %w", s.cfg.Listen, err)
	}
	defer ln.Close()

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.ready) })

	s.log.Info("link listening", "addr", ln.Addr().String(), "teleport", s.Teleports())

	type deadliner interface{ SetDeadline(time.Time) error }

	for {
		if ctx.Err() != nil {
			return nil
		}

		if d, ok := ln.(deadliner); ok {
			if err := d.SetDeadline(time.Now().Add(s.cfg.AcceptTimeout)); err != nil {
				return fmt.Errorf("accept deadline: %w", err)
			}
		}

		conn, err := ln.Accept()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn("accept failed", "err", err)
			continue
		}

		s.serve(ctx, conn)
	}
}

func (s *Server) serve(ctx context.Context, conn net.Conn) {
	session := newSession(conn, s)

	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		host = conn.RemoteAddr().String()
	}
	s.station.AppendLog("UPLINK ESTABLISHED: " + host)
	s.metrics.recordSessionStart(session.ID.String())
	s.log.Info("uplink established", "session", session.ID, "peer", host)

	err = session.Run(ctx)

	lost := errors.Is(err, ErrLinkLost)
	if lost {
		s.station.AppendLog("UPLINK LOST.")
		s.log.Warn("uplink lost", "session", session.ID, "err", err)
	} else if err != nil {
		s.log.Error("session ended", "session", session.ID, "err", err)
	}

	s.metrics.recordSessionEnd(lost)
}
