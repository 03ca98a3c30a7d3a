package qlink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

/*
Session is one accepted connection. The receiver handles whatever the peer
sends; the sender streams fidelity heartbeats. Both write through one mutex
so lines never interleave. Whichever role fails first cancels the other.
*/
type Session struct {
	ID uuid.UUID

	conn    net.Conn
	server  *Server
	log     *log.Logger
	writeMu sync.Mutex
}

func newSession(conn net.Conn, server *Server) *Session {
	id := uuid.New()
	return &Session{
		ID:     id,
		conn:   conn,
		server: server,
		log:    server.log.With("session", id.String()[:8]),
	}
}

// Run blocks until both roles have stopped and the connection is closed.
func (s *Session) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.receive(gctx) })
	g.Go(func() error { return s.heartbeat(gctx) })

	// Unblock the receiver's Read once either role is done.
	go func() {
		<-gctx.Done()
		s.conn.Close()
	}()

	err := g.Wait()
	s.conn.Close()
	return err
}

/*
receive reads chunks off the connection and hands complete frames to
handle. A frame may span any number of reads; an unterminated tail is
handled once the peer has been quiet for FrameIdle.
*/
func (s *Session) receive(ctx context.Context) error {
	buf := make([]byte, s.server.cfg.ReadBuffer)
	frames := newLineBuffer(s.server.cfg.MaxFrame)

	for {
		var deadline time.Time
		if frames.pending() {
			deadline = time.Now().Add(s.server.cfg.FrameIdle)
		}
		if err := s.conn.SetReadDeadline(deadline); err != nil && ctx.Err() == nil {
			return fmt.Errorf("%w: read deadline: %w", ErrLinkLost, err)
		}

		n, err := s.conn.Read(buf)
		if n > 0 {
			if herr := s.dispatch(ctx, frames.feed(buf[:n])); herr != nil {
				if ctx.Err() != nil {
					return nil
				}
				return herr
			}
		}
		if err == nil {
			continue
		}

		if ctx.Err() != nil {
			return nil
		}

		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			if frame, ok := frames.flush(); ok {
				if herr := s.dispatch(ctx, []inboundFrame{frame}); herr != nil {
					return herr
				}
			}
			continue
		}

		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: peer closed", ErrLinkLost)
		}
		return fmt.Errorf("%w: read: %w", ErrLinkLost, err)
	}
}

func (s *Session) dispatch(ctx context.Context, frames []inboundFrame) error {
	for _, frame := range frames {
		if frame.Oversized {
			s.log.Warn("frame dropped", "limit", s.server.cfg.MaxFrame)
			if !s.server.Teleports() {
				continue
			}
			s.server.metrics.recordFrame(KindMalformed)
			if err := s.writeLine(TokenMalformed + "\n"); err != nil {
				return err
			}
			continue
		}
		if err := s.handle(ctx, frame.Text); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) handle(ctx context.Context, line string) error {
	if !s.server.Teleports() {
		s.server.metrics.recordFrame(KindPlain)
		return s.handlePlain(line)
	}

	msg := s.server.codec.Decode(line)
	s.server.metrics.recordFrame(msg.Kind)

	switch msg.Kind {
	case KindPlain:
		return s.handlePlain(msg.Text)
	case KindAuthenticated:
		result, err := s.server.pipeline.TeleportPayload(ctx, msg.Payload)
		if err != nil {
			s.log.Warn("teleport failed", "bytes", len(msg.Payload), "err", err)
			return s.writeLine(TokenTeleportFailed + "\n")
		}
		s.log.Info("payload teleported", "success", result.Success, "total", result.Total)
		return s.writeLine(ResultLine(result) + "\n")
	default:
		s.log.Debug("frame rejected", "kind", msg.Kind, "err", msg.Err())
		return s.writeLine(msg.Token() + "\n")
	}
}

func (s *Session) handlePlain(text string) error {
	stamp := time.Now().Format(time.TimeOnly)
	s.server.station.AppendLog(fmt.Sprintf("[%s] REMOTE: %s", stamp, text))
	return s.writeLine(HeartbeatLine(s.server.station.Fidelity()))
}

func (s *Session) heartbeat(ctx context.Context) error {
	ticker := time.NewTicker(s.server.cfg.Heartbeat)
	defer ticker.Stop()

	for {
		if err := s.writeLine(HeartbeatLine(s.server.station.Fidelity())); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.server.metrics.recordHeartbeat()

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Session) writeLine(line string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.server.cfg.WriteTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.server.cfg.WriteTimeout))
	}
	if _, err := io.WriteString(s.conn, line); err != nil {
		return fmt.Errorf("%w: write: %w", ErrLinkLost, err)
	}
	return nil
}
