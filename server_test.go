package qlink

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func testLinkConfig() LinkConfig {
	cfg := NewConfig().Link
	cfg.Listen = "127.0.0.1:0"
	cfg.AcceptTimeout = 50 * time.Millisecond
	cfg.Heartbeat = 200 * time.Millisecond
	cfg.FrameIdle = 100 * time.Millisecond
	return cfg
}

// startServer runs srv in the background and waits for it to bind.
func startServer(t *testing.T, srv *Server) (context.CancelFunc, <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	select {
	case <-srv.Ready():
	case err := <-done:
		cancel()
		t.Fatalf("server did not start: %v", err)
	case <-time.After(2 * time.Second):
		cancel()
		t.Fatal("server did not start")
	}
	return cancel, done
}

// readLines streams the lines the server sends until the connection closes.
func readLines(conn net.Conn) <-chan string {
	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

// waitFor returns the first line that is not a heartbeat, or "" on timeout.
func waitFor(lines <-chan string, timeout time.Duration) string {
	deadline := time.After(timeout)
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return ""
			}
			if !strings.HasPrefix(line, "FIDELITY:") {
				return line
			}
		case <-deadline:
			return ""
		}
	}
}

// eventually polls cond until it holds or timeout passes.
func eventually(cond func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func logContains(station *Station, substr string) func() bool {
	return func() bool {
		for _, line := range station.Log() {
			if strings.Contains(line, substr) {
				return true
			}
		}
		return false
	}
}

func TestServer(t *testing.T) {
	Convey("Given a teleporting link server", t, func() {
		station := NewStation()
		metrics := NewMetrics()
		codec := NewCodec([]byte("k"))
		pipeline := NewPipeline(NewTeleporter(seededBackend(41)), station, WithPipelineMetrics(metrics))
		srv := NewServer(testLinkConfig(), station,
			WithTeleport(codec, pipeline),
			WithServerMetrics(metrics),
		)
		cancel, done := startServer(t, srv)
		defer func() {
			cancel()
			select {
			case <-done:
			case <-time.After(3 * time.Second):
			}
		}()

		conn, err := net.Dial("tcp", srv.Addr().String())
		So(err, ShouldBeNil)
		defer conn.Close()
		lines := readLines(conn)

		Convey("An idle peer only receives heartbeats", func() {
			deadline := time.After(time.Second)
			heartbeats, others := 0, 0
		collect:
			for {
				select {
				case line := <-lines:
					if strings.HasPrefix(line, "FIDELITY:") {
						heartbeats++
					} else {
						others++
					}
				case <-deadline:
					break collect
				}
			}
			So(heartbeats, ShouldBeGreaterThanOrEqualTo, 4)
			So(others, ShouldEqual, 0)
			So(station.Log(), ShouldContain, "UPLINK ESTABLISHED: 127.0.0.1")
		})

		Convey("An authenticated frame is teleported", func() {
			_, err := conn.Write([]byte(codec.Encode([]byte{0x01}) + "\n"))
			So(err, ShouldBeNil)
			So(waitFor(lines, 3*time.Second), ShouldEqual, "TELEPORT_RESULT: success=8/8 backend=statevector_simulator")
		})

		Convey("An unterminated frame is still handled", func() {
			_, err := conn.Write([]byte(codec.Encode([]byte("hi"))))
			So(err, ShouldBeNil)
			So(waitFor(lines, 3*time.Second), ShouldEqual, "TELEPORT_RESULT: success=16/16 backend=statevector_simulator")
		})

		Convey("A frame longer than one read is reassembled", func() {
			frame := codec.Encode(bytes.Repeat([]byte{0x41}, 800))
			So(len(frame), ShouldBeGreaterThan, 1024)

			_, err := conn.Write([]byte(frame + "\n"))
			So(err, ShouldBeNil)
			So(waitFor(lines, 10*time.Second), ShouldEqual, "TELEPORT_RESULT: success=6400/6400 backend=statevector_simulator")
			So(logContains(station, "REMOTE: MESSAGE:")(), ShouldBeFalse)
			So(metrics.Export()["frames"].(map[string]int64)["authenticated"], ShouldEqual, int64(1))
		})

		Convey("A frame that arrives in two writes is handled once", func() {
			frame := codec.Encode([]byte("split"))
			half := len(frame) / 2

			_, err := conn.Write([]byte(frame[:half]))
			So(err, ShouldBeNil)
			time.Sleep(20 * time.Millisecond)
			_, err = conn.Write([]byte(frame[half:] + "\n"))
			So(err, ShouldBeNil)

			So(waitFor(lines, 3*time.Second), ShouldEqual, "TELEPORT_RESULT: success=40/40 backend=statevector_simulator")
			So(waitFor(lines, 500*time.Millisecond), ShouldEqual, "")
		})

		Convey("An oversized frame is malformed and the next frame still works", func() {
			_, err := conn.Write(append(bytes.Repeat([]byte{'A'}, 70*1024), '\n'))
			So(err, ShouldBeNil)
			So(waitFor(lines, 3*time.Second), ShouldEqual, TokenMalformed)

			_, err = conn.Write([]byte(codec.Encode([]byte{0x01}) + "\n"))
			So(err, ShouldBeNil)
			So(waitFor(lines, 3*time.Second), ShouldEqual, "TELEPORT_RESULT: success=8/8 backend=statevector_simulator")
		})

		Convey("A second Run is refused while the first is active", func() {
			err := srv.Run(context.Background())
			So(errors.Is(err, ErrServerRunning), ShouldBeTrue)
		})

		Convey("A frame without the MESSAGE prefix is malformed", func() {
			_, err := conn.Write([]byte("YWJj|HMAC:00\n"))
			So(err, ShouldBeNil)
			So(waitFor(lines, 2*time.Second), ShouldEqual, TokenMalformed)
		})

		Convey("A forged frame is rejected and the session survives", func() {
			_, err := conn.Write([]byte(NewCodec([]byte("wrong")).Encode([]byte{0x01}) + "\n"))
			So(err, ShouldBeNil)
			So(waitFor(lines, 2*time.Second), ShouldEqual, TokenAuthFailed)

			_, err = conn.Write([]byte("MESSAGE:***|HMAC:00\n"))
			So(err, ShouldBeNil)
			So(waitFor(lines, 2*time.Second), ShouldEqual, TokenBadPayload)
		})

		Convey("Plain text is logged on the station", func() {
			_, err := conn.Write([]byte("hello station\r\n"))
			So(err, ShouldBeNil)
			So(eventually(logContains(station, "REMOTE: hello station"), 2*time.Second), ShouldBeTrue)
		})

		Convey("A peer that disconnects is reported as lost", func() {
			So(conn.Close(), ShouldBeNil)
			So(eventually(logContains(station, "UPLINK LOST."), 3*time.Second), ShouldBeTrue)
			So(eventually(func() bool { return metrics.Export()["link_lost"] == int64(1) }, time.Second), ShouldBeTrue)

			Convey("And the next peer is accepted", func() {
				next, err := net.Dial("tcp", srv.Addr().String())
				So(err, ShouldBeNil)
				defer next.Close()
				So(eventually(func() bool { return metrics.Export()["sessions"] == int64(2) }, 2*time.Second), ShouldBeTrue)
			})
		})

		Convey("Cancelling the context ends the session and the server", func() {
			cancel()
			select {
			case err := <-done:
				So(err, ShouldBeNil)
			case <-time.After(3 * time.Second):
				So("server still running", ShouldBeEmpty)
			}

			Convey("And the server can be run again", func() {
				ctx, stop := context.WithCancel(context.Background())
				again := make(chan error, 1)
				go func() { again <- srv.Run(ctx) }()

				reachable := func() bool {
					addr := srv.Addr()
					if addr == nil {
						return false
					}
					c, err := net.Dial("tcp", addr.String())
					if err != nil {
						return false
					}
					c.Close()
					return true
				}
				So(eventually(reachable, 2*time.Second), ShouldBeTrue)

				stop()
				select {
				case err := <-again:
					So(err, ShouldBeNil)
				case <-time.After(3 * time.Second):
					So("server still running", ShouldBeEmpty)
				}
			})
		})
	})

	Convey("Given a heartbeat-only server", t, func() {
		station := NewStation()
		srv := NewServer(testLinkConfig(), station)
		cancel, done := startServer(t, srv)
		defer func() {
			cancel()
			select {
			case <-done:
			case <-time.After(3 * time.Second):
			}
		}()

		So(srv.Teleports(), ShouldBeFalse)

		conn, err := net.Dial("tcp", srv.Addr().String())
		So(err, ShouldBeNil)
		defer conn.Close()
		lines := readLines(conn)

		Convey("Frames are treated as plain text", func() {
			frame := NewCodec([]byte("k")).Encode([]byte{0x01})
			_, err := conn.Write([]byte(frame + "\n"))
			So(err, ShouldBeNil)

			So(eventually(logContains(station, "REMOTE: "+frame), 2*time.Second), ShouldBeTrue)
			So(waitFor(lines, 500*time.Millisecond), ShouldEqual, "")
		})
	})

	Convey("Given an address that is already taken", t, func() {
		busy, err := net.Listen("tcp", "127.0.0.1:0")
		So(err, ShouldBeNil)
		defer busy.Close()

		cfg := testLinkConfig()
		cfg.Listen = busy.Addr().String()
		srv := NewServer(cfg, NewStation())

		Convey("Run reports the bind failure", func() {
			err := srv.Run(context.Background())
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "bind")
			So(srv.Addr(), ShouldBeNil)
		})
	})
}
