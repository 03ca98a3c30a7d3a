package qlink

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func fastConfig() *Config {
	cfg := NewConfig()
	cfg.Link.Listen = "127.0.0.1:0"
	cfg.Link.AcceptTimeout = 50 * time.Millisecond
	cfg.Machine.TickRate = 1000
	return cfg
}

// runApp starts app.Run in the background; the returned stop cancels it
// and returns Run's error.
func runApp(app *App) func() error {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	return func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(3 * time.Second):
			return context.DeadlineExceeded
		}
	}
}

func TestApp(t *testing.T) {
	Convey("Given a station without a link", t, func() {
		cfg := fastConfig()
		cfg.Link.Enabled = false
		cfg.Machine.AutoCycle = true

		app, err := NewApp(cfg, nil)
		So(err, ShouldBeNil)
		So(app.Server(), ShouldBeNil)

		Convey("An automatic converge scan is granted", func() {
			stop := runApp(app)
			granted := eventually(func() bool { return app.Station().Snapshot().AccessGranted }, 5*time.Second)
			So(stop(), ShouldBeNil)
			So(granted, ShouldBeTrue)
			So(app.Station().Snapshot().Status, ShouldEqual, "STATE LOCKED: |Ψ⁻⟩")
		})

		Convey("Cycle requests are coalesced", func() {
			app.Cycle()
			app.Cycle()
			app.Cycle()
			So(len(app.cycles), ShouldEqual, 1)
		})
	})

	Convey("Given a station with a manual trigger", t, func() {
		cfg := fastConfig()
		cfg.Link.Enabled = false

		app, err := NewApp(cfg, nil)
		So(err, ShouldBeNil)

		Convey("Nothing scans until a cycle is requested", func() {
			stop := runApp(app)
			time.Sleep(50 * time.Millisecond)
			So(app.Station().Snapshot().Scanning, ShouldBeFalse)

			app.Cycle()
			So(eventually(func() bool { return app.Station().Snapshot().Scanning }, time.Second), ShouldBeTrue)
			So(stop(), ShouldBeNil)
		})
	})

	Convey("Given a station with the full link", t, func() {
		app, err := NewApp(fastConfig(), nil)
		So(err, ShouldBeNil)
		So(app.Server(), ShouldNotBeNil)
		So(app.Server().Teleports(), ShouldBeTrue)

		Convey("Peers receive heartbeats until shutdown", func() {
			stop := runApp(app)

			select {
			case <-app.Server().Ready():
			case <-time.After(2 * time.Second):
			}
			So(app.Server().Addr(), ShouldNotBeNil)

			conn, err := net.Dial("tcp", app.Server().Addr().String())
			So(err, ShouldBeNil)
			defer conn.Close()

			_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			line, err := bufio.NewReader(conn).ReadString('\n')
			So(err, ShouldBeNil)
			So(strings.HasPrefix(line, "FIDELITY:"), ShouldBeTrue)

			So(stop(), ShouldBeNil)
			So(app.Metrics().Export()["sessions"], ShouldEqual, int64(1))
		})
	})

	Convey("Given a link on a busy port", t, func() {
		busy, err := net.Listen("tcp", "127.0.0.1:0")
		So(err, ShouldBeNil)
		defer busy.Close()

		cfg := fastConfig()
		cfg.Link.Listen = busy.Addr().String()
		cfg.Machine.AutoCycle = true

		app, err := NewApp(cfg, nil)
		So(err, ShouldBeNil)

		Convey("The station keeps running without it", func() {
			stop := runApp(app)
			So(eventually(func() bool { return app.Station().Snapshot().AccessGranted }, 5*time.Second), ShouldBeTrue)
			So(stop(), ShouldBeNil)
		})
	})

	Convey("Given an invalid config", t, func() {
		cfg := fastConfig()
		cfg.Machine.TickRate = 0

		_, err := NewApp(cfg, nil)
		So(err, ShouldNotBeNil)
	})
}

func TestNewBackend(t *testing.T) {
	Convey("Given backend configs", t, func() {
		Convey("statevector is the noiseless simulator", func() {
			b, err := NewBackend(BackendConfig{Name: "statevector"})
			So(err, ShouldBeNil)
			So(b.Name(), ShouldEqual, "statevector_simulator")
			So(b.Available(), ShouldBeNil)
		})

		Convey("Noise wraps the backend", func() {
			b, err := NewBackend(BackendConfig{Name: "statevector", Noise: 0.1})
			So(err, ShouldBeNil)
			So(b.Name(), ShouldEqual, "noisy(statevector_simulator)")
		})

		Convey("offline is never available", func() {
			b, err := NewBackend(BackendConfig{Name: "offline"})
			So(err, ShouldBeNil)
			So(b.Available(), ShouldEqual, ErrBackendUnavailable)
		})

		Convey("Unknown names are rejected", func() {
			_, err := NewBackend(BackendConfig{Name: "ibmq"})
			So(err, ShouldNotBeNil)
		})
	})
}
