// Command qlink runs a grounding station with its duplex link.
//
// Send SIGUSR1 to cycle the protocol; SIGINT or SIGTERM stops the station.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"
	"github.com/theapemachine/qlink"
)

func main() {
	fs := pflag.NewFlagSet("qlink", pflag.ExitOnError)
	qlink.RegisterFlags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := qlink.LoadConfig(fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logger, closer, err := qlink.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	defer closer.Close()
	log.SetDefault(logger)

	app, err := qlink.NewApp(cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	trigger := make(chan os.Signal, 1)
	signal.Notify(trigger, syscall.SIGUSR1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-trigger:
				app.Cycle()
			}
		}
	}()

	logger.Info("station up",
		"variant", cfg.Machine.Variant,
		"link", cfg.Link.Enabled,
		"teleport", cfg.Link.Enabled && cfg.Link.Teleport,
	)

	if err := app.Run(ctx); err != nil {
		logger.Error("station failed", "err", err)
		os.Exit(1)
	}
}
