// Turn the PMS5003 particulate sensor on/off before/after readings to extend
// its lifetime.
//
// The laser of the PMS5003 has a life span of about 30.000 hours (3.5 years).
// Powering it down between bursts of readings stretches that considerably.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/rubiojr/go-pms5003-onoff/config"
	"github.com/rubiojr/go-pms5003-onoff/cycle"
	"github.com/rubiojr/go-pms5003-onoff/exporter"
	"github.com/rubiojr/go-pms5003-onoff/logging"
	"github.com/rubiojr/go-pms5003-onoff/pms5003"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	// Keep milliseconds in the JSON timestamp field.
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(2)
	}

	log.Info().Msg("Turn the PMS5003 particulate sensor on/off before/after readings to extend its lifetime. Press Ctrl+C to exit!")

	dev, err := pms5003.NewWithOpts(cfg.DeviceOpts())
	if err != nil {
		log.Fatal().Err(err).Msg("Could not open PMS5003.")
	}
	defer dev.Close()
	dev.SetLogger(log)

	sched := cycle.New(dev, dev, cfg.CycleOpts())
	sched.SetLogger(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Status.Addr != "" {
		srv := startStatus(cfg, sched, log)
		defer stopStatus(srv, log)
	}

	if err := sched.Run(ctx); errors.Is(err, context.Canceled) {
		log.Info().Msg("Script terminated by user.")
	} else if err != nil {
		log.Error().Err(err).Msg("Acquisition loop stopped.")
	}
}

// startStatus serves the last reading, health and metrics in the background.
func startStatus(cfg *config.Config, sched *cycle.Scheduler, log zerolog.Logger) *exporter.Server {
	reg := prometheus.NewRegistry()
	exp := exporter.New(reg)
	sched.SetObserver(exp)

	srv := exporter.NewServer(cfg.Status.Addr, exp, reg, cfg.MaxDataAge())
	go func() {
		log.Info().Str("addr", cfg.Status.Addr).Msg("Status endpoint started.")
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Msg("Status endpoint failed.")
		}
	}()
	return srv
}

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

func stopStatus(srv shutdowner, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Status endpoint shutdown failed.")
	}
}
