// cmd/bmsmon/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/tamzrod/bms-telemetry/internal/api"
	"github.com/tamzrod/bms-telemetry/internal/config"
	"github.com/tamzrod/bms-telemetry/internal/observability"
	"github.com/tamzrod/bms-telemetry/internal/publish"
	"github.com/tamzrod/bms-telemetry/internal/session"
	"github.com/tamzrod/bms-telemetry/internal/writer"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: bmsmon <config.yaml|config.toml>")
		os.Exit(2)
	}

	if err := run(os.Args[1]); err != nil {
		fmt.Fprintf(os.Stderr, "bmsmon: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	// --------------------
	// Load + validate config
	// --------------------

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	config.Normalize(cfg)

	log := observability.NewLogger("bmsmon", cfg.Log.Level, cfg.Log.Pretty, os.Stderr)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(reg)

	// --------------------
	// Session (adapter + workers)
	// --------------------

	sess, err := session.Open(cfg, metrics, log)
	if err != nil {
		return fmt.Errorf("session open failed: %w", err)
	}

	var sinks sync.WaitGroup
	sink := func(name string, fn func() error) {
		sinks.Add(1)
		go func() {
			defer sinks.Done()
			if err := fn(); err != nil {
				log.Warn().Err(err).Str("sink", name).Msg("sink stopped")
			}
		}()
	}

	// ---- register export (DATA + STATUS) ----
	var exporter *writer.Exporter
	if len(cfg.Export.Targets) > 0 {
		plan, err := writer.BuildPlan(cfg)
		if err != nil {
			_ = sess.Shutdown(0)
			return fmt.Errorf("writer plan failed: %w", err)
		}
		exporter, err = writer.Build(plan, metrics, observability.Component(log, "export"))
		if err != nil {
			_ = sess.Shutdown(0)
			return fmt.Errorf("writer clients failed: %w", err)
		}
		sess.OnStatus(exporter.WriteStatus)

		sub := sess.Subscribe()
		sink("export", func() error { return exporter.Run(context.Background(), sub) })
	}

	// ---- MQTT ----
	var pub *publish.Publisher
	if cfg.MQTT.Enabled {
		pub, err = publish.Connect(cfg.MQTT, sess.Name(), sess.ID(), metrics, observability.Component(log, "mqtt"))
		if err != nil {
			_ = sess.Shutdown(0)
			return err
		}
		sub := sess.Subscribe()
		sink("mqtt", func() error { return pub.Run(context.Background(), sub) })
	}

	// Workers outlive the signal context; Shutdown posts Exit first.
	if err := sess.Start(context.Background()); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- API ----
	var srv *api.Server
	if cfg.API.Enabled {
		srv = api.New(sess, metrics, reg, observability.Component(log, "api"))
		go func() {
			if err := srv.ListenAndServe(cfg.API.Addr); err != nil {
				log.Error().Err(err).Msg("api failed")
				stop()
			}
		}()
	}

	<-ctx.Done()
	log.Info().Msg("shutting down")

	return shutdown(log, cfg, sess, srv, &sinks, exporter, pub)
}

func shutdown(
	log zerolog.Logger,
	cfg *config.Config,
	sess *session.Session,
	srv *api.Server,
	sinks *sync.WaitGroup,
	exporter *writer.Exporter,
	pub *publish.Publisher,
) error {
	grace := time.Duration(cfg.Session.ShutdownGraceMs) * time.Millisecond

	// closes every subscription; sinks and event streams drain and return
	err := sess.Shutdown(grace)
	sinks.Wait()

	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), grace)
		if err := srv.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("api shutdown")
		}
		cancel()
	}

	if pub != nil {
		pub.Close()
	}
	if exporter != nil {
		if cerr := exporter.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("export close")
		}
	}
	return err
}
