package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/shifter/go/internal/shift/bridge"
	"github.com/mcdev12/shifter/go/internal/shift/coordinator"
	"github.com/mcdev12/shifter/go/internal/shift/interval"
	"github.com/mcdev12/shifter/go/internal/shift/metrics"
	"github.com/mcdev12/shifter/go/internal/shift/settings"
	"github.com/mcdev12/shifter/go/internal/shift/statusapi"
)

// host is the editor side of the interval: it applies shifts and renders
// the status bar
type host interface {
	coordinator.Shifter
	coordinator.StatusSink
}

type hostBridge struct {
	host   host
	checks []statusapi.Check
	serve  func(bridge.Commands) (func(), error)
	close  func()
}

// setupBridge picks NATS when a url is configured and falls back to logging
func setupBridge(cfg *Config) (*hostBridge, error) {
	if cfg.NatsURL == "" {
		log.Info().Msg("no NATS url configured, shifts will only be logged")
		return &hostBridge{
			host:  &bridge.Log{ServerID: cfg.ServerID},
			close: func() {},
		}, nil
	}

	nb, err := bridge.ConnectNATS(cfg.NatsURL, cfg.SubjectPrefix, cfg.ServerID)
	if err != nil {
		return nil, err
	}
	nb.WithTimeout(cfg.ShiftTimeout)
	log.Info().
		Str("url", cfg.NatsURL).
		Str("prefix", cfg.SubjectPrefix).
		Dur("shift_timeout", cfg.ShiftTimeout).
		Msg("connected to NATS")

	return &hostBridge{
		host:   nb,
		checks: []statusapi.Check{{Name: "nats", Fn: nb.Check}},
		serve:  nb.ServeCommands,
		close:  nb.Close,
	}, nil
}

func run(ctx context.Context, cfg *Config, file *settings.File) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	hb, err := setupBridge(cfg)
	if err != nil {
		return err
	}
	defer hb.close()

	manager, err := interval.Activate(ctx, interval.Options{
		ServerID:       cfg.ServerID,
		SocketDir:      cfg.SocketDir,
		Settings:       file,
		Shifter:        hb.host,
		Sink:           hb.host,
		Metrics:        metrics.NewPrometheus(reg),
		ConnectTimeout: cfg.ConnectTimeout,
	})
	if err != nil {
		return err
	}
	log.Info().
		Str("server_id", cfg.ServerID).
		Str("address", manager.Address()).
		Str("role", string(manager.Role())).
		Str("settings", file.Path()).
		Msg("joined shift interval")

	go watchRole(ctx, manager)

	if hb.serve != nil {
		unsubscribe, err := hb.serve(manager)
		if err != nil {
			log.Error().Err(err).Msg("failed to serve commands over NATS")
		} else {
			defer unsubscribe()
		}
	}

	var server *http.Server
	if cfg.StatusAddr != "" {
		server = statusapi.NewServer(cfg.StatusAddr, statusapi.NewHandler(manager, reg, hb.checks...))
		go func() {
			log.Info().Str("addr", cfg.StatusAddr).Msg("status server listening")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("status server failed")
			}
		}()
	}

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("status server shutdown: %w", err))
		}
	}
	if err := manager.Close(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("leave shift interval: %w", err))
	}
	return errors.Join(errs...)
}

func watchRole(ctx context.Context, manager *interval.Manager) {
	for {
		changed := manager.RoleChanged()
		select {
		case <-ctx.Done():
			return
		case <-changed:
			if ctx.Err() != nil {
				return
			}
			log.Info().Str("role", string(manager.Role())).Msg("shift interval role changed")
		}
	}
}
