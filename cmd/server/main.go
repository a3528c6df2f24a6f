package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/lobbysync/internal/config"
	"github.com/DoyleJ11/lobbysync/internal/discovery"
	"github.com/DoyleJ11/lobbysync/internal/engine"
	"github.com/DoyleJ11/lobbysync/internal/httpapi"
	"github.com/DoyleJ11/lobbysync/internal/hub"
	"github.com/DoyleJ11/lobbysync/internal/lobby"
	"github.com/DoyleJ11/lobbysync/internal/logging"
	"github.com/DoyleJ11/lobbysync/internal/match"
	"github.com/DoyleJ11/lobbysync/internal/netx"
	"github.com/DoyleJ11/lobbysync/internal/telemetry"
)

var version = "dev"

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		config.Exitf("%v", err)
	}
	var cfg config.Server
	if err := config.ParseEnv(&cfg); err != nil {
		config.Exitf("%v", err)
	}
	if err := cfg.Validate(); err != nil {
		config.Exitf("config: %v", err)
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		config.Exitf("%v", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Server, log *zap.Logger) error {
	desc, err := match.NewFiles(cfg.MapsDir).Describe(cfg.Map)
	if err != nil {
		return err
	}
	tr, err := netx.ListenUDP(cfg.ListenAddr, log)
	if err != nil {
		return err
	}
	telemetry.SetBuildInfo(version, engine.DefaultVersions.Engine, engine.DefaultVersions.Protocol)
	if err := telemetry.RegisterDropCounter("coordinator", tr.Dropped); err != nil {
		log.Warn("drop counter", zap.Error(err))
	}

	h := hub.NewHub(ctx)
	lb := lobby.New(lobby.Config{
		HostName: cfg.HostName,
		Map:      desc,
		Liveness: engine.Liveness{Probe: cfg.Probe, Dead: cfg.Dead},
		Tick:     cfg.TickPeriod,
	}, tr, match.LogStarter(log), h, log)

	var srv *http.Server
	if cfg.HTTPAddr != "" {
		srv = &http.Server{Addr: cfg.HTTPAddr, Handler: httpapi.SetupRoutes(h, lb), ReadHeaderTimeout: 5 * time.Second}
	}

	var adv *discovery.Advertiser
	if len(cfg.EtcdEndpoints) > 0 {
		cli, err := discovery.NewClient(cfg.EtcdEndpoints, cfg.EtcdTimeout)
		if err != nil {
			return multierr.Append(err, tr.Close())
		}
		defer cli.Close()
		addr := cfg.AdvertiseAddr
		if addr == "" {
			addr = tr.LocalAddr().String()
		}
		adv, err = discovery.Advertise(ctx, cli, cfg.LobbyID, addr, cfg.EtcdTTL, log)
		if err != nil {
			return multierr.Append(err, tr.Close())
		}
	}

	log.Info("lobby open",
		zap.Stringer("udp", tr.LocalAddr()),
		zap.String("http", cfg.HTTPAddr),
		zap.String("map", desc.Path),
		zap.Uint32("checksum", desc.Checksum),
	)

	g, gctx := errgroup.WithContext(ctx)
	sessionDone := make(chan struct{})
	g.Go(func() error {
		defer close(sessionDone)
		return lb.Run(gctx)
	})
	if srv != nil {
		g.Go(func() error {
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-sessionDone:
		}
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var errs error
		if srv != nil {
			errs = multierr.Append(errs, srv.Shutdown(sctx))
		}
		if adv != nil {
			errs = multierr.Append(errs, adv.Close(sctx))
		}
		h.Inbox() <- hub.ShutdownHub{}
		return multierr.Append(errs, tr.Close())
	})
	return g.Wait()
}
