package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/lobbysync/internal/client"
	"github.com/DoyleJ11/lobbysync/internal/config"
	"github.com/DoyleJ11/lobbysync/internal/discovery"
	"github.com/DoyleJ11/lobbysync/internal/engine"
	"github.com/DoyleJ11/lobbysync/internal/httpapi"
	"github.com/DoyleJ11/lobbysync/internal/hub"
	"github.com/DoyleJ11/lobbysync/internal/logging"
	"github.com/DoyleJ11/lobbysync/internal/match"
	"github.com/DoyleJ11/lobbysync/internal/netx"
	"github.com/DoyleJ11/lobbysync/internal/setup"
	"github.com/DoyleJ11/lobbysync/internal/telemetry"
	"github.com/DoyleJ11/lobbysync/pkg/types"
)

var version = "dev"

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		config.Exitf("%v", err)
	}
	var cfg config.Client
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

	err = run(ctx, cfg, log)
	var end *engine.EndError
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case errors.As(err, &end) && end.Reason == engine.ReasonLeft:
	default:
		log.Fatal("client stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Client, log *zap.Logger) error {
	server, err := resolve(ctx, cfg, log)
	if err != nil {
		return err
	}
	tr, err := netx.ListenUDP(cfg.ListenAddr, log)
	if err != nil {
		return err
	}
	telemetry.SetBuildInfo(version, engine.DefaultVersions.Engine, engine.DefaultVersions.Protocol)
	if err := telemetry.RegisterDropCounter("peer", tr.Dropped); err != nil {
		log.Warn("drop counter", zap.Error(err))
	}

	h := hub.NewHub(ctx)
	c := client.New(client.Config{
		Name:   cfg.Name,
		Server: server,
		Tick:   cfg.TickPeriod,
	}, tr, match.NewFiles(cfg.MapsDir), match.LogStarter(log), h, log)

	var srv *http.Server
	if cfg.HTTPAddr != "" {
		srv = &http.Server{Addr: cfg.HTTPAddr, Handler: httpapi.SetupRoutes(h, nil), ReadHeaderTimeout: 5 * time.Second}
	}

	// stdin never unblocks, so the prompt lives outside the group
	go prompt(ctx, c, h)

	g, gctx := errgroup.WithContext(ctx)
	sessionDone := make(chan struct{})
	g.Go(func() error {
		defer close(sessionDone)
		return c.Run(gctx)
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
			errs = srv.Shutdown(sctx)
		}
		h.Inbox() <- hub.ShutdownHub{}
		return multierr.Append(errs, tr.Close())
	})
	return g.Wait()
}

// resolve finds the coordinator from LOBBY_SERVER or, failing that, etcd.
func resolve(ctx context.Context, cfg config.Client, log *zap.Logger) (netip.AddrPort, error) {
	addr := cfg.Server
	if addr == "" {
		cli, err := discovery.NewClient(cfg.EtcdEndpoints, cfg.EtcdTimeout)
		if err != nil {
			return netip.AddrPort{}, err
		}
		defer cli.Close()
		lobbies, err := discovery.List(ctx, cli)
		if err != nil {
			return netip.AddrPort{}, err
		}
		for _, l := range lobbies {
			if cfg.LobbyID == "" || l.ID == cfg.LobbyID {
				addr = l.Addr
				log.Info("found lobby", zap.String("id", l.ID), zap.String("addr", l.Addr))
				break
			}
		}
		if addr == "" {
			return netip.AddrPort{}, fmt.Errorf("no advertised lobby %q", cfg.LobbyID)
		}
	}
	ua, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("resolve %s: %w", addr, err)
	}
	return netx.Canonical(ua.AddrPort()), nil
}

// prompt reads commands from stdin and prints every snapshot.
func prompt(ctx context.Context, c *client.Client, h *hub.Hub) {
	out := make(chan types.Snapshot, 16)
	h.Inbox() <- hub.Subscribe{ID: "stdout", Outbox: out}
	go func() {
		for snap := range out {
			printSnapshot(snap)
		}
	}()

	fmt.Println("commands: ready | unready | race <n> | quit")
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		choice := own(c.Snapshot())
		var err error
		switch fields[0] {
		case "ready":
			choice.Ready = true
			err = c.SetChoice(ctx, choice)
		case "unready":
			choice.Ready = false
			err = c.SetChoice(ctx, choice)
		case "race":
			n, perr := strconv.ParseUint(strings.Join(fields[1:], ""), 10, 8)
			if perr != nil {
				fmt.Println("usage: race <0-255>")
				continue
			}
			choice.Race = uint8(n)
			err = c.SetChoice(ctx, choice)
		case "quit":
			err = c.Leave(ctx)
		default:
			fmt.Println("unknown command")
			continue
		}
		if err != nil {
			fmt.Println("error:", err)
		}
	}
}

func own(s types.Snapshot) setup.Choice {
	for _, seat := range s.Seats {
		if seat.Slot == s.Slot {
			return setup.Choice{Ready: seat.Ready, Race: seat.Race}
		}
	}
	return setup.Choice{}
}

func printSnapshot(s types.Snapshot) {
	fmt.Printf("[%s] slot %d map %s\n", s.State, s.Slot, s.Map.Path)
	for _, seat := range s.Seats {
		mark := " "
		if seat.Ready {
			mark = "*"
		}
		fmt.Printf("  %s %d %-15s race %d\n", mark, seat.Slot, seat.Name, seat.Race)
	}
}
