// Command gnirehtet-relay accepts framed-IPv4-packet client connections
// and relays their UDP and ICMP traffic to the host network, synthesizing
// replies back onto the client connection. Bootstrap style (cobra command,
// dlog-over-logrus logging, errgroup-supervised goroutines) is modeled on
// telepresenceio/telepresence's cmd/traffic/main.go.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/datawire/dlib/dlog"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/CandySunPlus/gnirehtet-relay/internal/config"
	"github.com/CandySunPlus/gnirehtet-relay/pkg/reactor"
	"github.com/CandySunPlus/gnirehtet-relay/pkg/wire"
)

// Version is inserted at build using -ldflags -X.
var Version = "(unknown version)"

func main() {
	var configPath string

	cmd := &cobra.Command{
		Use:   "gnirehtet-relay",
		Short: "Relay UDP and ICMP traffic tunneled from a gnirehtet client",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			ctx := withLogger(cmd.Context(), cfg.LogLevel)
			return run(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withLogger wraps a fresh logrus.Logger with dlib's dlog facade, matching
// telepresenceio/telepresence's cmd/traffic/logger.go pattern of
// dlog.WrapLogrus + dlog.WithLogger.
func withLogger(ctx context.Context, level string) context.Context {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(level); err == nil {
		logger.SetLevel(lvl)
	}
	dl := dlog.WrapLogrus(logger)
	dlog.SetFallbackLogger(dl)
	return dlog.WithLogger(ctx, dl)
}

// run starts the reactor, the accept loop and the idle-connection sweeper,
// and blocks until ctx is cancelled or any of them fails.
func run(ctx context.Context, cfg config.Config) error {
	dlog.Infof(ctx, "gnirehtet-relay %s starting, listening on %s", Version, cfg.ListenAddr)

	sweepInterval, err := time.ParseDuration(cfg.SweepInterval)
	if err != nil {
		return fmt.Errorf("parse sweep interval: %w", err)
	}

	epoll, err := reactor.NewEpoll()
	if err != nil {
		return fmt.Errorf("start reactor: %w", err)
	}
	defer epoll.Close()

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddr, err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})

	g.Go(func() error {
		return epoll.Run(ctx)
	})

	g.Go(func() error {
		return acceptLoop(ctx, ln, epoll, g, sweepInterval)
	})

	return g.Wait()
}

// acceptLoop accepts incoming wire connections and spawns, per connection,
// a wire.Client read loop plus a sweep ticker that expires its idle
// connections, each tagged with a session ID for log correlation (spec.md
// §4.7 "wire.Client owns one wire.Conn + one wire.Router"; §4.5 "the
// router sweeps periodically and closes expired connections").
func acceptLoop(ctx context.Context, ln net.Listener, sel reactor.Selector, g *errgroup.Group, sweepInterval time.Duration) error {
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		sessionID := uuid.New().String()
		sessionCtx, cancel := context.WithCancel(dlog.WithField(ctx, "session", sessionID))
		client := wire.NewClient(sessionCtx, wire.NewConn(nc), sel, clockwork.NewRealClock())

		g.Go(func() error {
			defer cancel()
			defer nc.Close()
			defer func() {
				if err := client.Router().CloseAll(); err != nil {
					dlog.Warnf(sessionCtx, "session cleanup: %v", err)
				}
			}()
			dlog.Infof(sessionCtx, "accepted connection from %s", nc.RemoteAddr())
			if err := client.ReadLoop(); err != nil && ctx.Err() == nil {
				dlog.Warnf(sessionCtx, "session ended: %v", err)
			}
			return nil
		})

		g.Go(func() error {
			return sweepLoop(sessionCtx, client.Router(), sweepInterval)
		})
	}
}

// sweepLoop periodically expires idle connections on router until ctx is
// cancelled (session end or relay shutdown).
func sweepLoop(ctx context.Context, router *wire.Router, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			router.Sweep()
		}
	}
}
