// Command barsagent hosts the Aerodrome Manager and the Local IPC
// Broker it accepts client-core connections through (spec.md §4.2,
// §4.3). It is the process an EuroScope plugin's Client Core dials
// over loopback TCP; the Client Core (internal/client) runs inside the
// plugin host and is not started by this binary.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/barsnet/stopbars/internal/ipc"
	"github.com/barsnet/stopbars/internal/logging"
	"github.com/barsnet/stopbars/internal/sharedstate"
	"github.com/barsnet/stopbars/internal/upstream"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	listenAddr := flag.String("listen", "127.0.0.1:0", "loopback address the Local IPC Broker listens on")
	configPath := flag.String("config", "", "path to a compiled config package (required)")
	upstreamBase := flag.String("upstream", "", "authoritative session server base URL, e.g. https://bars.example.com (required)")
	upstreamKey := flag.String("key", "", "API key presented to the authoritative session server")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	logOutput := flag.String("log-output", "stdout", "log output: stdout, stderr, or a file path")
	showVersion := flag.Bool("version", false, "show version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("barsagent %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	logger, closer, err := logging.New(logging.Config{Level: *logLevel, Output: *logOutput})
	if err != nil {
		fmt.Fprintf(os.Stderr, "barsagent: build logger: %v\n", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	defer logger.Sync()

	if *configPath == "" || *upstreamBase == "" {
		logger.Fatal("barsagent: -config and -upstream are required")
	}

	loader, err := sharedstate.LoadFile(*configPath)
	if err != nil {
		logger.Fatal("barsagent: load config package", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The listener's accept loop, every per-aerodrome upstream driver
	// goroutine it spawns on demand, and the signal-wait shutdown are
	// all supervised by one errgroup (spec.md's domain-stack wiring for
	// golang.org/x/sync, grounded on its use across the retrieval pack).
	g, gctx := errgroup.WithContext(ctx)

	opener := func(icao string, handler sharedstate.DownstreamHandler) (sharedstate.UpstreamHandle, context.CancelFunc) {
		driverCtx, cancel := context.WithCancel(gctx)
		driver := upstream.New(upstream.Config{
			BaseURL: *upstreamBase,
			ICAO:    icao,
			Key:     *upstreamKey,
			Logger:  logger,
		}, handler)
		g.Go(func() error {
			if err := driver.Run(driverCtx); err != nil && driverCtx.Err() == nil {
				return err
			}
			return nil
		})
		return driver, cancel
	}

	mgr := sharedstate.NewManager(loader, opener, logger)

	broker, err := ipc.NewTCPBroker(*listenAddr, logger)
	if err != nil {
		logger.Fatal("barsagent: bind ipc broker", zap.Error(err))
	}

	g.Go(func() error {
		logger.Info("barsagent: ipc broker listening", zap.String("addr", broker.Addr()))
		broker.Serve(func(ch *ipc.TCPChannel) {
			session := sharedstate.NewSession(mgr, ch, logger)
			session.Run(gctx)
		})
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("barsagent: shutting down")
		broker.Stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("barsagent: fatal error", zap.Error(err))
	}
}
