package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/barsnet/stopbars/internal/authserver"
	"github.com/barsnet/stopbars/internal/logging"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

// keyList is a repeatable flag.Value collecting --controller/--observer
// key occurrences, grounded on the teacher's single-valued flag.String
// CLI style generalized to a multi-valued flag.
type keyList []string

func (k *keyList) String() string {
	return fmt.Sprintf("%v", []string(*k))
}

func (k *keyList) Set(v string) error {
	*k = append(*k, v)
	return nil
}

// intersectKeys returns every key present in both a and b (spec.md §6:
// the server must warn, not silently pick a side, when a key is
// authorized as both a controller and an observer).
func intersectKeys(a, b keyList) []string {
	inA := make(map[string]struct{}, len(a))
	for _, k := range a {
		inA[k] = struct{}{}
	}
	var shared []string
	for _, k := range b {
		if _, ok := inA[k]; ok {
			shared = append(shared, k)
		}
	}
	return shared
}

func main() {
	var controllerKeys, observerKeys keyList
	listenAddr := flag.String("listen", ":8080", "address the authoritative session server listens on")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	logOutput := flag.String("log-output", "stdout", "log output: stdout, stderr, or a file path")
	tlsCert := flag.String("tls-cert", "", "TLS certificate file (enables HTTPS when set with -tls-key)")
	tlsKey := flag.String("tls-key", "", "TLS private key file")
	showVersion := flag.Bool("version", false, "show version information and exit")
	flag.Var(&controllerKeys, "controller", "authorize KEY as a controller (repeatable)")
	flag.Var(&observerKeys, "observer", "authorize KEY as an observer (repeatable)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("barsd %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	logger, closer, err := logging.New(logging.Config{Level: *logLevel, Output: *logOutput})
	if err != nil {
		fmt.Fprintf(os.Stderr, "barsd: build logger: %v\n", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	defer logger.Sync()

	if len(controllerKeys) == 0 && len(observerKeys) == 0 {
		logger.Fatal("barsd: at least one -controller or -observer key is required")
	}

	if shared := intersectKeys(controllerKeys, observerKeys); len(shared) > 0 {
		logger.Warn("barsd: key present in both -controller and -observer sets; handleConnect treats it as a controller",
			zap.Strings("keys", shared))
	}

	srv := authserver.NewServer(controllerKeys, observerKeys, logger)

	httpSrv := &http.Server{
		Addr:    *listenAddr,
		Handler: srv.Routes(),
	}

	if *tlsCert != "" && *tlsKey != "" {
		tlsCfg, err := buildServerTLSConfig(*tlsCert, *tlsKey)
		if err != nil {
			logger.Fatal("barsd: build TLS config", zap.Error(err))
		}
		httpSrv.TLSConfig = tlsCfg
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The listener and the signal-wait-then-shutdown sequence are
	// supervised by one errgroup, grounded on golang.org/x/sync's use
	// across the retrieval pack as the idiomatic replacement for a raw
	// WaitGroup plus manual error-channel plumbing.
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("barsd: listening",
			zap.String("addr", *listenAddr),
			zap.Int("controllers", len(controllerKeys)),
			zap.Int("observers", len(observerKeys)),
			zap.Bool("tls", httpSrv.TLSConfig != nil))

		var err error
		if httpSrv.TLSConfig != nil {
			err = httpSrv.ListenAndServeTLS(*tlsCert, *tlsKey)
		} else {
			err = httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("barsd: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("barsd: graceful shutdown failed", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("barsd: server error", zap.Error(err))
	}
}

// buildServerTLSConfig loads a server certificate/key pair, grounded
// on internal/cluster.BuildCPTLSConfig from the teacher repo but
// without its mutual-TLS client-CA verification: barsd authenticates
// clients by the key in the /connect query string, not by client cert.
func buildServerTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load server cert/key: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
