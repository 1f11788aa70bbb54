// Command mediacache runs the local range-caching media proxy: a single
// HTTP listener that serves GET/HEAD /?url=<origin> by splicing cached
// chunks with freshly fetched ones.
//
// Grounded on the teacher's main.go: flag-parsed config path, a
// contrib/config.Config[T] hot-reload loop, tableflip-driven graceful
// restart, and a process-wide zap logger tagged with pid/timestamp —
// narrowed from the teacher's kratos.App multi-transport/plugin runner
// (this process has exactly one transport.Server and no plugin system)
// down to a plain run loop that starts the server and waits for a
// termination signal or tableflip's own exit.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cloudflare/tableflip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/devojony/mediacache/conf"
	"github.com/devojony/mediacache/contrib/config"
	"github.com/devojony/mediacache/contrib/config/provider/file"
	"github.com/devojony/mediacache/contrib/log"
	"github.com/devojony/mediacache/internal/cachemanager"
	"github.com/devojony/mediacache/internal/originfetcher"
	"github.com/devojony/mediacache/server"
)

var (
	flagConf    string
	flagVerbose bool
)

func init() {
	flag.StringVar(&flagConf, "c", "config.yaml", "config file path")
	flag.BoolVar(&flagVerbose, "v", false, "enable verbose log")

	registerer := prometheus.WrapRegistererWithPrefix("mediacache_", prometheus.DefaultRegisterer)
	registerer.MustRegister(collectors.NewGoCollector(collectors.WithGoCollectorMemStatsMetricsDisabled()))
}

func main() {
	flag.Parse()

	log.SetLogger(log.With(log.GetLogger(), "ts", log.Timestamp(time.RFC3339), "pid", os.Getpid()))

	c := config.New[conf.Bootstrap](config.WithSource(file.NewSource(flagConf)))
	defer c.Close()

	bc := conf.Defaults()
	if err := c.Scan(bc); err != nil {
		log.Fatalf("load config %s: %v", flagConf, err)
	}

	if bc.Logger != nil && bc.Logger.Path != "" {
		level := log.LevelInfo
		if flagVerbose || strings.EqualFold(bc.Logger.Level, "debug") {
			level = log.LevelDebug
		}
		fileLogger := log.NewFileLogger(bc.Logger.Path, level, bc.Logger.MaxSize, bc.Logger.MaxBackups, bc.Logger.MaxAge, bc.Logger.Compress)
		log.SetLogger(log.With(fileLogger, "ts", log.Timestamp(time.RFC3339), "pid", os.Getpid()))
	}

	if err := run(bc); err != nil {
		log.Fatal(err)
	}
}

func run(bc *conf.Bootstrap) error {
	flip, err := tableflip.New(tableflip.Options{
		PIDFile:        bc.PidFile,
		UpgradeTimeout: 120 * time.Second,
	})
	if err != nil {
		return err
	}
	defer flip.Stop()

	if !flip.HasParent() && strings.HasSuffix(bc.Server.Addr, ".sock") {
		_ = os.Remove(bc.Server.Addr)
	}

	manager, err := cachemanager.New(bc.Cache.Root, bc.Cache.MaxTotalBytes)
	if err != nil {
		return err
	}

	origin := originfetcher.New(originfetcher.Config{
		MaxIdleConnsPerHost:   bc.Upstream.MaxIdleConnsPerHost,
		DialTimeout:           bc.Upstream.DialTimeout,
		ResponseHeaderTimeout: bc.Upstream.ResponseHeaderTimeout,
		IdleFetchTimeout:      bc.Upstream.IdleFetchTimeout,
	})

	srv := server.NewServer(flip, bc, manager, origin)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	go func() {
		if err := flip.Ready(); err != nil {
			log.Errorf("tableflip ready: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR2)

	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGUSR2 {
				log.Infof("received SIGUSR2, upgrading binary")
				if err := flip.Upgrade(); err != nil {
					log.Warnf("upgrade failed: %v", err)
				}
				continue
			}
			log.Infof("received %s, shutting down", sig)
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
			err := srv.Stop(stopCtx)
			stopCancel()
			return err

		case <-flip.Exit():
			log.Infof("tableflip parent exiting")
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
			err := srv.Stop(stopCtx)
			stopCancel()
			return err

		case err := <-errCh:
			return err
		}
	}
}
