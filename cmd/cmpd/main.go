package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"golang.org/x/sync/errgroup"

	"caracas/internal/bus"
	"caracas/internal/cli"
	"caracas/internal/config"
	"caracas/internal/dispatch"
	"caracas/internal/event"
	"caracas/internal/httpserver"
	"caracas/internal/metrics"
	"caracas/internal/mpdsvc"
)

func printVersion() {
	fmt.Printf("cmpd v%s\n", cli.Version)
	fmt.Println("Media command daemon: bus commands to MPD")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  cmpd [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Subscribes to \"MPD \" messages and executes them against MPD, reconnecting")
	fmt.Println("  with backoff when the server goes away. Optionally serves the player status")
	fmt.Println("  to UI clients over WebSocket at /status.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Printf("        Path to YAML config file (default %q if present)\n", config.DefaultPath)
	fmt.Println()
	fmt.Println("  -bus-subscribers string")
	fmt.Println("        Broker subscriber endpoint (overrides bus.subscribers)")
	fmt.Println()
	fmt.Println("  -mpd-address string")
	fmt.Println("        MPD host:port (overrides mpd.address)")
	fmt.Println()
	fmt.Println("  -metrics-listen string")
	fmt.Println("        Address for /metrics (overrides metrics.listen)")
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (overrides logging.level)")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Send a command from the shell")
	fmt.Println("  busctl publish \"MPD NEXT ALBUM\"")
	fmt.Println()
}

func main() {
	fs := flag.NewFlagSet("cmpd", flag.ExitOnError)
	common := cli.RegisterCommon(fs)
	busSubscribers := fs.String("bus-subscribers", "", "Broker subscriber endpoint")
	mpdAddress := fs.String("mpd-address", "", "MPD host:port")
	metricsListen := fs.String("metrics-listen", "", "Address for /metrics")
	fs.Usage = printUsage
	fs.Parse(os.Args[1:])

	if common.Help {
		printUsage()
		return
	}
	if common.Version {
		printVersion()
		return
	}

	cli.Main(func() error {
		cfg, err := common.Load(config.FlagOverrides{
			BusSubscribers: common.StringOverride("bus-subscribers", *busSubscribers),
			MPDAddress:     common.StringOverride("mpd-address", *mpdAddress),
			MetricsListen:  common.StringOverride("metrics-listen", *metricsListen),
		})
		if err != nil {
			return err
		}
		return run(cfg, cli.Logger(cfg, "cmpd"))
	})
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := cli.SignalContext()
	defer stop()

	password, err := config.ReadSecret(cfg.MPD.PasswordFile)
	if err != nil {
		return cli.Exit(cli.ExitConfig, err)
	}
	mpdCfg := mpdsvc.Config{Address: cfg.MPD.Address, Password: password}

	m := metrics.New("cmpd")
	g, gctx := errgroup.WithContext(ctx)

	sub := bus.NewSubscriber(gctx, logger)
	defer sub.Close()
	if err := sub.Connect(cfg.Bus.Subscribers); err != nil {
		return cli.Exit(cli.ExitBus, err)
	}
	if err := sub.Subscribe(event.Topic(event.SourceMPD)); err != nil {
		return cli.Exit(cli.ExitBus, err)
	}

	d := dispatch.New(dispatch.Config{
		Connect: mpdsvc.Connector(mpdCfg),
		Source:  sub,
		Backoff: config.Millis(cfg.MPD.BackoffMS),
		Logger:  logger,
		Metrics: m,
	})

	logger.Info("starting cmpd", "version", cli.Version, "bus", cfg.Bus.Subscribers, "mpd", cfg.MPD.Address)

	g.Go(func() error {
		if err := d.Run(gctx); err != nil {
			logger.Error("dispatcher stopped", "error", err)
			return cli.Exit(cli.ExitBus, err)
		}
		return nil
	})

	// status WebSocket shares the metrics listener when both use the same address
	var mountStatus func(*http.ServeMux)
	if cfg.MPD.StatusListen != "" {
		mountStatus = startStatus(gctx, g, mpdCfg, logger)
		if cfg.MPD.StatusListen != cfg.Metrics.Listen {
			mux := httpserver.NewMux()
			mountStatus(mux)
			g.Go(func() error {
				return httpserver.Run(gctx, cfg.MPD.StatusListen, mux, logger)
			})
			mountStatus = nil
		}
	}

	g.Go(func() error {
		return cli.ServeMetrics(gctx, cfg.Metrics.Listen, m, logger, mountStatus)
	})

	err = g.Wait()
	logger.Info("shutting down")
	return err
}
