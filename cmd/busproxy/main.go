package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"caracas/internal/bus"
	"caracas/internal/cli"
	"caracas/internal/config"
	"caracas/internal/metrics"
)

func printVersion() {
	fmt.Printf("busproxy v%s\n", cli.Version)
	fmt.Println("Event bus broker relaying publishers to subscribers")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  busproxy [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Binds a SUB socket for publishers and an XPUB socket for subscribers")
	fmt.Println("  and relays traffic between them until a fatal transport error.")
	fmt.Println("  Relayed events are counted per source on /metrics.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Printf("        Path to YAML config file (default %q if present)\n", config.DefaultPath)
	fmt.Println()
	fmt.Println("  -bus-publishers string")
	fmt.Println("        Publisher-side endpoint to bind (overrides bus.publishers)")
	fmt.Println()
	fmt.Println("  -bus-subscribers string")
	fmt.Println("        Subscriber-side endpoint to bind (overrides bus.subscribers)")
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
}

func main() {
	fs := flag.NewFlagSet("busproxy", flag.ExitOnError)
	common := cli.RegisterCommon(fs)
	busPublishers := fs.String("bus-publishers", "", "Publisher-side endpoint to bind")
	busSubscribers := fs.String("bus-subscribers", "", "Subscriber-side endpoint to bind")
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
			BusPublishers:  common.StringOverride("bus-publishers", *busPublishers),
			BusSubscribers: common.StringOverride("bus-subscribers", *busSubscribers),
			MetricsListen:  common.StringOverride("metrics-listen", *metricsListen),
		})
		if err != nil {
			return err
		}
		return run(cfg, cli.Logger(cfg, "busproxy"))
	})
}

// bindAddr prefers the explicit bind address over the connect endpoint.
func bindAddr(bind, endpoint string) string {
	if bind != "" {
		return bind
	}
	return endpoint
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := cli.SignalContext()
	defer stop()

	m := metrics.New("busproxy")
	g, gctx := errgroup.WithContext(ctx)

	broker, err := bus.NewBroker(gctx,
		bindAddr(cfg.Bus.BindPublishers, cfg.Bus.Publishers),
		bindAddr(cfg.Bus.BindSubscribers, cfg.Bus.Subscribers),
		logger, m)
	if err != nil {
		logger.Error("broker init failed", "error", err)
		return cli.Exit(cli.ExitBus, err)
	}

	logger.Info("starting busproxy", "version", cli.Version,
		"publishers", broker.PublisherAddr(), "subscribers", broker.SubscriberAddr())

	g.Go(func() error {
		if err := broker.Run(); err != nil {
			logger.Error("relay stopped", "error", err)
			return cli.Exit(cli.ExitBus, err)
		}
		return nil
	})
	g.Go(func() error {
		return cli.ServeMetrics(gctx, cfg.Metrics.Listen, m, logger, nil)
	})

	err = g.Wait()
	logger.Info("shutting down")
	return err
}
