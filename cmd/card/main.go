package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"caracas/internal/bus"
	"caracas/internal/card"
	"caracas/internal/cli"
	"caracas/internal/config"
	"caracas/internal/metrics"
)

func printVersion() {
	fmt.Printf("card v%s\n", cli.Version)
	fmt.Println("Front panel mapper and ignition power manager")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  card [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Turns panel events into MPD commands. Holding MODE switches the rotary,")
	fmt.Println("  volume and arrow buttons to track, album and artist navigation. When")
	fmt.Println("  ignition power is lost for longer than the timeout, music is paused and")
	fmt.Println("  the system is powered off.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Printf("        Path to YAML config file (default %q if present)\n", config.DefaultPath)
	fmt.Println()
	fmt.Println("  -bus-publishers string")
	fmt.Println("        Broker publisher endpoint (overrides bus.publishers)")
	fmt.Println()
	fmt.Println("  -bus-subscribers string")
	fmt.Println("        Broker subscriber endpoint (overrides bus.subscribers)")
	fmt.Println()
	fmt.Println("  -dry-run")
	fmt.Println("        Log the power off instead of performing it")
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
	fmt.Println("NOTES:")
	fmt.Println("  - Creating the keepalive file (card.keepalive_file) inhibits the shutdown")
	fmt.Println("  - Holding MODE while switching the ignition off pauses without shutting down")
	fmt.Println()
}

func main() {
	fs := flag.NewFlagSet("card", flag.ExitOnError)
	common := cli.RegisterCommon(fs)
	busPublishers := fs.String("bus-publishers", "", "Broker publisher endpoint")
	busSubscribers := fs.String("bus-subscribers", "", "Broker subscriber endpoint")
	dryRun := fs.Bool("dry-run", false, "Log the power off instead of performing it")
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
		if *dryRun {
			cfg.Card.DryRun = true
		}
		return run(cfg, cli.Logger(cfg, "card"))
	})
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := cli.SignalContext()
	defer stop()

	m := metrics.New("card")
	g, gctx := errgroup.WithContext(ctx)

	pub := bus.NewPublisher(gctx, logger, m)
	defer pub.Close()
	if err := pub.Connect(cfg.Bus.Publishers); err != nil {
		return cli.Exit(cli.ExitBus, err)
	}

	sub := bus.NewSubscriber(gctx, logger)
	defer sub.Close()
	if err := sub.Connect(cfg.Bus.Subscribers); err != nil {
		return cli.Exit(cli.ExitBus, err)
	}
	for _, topic := range card.Topics {
		if err := sub.Subscribe(topic); err != nil {
			return cli.Exit(cli.ExitBus, err)
		}
	}

	cc := cfg.Card
	keepalive := config.ExpandPath(cc.KeepaliveFile)
	c := card.New(card.Config{
		VolumeStep:      cc.VolumeStep,
		Repeat:          config.Millis(cc.RepeatMS),
		PowerTimeout:    config.Millis(cc.PowerTimeoutMS),
		AccelWindow:     config.Millis(cc.RotaryAccel.WindowMS),
		AccelThreshold:  cc.RotaryAccel.Threshold,
		AccelMultiplier: cc.RotaryAccel.Multiplier,
		Keepalive:       func() bool { return card.FileExists(keepalive) },
	}, pub, card.HostSystem{DryRun: cc.DryRun, Logger: logger}, logger)

	logger.Info("starting card", "version", cli.Version, "keepalive_file", keepalive, "dry_run", cc.DryRun)

	if err := c.Boot(); err != nil {
		return cli.Exit(cli.ExitBus, err)
	}

	msgs := make(chan []byte, 16)
	g.Go(func() error {
		defer close(msgs)
		for {
			msg, err := sub.Receive()
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return cli.Exit(cli.ExitBus, fmt.Errorf("receive: %w", err))
			}
			m.Received("ok")
			select {
			case msgs <- msg:
			case <-gctx.Done():
				return nil
			}
		}
	})
	g.Go(func() error {
		if err := c.Run(gctx, msgs); err != nil {
			if gctx.Err() != nil {
				return nil
			}
			logger.Error("card stopped", "error", err)
			return cli.Exit(cli.ExitBus, err)
		}
		return nil
	})
	g.Go(func() error {
		return cli.ServeMetrics(gctx, cfg.Metrics.Listen, m, logger, nil)
	})

	err := g.Wait()
	logger.Info("shutting down")
	return err
}
