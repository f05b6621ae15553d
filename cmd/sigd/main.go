package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"
	"periph.io/x/conn/v3/physic"

	"caracas/internal/bus"
	"caracas/internal/cli"
	"caracas/internal/config"
	"caracas/internal/debounce"
	"caracas/internal/hw"
	"caracas/internal/ladder"
	"caracas/internal/metrics"
	"caracas/internal/panel"
)

func printVersion() {
	fmt.Printf("sigd v%s\n", cli.Version)
	fmt.Println("Front panel signal daemon: GPIO and ADC inputs to bus events")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  sigd [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Watches the rotary encoder, its push switch, the ignition power line and")
	fmt.Println("  the resistor-ladder buttons, debounces them and publishes one")
	fmt.Println("  \"<SOURCE> <STATE>\" event per settled change.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Printf("        Path to YAML config file (default %q if present)\n", config.DefaultPath)
	fmt.Println()
	fmt.Println("  -bus-publishers string")
	fmt.Println("        Broker publisher endpoint (overrides bus.publishers)")
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
	fmt.Println("EXIT CODES:")
	fmt.Println("  1  bus failure, 2  GPIO initialization, 3  SPI/ADC initialization, 4  configuration")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - Requires access to /dev/gpiochip* and /dev/spidev* (run as root or add user to 'gpio' and 'spi')")
	fmt.Println()
}

func main() {
	fs := flag.NewFlagSet("sigd", flag.ExitOnError)
	common := cli.RegisterCommon(fs)
	busPublishers := fs.String("bus-publishers", "", "Broker publisher endpoint")
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
			BusPublishers: common.StringOverride("bus-publishers", *busPublishers),
			MetricsListen: common.StringOverride("metrics-listen", *metricsListen),
		})
		if err != nil {
			return err
		}
		return run(cfg, cli.Logger(cfg, "sigd"))
	})
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := cli.SignalContext()
	defer stop()

	m := metrics.New("sigd")
	sc := cfg.Signal

	if err := hw.Init(); err != nil {
		return cli.Exit(cli.ExitGPIO, err)
	}

	pins := []config.PinConfig{sc.RotaryClick, sc.RotaryLeft, sc.RotaryRight, sc.Power}
	names := []string{"rotary_click", "rotary_left", "rotary_right", "power"}
	channels := make([]*panel.Channel, len(pins))
	for i, pc := range pins {
		pull, err := hw.ParsePull(pc.Pull)
		if err != nil {
			return cli.Exit(cli.ExitConfig, err)
		}
		pin, err := hw.OpenPin(pc.Name, pull)
		if err != nil {
			return cli.Exit(cli.ExitGPIO, fmt.Errorf("%s: %w", names[i], err))
		}
		defer pin.Halt()
		channels[i] = panel.NewChannel(names[i], pin, pc.ActiveLow, pc.Debounce)
		logger.Debug("pin ready", "channel", names[i], "pin", pc.Name, "pull", pc.Pull, "active_low", pc.ActiveLow)
	}

	var analog *ladder.Decoder
	if sc.Analog.Enabled {
		ranges, err := sc.Analog.LadderRanges()
		if err != nil {
			return cli.Exit(cli.ExitConfig, err)
		}
		table, err := ladder.NewTable(ranges)
		if err != nil {
			return cli.Exit(cli.ExitConfig, err)
		}
		adc, err := hw.OpenMCP3008(sc.Analog.SPIPort, physic.Frequency(sc.Analog.SPIHz)*physic.Hertz)
		if err != nil {
			return cli.Exit(cli.ExitSPI, err)
		}
		defer adc.Close()
		analog = ladder.NewDecoder(table, adc)
	}

	pub := bus.NewPublisher(ctx, logger, m)
	defer pub.Close()
	if err := pub.Connect(cfg.Bus.Publishers); err != nil {
		return cli.Exit(cli.ExitBus, err)
	}

	p, err := panel.New(panel.Config{
		Click:        channels[0],
		Left:         channels[1],
		Right:        channels[2],
		Power:        channels[3],
		Analog:       analog,
		AnalogPeriod: config.Millis(sc.Analog.PollMS),
		Filter: debounce.New(debounce.Config{
			Duration: config.Millis(sc.DebounceMS),
			Samples:  sc.DebounceSamples,
		}, nil),
		Mode:         panel.Mode(sc.Mode),
		PollInterval: config.Millis(sc.PollIntervalMS),
		Publisher:    pub,
		Logger:       logger,
		Metrics:      m,
	})
	if err != nil {
		return cli.Exit(cli.ExitConfig, err)
	}

	logger.Info("starting sigd", "version", cli.Version, "bus", cfg.Bus.Publishers, "mode", sc.Mode, "analog", sc.Analog.Enabled)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := p.Run(gctx); err != nil {
			logger.Error("panel stopped", "error", err)
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
