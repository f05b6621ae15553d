package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"caracas/internal/bus"
	"caracas/internal/cli"
	"caracas/internal/event"
	"caracas/internal/logging"
)

// ============================================================================
// busctl - event bus command-line client
// ============================================================================
//
// Usage:
//   busctl publish "MPD NEXT ALBUM"
//   busctl listen "ROTARY " "POWER "
//   busctl status -url ws://127.0.0.1:6680/status
// ============================================================================

func printUsage() {
	fmt.Printf("busctl v%s\n", cli.Version)
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  busctl [-publishers ENDPOINT] publish <SOURCE> <STATE>")
	fmt.Println("  busctl [-subscribers ENDPOINT] listen [PREFIX...]")
	fmt.Println("  busctl status [-url URL]")
	fmt.Println()
	fmt.Println("COMMANDS:")
	fmt.Println("  publish   Send one event, e.g. \"MPD VOLUME STEP 5\" or \"MODE PRESS\"")
	fmt.Println("  listen    Print every event matching one of the prefixes (all if none)")
	fmt.Println("  status    Follow the player status served by cmpd")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Printf("  -publishers string    Broker publisher endpoint (default %q)\n", bus.DefaultPublisherEndpoint)
	fmt.Printf("  -subscribers string   Broker subscriber endpoint (default %q)\n", bus.DefaultSubscriberEndpoint)
	fmt.Println("  -settle duration      Wait after connecting before publishing (default 300ms)")
	fmt.Println()
}

func main() {
	fs := flag.NewFlagSet("busctl", flag.ExitOnError)
	publishers := fs.String("publishers", bus.DefaultPublisherEndpoint, "Broker publisher endpoint")
	subscribers := fs.String("subscribers", bus.DefaultSubscriberEndpoint, "Broker subscriber endpoint")
	settle := fs.Duration("settle", 300*time.Millisecond, "Wait after connecting before publishing")
	fs.Usage = printUsage
	fs.Parse(os.Args[1:])

	args := fs.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := cli.SignalContext()
	defer stop()

	var err error
	switch args[0] {
	case "publish", "pub":
		err = publish(ctx, *publishers, *settle, args[1:])
	case "listen", "sub":
		err = listen(ctx, *subscribers, args[1:])
	case "status":
		err = status(ctx, args[1:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "error: unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		os.Exit(cli.Fail(os.Stderr, err))
	}
}

// parseMessage joins the arguments into one event and validates it.
func parseMessage(args []string) (event.Event, error) {
	if len(args) == 0 {
		return event.Event{}, fmt.Errorf("publish requires a message")
	}
	ev, err := event.Decode([]byte(strings.Join(args, " ")))
	if err != nil {
		return event.Event{}, err
	}
	if err := ev.Validate(); err != nil {
		return event.Event{}, err
	}
	return ev, nil
}

func publish(ctx context.Context, endpoint string, settle time.Duration, args []string) error {
	ev, err := parseMessage(args)
	if err != nil {
		return err
	}

	pub := bus.NewPublisher(ctx, logging.Discard(), nil)
	defer pub.Close()
	if err := pub.Connect(endpoint); err != nil {
		return cli.Exit(cli.ExitBus, err)
	}

	// subscriptions reach a fresh PUB socket only after the handshake
	select {
	case <-time.After(settle):
	case <-ctx.Done():
		return nil
	}

	if err := pub.Publish(ev); err != nil {
		return cli.Exit(cli.ExitBus, err)
	}
	fmt.Println("ok")
	return nil
}

func listen(ctx context.Context, endpoint string, prefixes []string) error {
	sub := bus.NewSubscriber(ctx, logging.Discard())
	defer sub.Close()
	if err := sub.Connect(endpoint); err != nil {
		return cli.Exit(cli.ExitBus, err)
	}
	if len(prefixes) == 0 {
		prefixes = []string{""}
	}
	for _, p := range prefixes {
		if err := sub.Subscribe(p); err != nil {
			return cli.Exit(cli.ExitBus, err)
		}
	}

	for {
		msg, err := sub.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return cli.Exit(cli.ExitBus, err)
		}
		fmt.Printf("%s %s\n", time.Now().Format("15:04:05.000"), msg)
	}
}
