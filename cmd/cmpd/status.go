package main

import (
	"context"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"caracas/internal/mpdsvc"
	"caracas/internal/statusws"
)

// startStatus runs the MPD status tracker and the WebSocket hub on g and
// returns a function mounting /status on a mux.
func startStatus(ctx context.Context, g *errgroup.Group, cfg mpdsvc.Config, logger *slog.Logger) func(*http.ServeMux) {
	updates := make(chan mpdsvc.Snapshot, 1)
	tracker := mpdsvc.NewTracker(cfg, logger, func(s mpdsvc.Snapshot) {
		offerLatest(updates, s)
	})

	srv := statusws.NewServer(logger, statusws.HubConfig{}, func() any {
		return tracker.Snapshot()
	})

	g.Go(func() error {
		srv.Hub().Run(ctx)
		return nil
	})
	g.Go(func() error {
		statusws.RunBroadcaster(ctx, srv.Hub(), updates, logger)
		return nil
	})
	g.Go(func() error {
		return tracker.Run(ctx)
	})

	return func(mux *http.ServeMux) {
		srv.Register(mux, "/status")
	}
}

// offerLatest puts v on a one-slot channel, replacing an unread value.
func offerLatest[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
