package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"auction_go/internal/app"

	"golang.org/x/sync/errgroup"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	flag.Parse()

	// Pprof server, localhost only
	go func() {
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("pprof server failed", slog.Any("error", err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(ctx, *configPath); err != nil {
		slog.Error("bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Close()

	if err := bootstrap.LoadPostings(ctx); err != nil {
		slog.Error("loading postings failed", slog.Any("error", err))
		os.Exit(1)
	}

	cfg := bootstrap.Config

	g, ctx := errgroup.WithContext(ctx)

	// Expiry/settlement tick
	g.Go(func() error {
		err := bootstrap.Service.RunTicker(ctx, cfg.TickInterval())
		if err == context.Canceled {
			return nil
		}
		return err
	})

	// Live event stream
	g.Go(func() error {
		return bootstrap.Hub.Run(ctx, cfg.Listen.WS)
	})

	// HTTP API
	router := bootstrap.HTTP.Router()
	g.Go(func() error {
		slog.Info("http api listening", slog.String("addr", cfg.Listen.HTTP))
		return router.Listen(cfg.Listen.HTTP)
	})
	g.Go(func() error {
		<-ctx.Done()
		return router.Shutdown()
	})

	slog.Info("auction server operational")
	if err := g.Wait(); err != nil {
		slog.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("shut down cleanly")
}
