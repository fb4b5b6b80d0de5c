// Command wearable is the watch side of the demo. It reads back what the
// handheld synced, logs every data and message push, and answers the
// first message with one of its own.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/mbocsi/wearbridge/bridge"
	"github.com/mbocsi/wearbridge/cmd/internal/demo"
	"github.com/mbocsi/wearbridge/proto"
	"github.com/mbocsi/wearbridge/service"
)

func main() {
	flags := demo.RegisterFlags(pflag.CommandLine, "wearable")
	pflag.Parse()

	cfg, err := flags.Load(pflag.CommandLine)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	target, err := cfg.Node.Target()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := cfg.Log.SetupLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := demo.Connect(ctx, cfg.Node, logger)
	if err != nil {
		slog.Error("Failed to connect", "error", err.Error())
		os.Exit(1)
	}
	defer c.Close()

	b := bridge.New(c, bridge.WithLogger(logger), bridge.WithReadTarget(target))
	defer b.Close()

	listener := service.New(c,
		service.WithBridge(b),
		service.WithLogger(logger),
		service.WithHooks(service.Hooks{
			OnMessage: func(ev proto.MessageEvent) {
				slog.Info("Woken by message", "path", ev.Path, "from", ev.SourceNodeID)
			},
		}),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return listener.Run(gctx) })
	g.Go(func() error { return run(gctx, b, c.Done()) })
	if err := g.Wait(); err != nil {
		slog.Error("Wearable stopped", "error", err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, b *bridge.Bridge, hubDone <-chan struct{}) error {
	messages, cancelMessages := b.Messages().Subscribe()
	defer cancelMessages()
	changes, cancelChanges := b.Data().Subscribe()
	defer cancelChanges()

	getData(ctx, b)
	getDataArray(ctx, b)
	getAllData(ctx, b)
	getBitmap(ctx, b)

	replied := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hubDone:
			return errors.New("hub connection closed")
		case ev, ok := <-messages:
			if !ok {
				return nil
			}
			slog.Info("Message received", "path", ev.Path, "from", ev.SourceNodeID)
			if !replied {
				replied = true
				sendMessage(ctx, b)
			}
		case change, ok := <-changes:
			if !ok {
				return nil
			}
			if change.Type == proto.DataDeleted {
				slog.Info("Data deleted", "uri", change.URI.String())
				continue
			}
			slog.Info("Data changed", "uri", change.URI.String(), "value", demo.Describe(change.Map))
		}
	}
}

func getData(ctx context.Context, b *bridge.Bridge) {
	m, err := b.GetData(ctx, demo.DataPath)
	if err != nil {
		slog.Error("getData", "error", err.Error())
		return
	}
	slog.Info("getData ok", "value", demo.Describe(m))
}

func getDataArray(ctx context.Context, b *bridge.Bridge) {
	items, err := b.GetDataArray(ctx, demo.DataArrayPath)
	if err != nil {
		slog.Error("getDataArray", "error", err.Error())
		return
	}
	for _, m := range items {
		slog.Info("getDataArray ok", "value", demo.Describe(m))
	}
}

func getAllData(ctx context.Context, b *bridge.Bridge) {
	maps, err := b.GetAllData(ctx, "")
	if err != nil {
		slog.Error("getAllData", "error", err.Error())
		return
	}
	slog.Info("getAllData ok", "items", len(maps))
}

func getBitmap(ctx context.Context, b *bridge.Bridge) {
	img, err := b.GetBitmap(ctx, demo.BitmapPath, demo.ImageKey)
	if err != nil {
		slog.Error("getBitmap", "error", err.Error())
		return
	}
	slog.Info("getBitmap ok", "bounds", img.Bounds().String())
}

func sendMessage(ctx context.Context, b *bridge.Bridge) {
	if err := b.SendMessage(ctx, demo.MessagePath, nil, ""); err != nil {
		slog.Error("sendMessage", "error", err.Error())
		return
	}
	slog.Info("sendMessage ok")
}
