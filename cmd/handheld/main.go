// Command handheld is the phone side of the demo. It syncs a data item,
// a data array and a bitmap, then periodically updates the item and
// messages every nearby node.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/mbocsi/wearbridge/bridge"
	"github.com/mbocsi/wearbridge/cmd/internal/demo"
	"github.com/mbocsi/wearbridge/proto"
)

func main() {
	flags := demo.RegisterFlags(pflag.CommandLine, "handheld")
	interval := pflag.Duration("interval", 10*time.Second, "how often to update data and send a message")
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

	if err := run(ctx, b, c.Done(), *interval); err != nil {
		slog.Error("Handheld stopped", "error", err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, b *bridge.Bridge, hubDone <-chan struct{}, interval time.Duration) error {
	binding, err := b.Bind(ctx)
	if err != nil {
		return err
	}
	defer binding.Close()

	messages, cancel := b.Messages().Subscribe()
	defer cancel()

	syncData(ctx, b, "myDataSync", 9)
	syncDataArray(ctx, b)
	syncBitmap(ctx, b)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
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
		case <-ticker.C:
			syncData(ctx, b, "myDataSyncUpdated", rand.Int32N(101))
			sendMessage(ctx, b)
		}
	}
}

func syncData(ctx context.Context, b *bridge.Bridge, value string, n int32) {
	m := proto.NewDataMap().PutString(demo.DataKey, value).PutInt(demo.DataIntKey, n)
	item, err := b.SyncData(ctx, demo.DataPath, m)
	if err != nil {
		slog.Error("syncData", "error", err.Error())
		return
	}
	slog.Info("syncData ok", "uri", item.URI.String(), "seq", item.Seq)
}

func syncDataArray(ctx context.Context, b *bridge.Bridge) {
	items := []*proto.DataMap{
		proto.NewDataMap().PutString(demo.DataKey, "myDataArraySync").PutInt(demo.DataIntKey, 4),
		proto.NewDataMap().PutString(demo.DataKey, "myDataArraySync2").PutInt(demo.DataIntKey, 5),
	}
	item, err := b.SyncDataArray(ctx, demo.DataArrayPath, items)
	if err != nil {
		slog.Error("syncDataArray", "error", err.Error())
		return
	}
	slog.Info("syncDataArray ok", "uri", item.URI.String(), "seq", item.Seq)
}

func syncBitmap(ctx context.Context, b *bridge.Bridge) {
	item, err := b.SyncBitmap(ctx, demo.BitmapPath, demo.ImageKey, demo.Profile(64))
	if err != nil {
		slog.Error("syncBitmap", "error", err.Error())
		return
	}
	slog.Info("syncBitmap ok", "uri", item.URI.String(), "seq", item.Seq)
}

func sendMessage(ctx context.Context, b *bridge.Bridge) {
	if err := b.SendMessage(ctx, demo.MessagePath, nil, ""); err != nil {
		slog.Error("sendMessage", "error", err.Error())
		return
	}
	slog.Info("sendMessage ok")
}
