// Package demo holds what the handheld and wearable demo nodes share:
// the paths and keys they exchange and the hub connection setup.
package demo

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/mbocsi/wearbridge/client"
	"github.com/mbocsi/wearbridge/config"
	"github.com/mbocsi/wearbridge/proto"
)

const (
	MessagePath   = "/message"
	DataPath      = "/data"
	DataArrayPath = "/dataarray"
	BitmapPath    = "/bitmap"

	DataKey    = "data"
	DataIntKey = "dataInt"
	ImageKey   = "image"
)

// Flags are the command-line overrides shared by the demo nodes.
type Flags struct {
	Config   *string
	Hub      *string
	Name     *string
	LogLevel *string
}

func RegisterFlags(fs *pflag.FlagSet, defaultName string) Flags {
	return Flags{
		Config:   fs.StringP("config", "c", "", "config file (defaults to $"+config.EnvVar+")"),
		Hub:      fs.String("hub", "", "hub address; empty discovers it over mDNS"),
		Name:     fs.StringP("name", "n", defaultName, "proposed node name"),
		LogLevel: fs.String("log-level", "", "debug, info, warn or error"),
	}
}

// Load reads the config file and applies the flags set on fs.
func (f Flags) Load(fs *pflag.FlagSet) (*config.Config, error) {
	cfg, err := config.Load(*f.Config)
	if err != nil {
		return nil, err
	}
	if fs.Changed("hub") {
		cfg.Node.HubAddr = *f.Hub
	}
	if fs.Changed("name") || cfg.Node.Name == "" {
		cfg.Node.Name = *f.Name
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = *f.LogLevel
	}
	return cfg, cfg.Validate()
}

// Connect starts a client for cfg, discovering the hub when no address is
// configured.
func Connect(ctx context.Context, cfg config.NodeConfig, logger *slog.Logger) (*client.Client, error) {
	var transport client.Transport = client.NewTCPTransport()
	if cfg.Transport == "websocket" {
		transport = client.NewWebSocketTransport()
	}

	addr := cfg.HubAddr
	if addr == "" {
		discover := client.DiscoverTCPService
		if cfg.Transport == "websocket" {
			discover = client.DiscoverWebSocketService
		}
		svc, err := discover(cfg.DiscoveryTime)
		if err != nil {
			return nil, fmt.Errorf("discover hub: %w", err)
		}
		addr = svc.Addr()
	}

	c := client.NewClient(cfg.Name, transport,
		client.WithLogger(logger),
		client.WithFirmware(cfg.Firmware),
		client.WithRelayed(cfg.Relayed),
		client.WithRequestTimeout(cfg.RequestTimeout),
		client.WithCapabilities(cfg.Capabilities...),
	)
	if err := c.Start(ctx, addr); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	return c, nil
}

// Describe renders the data and dataInt entries of m.
func Describe(m *proto.DataMap) string {
	s, _ := m.GetString(DataKey)
	n, _ := m.GetInt(DataIntKey)
	return fmt.Sprintf("%s %d", s, n)
}

// Profile draws the picture the handheld syncs as its bitmap.
func Profile(size int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	r := size / 2
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx, dy := x-r, y-r
			c := color.RGBA{R: 0x1e, G: 0x88, B: 0xe5, A: 0xff}
			if dx*dx+dy*dy > r*r {
				c = color.RGBA{A: 0xff}
			}
			img.Set(x, y, c)
		}
	}
	return img
}
