package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"golang.org/x/sync/errgroup"
)

// Server is an auxiliary service run alongside the transports, such as
// the HTTP API or the MCP server. Run returns once ctx is done.
type Server interface {
	Run(ctx context.Context) error
}

type Coordinator struct {
	Registery  *NodeRegistry
	Broker     *Broker
	Store      *DataStore
	Transports []Transport
	Servers    []Server
}

func NewCoordinator(registery *NodeRegistry, broker *Broker, store *DataStore) *Coordinator {
	return &Coordinator{Registery: registery, Broker: broker, Store: store}
}

// Start runs every transport and auxiliary server until ctx is done or
// one of them fails, then shuts the transports down.
func (c *Coordinator) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range c.Servers {
		g.Go(func() error { return s.Run(gctx) })
	}
	for _, t := range c.Transports {
		g.Go(func() error {
			err := t.Start()
			if err != nil && !errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("transport %s: %w", t.Meta().ID, err)
			}
			return nil
		})
	}

	<-gctx.Done()
	slog.Info("Shutting down transports and server")

	for _, t := range c.Transports {
		if err := t.Shutdown(); err != nil {
			slog.Error("There was an error when shutting down transport server", "error", err.Error())
		}
	}
	return g.Wait()
}

func (c *Coordinator) RegisterTransport(t Transport) {
	t.OnMessage(c.Handle)
	t.OnConnect(c.RegisterNode)
	t.OnDisconnect(c.UnregisterNode)
	c.Transports = append(c.Transports, t)
}

func (c *Coordinator) RegisterServer(s Server) {
	c.Servers = append(c.Servers, s)
}

// RegisterNode records a new connection. It becomes a node once it
// identifies.
func (c *Coordinator) RegisterNode(client Client) error {
	c.Registery.Store(client)

	slog.Info("Registered client", "id", client.Meta().ID())
	return nil
}

// UnregisterNode drops a closed connection and announces the
// capabilities it no longer provides.
func (c *Coordinator) UnregisterNode(client Client) {
	id := client.Meta().ID()
	removed := c.Registery.Delete(id)
	c.Broker.UnsubscribeAll(client)
	for _, name := range removed {
		c.publishCapabilityChanged(name)
	}
	slog.Info("Unregistered client", "id", id, "capabilities", len(removed))
}
