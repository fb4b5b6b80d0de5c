// Package client is the node side of the data layer. A Client connects
// to a hub, identifies itself, and then serves as the bridge.DataLayer
// of its node: requests are correlated with their responses by id, and
// pushes from the hub are fanned out to registered listeners on the read
// loop goroutine.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mbocsi/wearbridge/proto"
)

const (
	DefaultRequestTimeout = 10 * time.Second
	identifyTimeout       = 5 * time.Second
	identifyRetries       = 3
)

type Client struct {
	Name      string
	transport Transport
	logger    *slog.Logger
	firmware  string
	relayed   bool
	timeout   time.Duration

	connected atomic.Bool
	idMu      sync.RWMutex
	id        string

	// Capabilities advertised by this node
	capMu        sync.RWMutex
	capabilities map[string]struct{}

	// Push listeners
	listenerMu   sync.RWMutex
	listeners    []proto.Listener
	capListeners map[string][]proto.CapabilityListener

	// Request/response channels
	resMu    sync.Mutex
	resChans map[string]chan proto.Message

	done chan struct{}
}

type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func WithFirmware(version string) Option {
	return func(c *Client) { c.firmware = version }
}

// WithRelayed marks the node as reached through a relay. Relayed nodes
// are not nearby.
func WithRelayed(relayed bool) Option {
	return func(c *Client) { c.relayed = relayed }
}

// WithRequestTimeout bounds requests whose context has no deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithCapabilities advertises the named capabilities on identify.
func WithCapabilities(names ...string) Option {
	return func(c *Client) {
		for _, name := range names {
			c.capabilities[name] = struct{}{}
		}
	}
}

func NewClient(name string, t Transport, opts ...Option) *Client {
	c := &Client{
		Name:         name,
		transport:    t,
		logger:       slog.Default(),
		firmware:     "v1.0.0",
		timeout:      DefaultRequestTimeout,
		capabilities: make(map[string]struct{}),
		capListeners: make(map[string][]proto.CapabilityListener),
		resChans:     make(map[string]chan proto.Message),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Id returns the node id assigned by the hub, empty before Start.
func (c *Client) Id() string {
	c.idMu.RLock()
	defer c.idMu.RUnlock()
	return c.id
}

func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Done is closed when the connection to the hub ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Start connects to addr and identifies with the hub, then serves the
// connection in the background until Close or a read error.
func (c *Client) Start(ctx context.Context, addr string) error {
	for _, name := range c.localCapabilities() {
		if err := proto.ValidateCapabilityName(name); err != nil {
			return err
		}
	}
	if err := c.transport.Connect(addr); err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}

	ackCh := make(chan error, 1)
	go func() { ackCh <- c.identify() }()

	select {
	case err := <-ackCh:
		if err != nil {
			c.transport.Close()
			return err
		}
	case <-time.After(identifyTimeout):
		c.transport.Close()
		return fmt.Errorf("timeout waiting for identify_ack: %w", proto.ErrTimeout)
	case <-ctx.Done():
		c.transport.Close()
		return ctx.Err()
	}

	c.connected.Store(true)
	go c.readLoop()
	return nil
}

// Close disconnects from the hub and waits for the read loop to exit.
func (c *Client) Close() error {
	err := c.transport.Close()
	if c.connected.Load() {
		<-c.done
	}
	return err
}

func (c *Client) identify() error {
	for retries := 0; ; retries++ {
		if err := c.sendIdentify(); err != nil {
			return fmt.Errorf("send identify: %w", err)
		}

		ack, err := c.awaitAck()
		if err != nil {
			return err
		}
		if ack.Status == "ok" {
			c.idMu.Lock()
			c.id = ack.AssignedId
			c.idMu.Unlock()
			c.logger.Info("Identified with hub", "id", ack.AssignedId)
			return nil
		}

		c.logger.Warn("Hub rejected identify", "status", ack.Status)
		if retries+1 >= identifyRetries {
			return fmt.Errorf("identify rejected after %d attempts: %s", identifyRetries, ack.Status)
		}
		time.Sleep(1 * time.Second)
	}
}

func (c *Client) awaitAck() (proto.IdAckPayload, error) {
	for {
		msg, err := c.transport.Read()
		if err != nil {
			return proto.IdAckPayload{}, fmt.Errorf("read identify_ack: %w", err)
		}
		if msg.Type != proto.TypeIdentifyAck {
			c.logger.Warn("Received a message other than identify_ack", "type", msg.Type)
			continue
		}
		var ack proto.IdAckPayload
		if err := msg.DecodePayload(&ack); err != nil {
			c.logger.Warn("Invalid identify acknowledge payload", "error", err)
			continue
		}
		return ack, nil
	}
}

func (c *Client) sendIdentify() error {
	idPayload := proto.IdentifyPayload{
		ProposedName: c.Name,
		Firmware:     c.firmware,
		Capabilities: c.localCapabilities(),
		Relayed:      c.relayed,
	}
	msg, err := proto.NewMessage(proto.TypeIdentify, idPayload)
	if err != nil {
		return err
	}
	c.logger.Info("Sending identify message", "proposed_name", idPayload.ProposedName, "firmware", idPayload.Firmware, "capabilities", len(idPayload.Capabilities))
	return c.transport.Send(msg)
}

func (c *Client) readLoop() {
	defer func() {
		c.connected.Store(false)
		close(c.done)
		c.logger.Info("Disconnected from hub", "id", c.Id())
	}()

	for {
		msg, err := c.transport.Read()
		if err != nil {
			c.logger.Debug("Read loop ended", "error", err)
			return
		}
		c.logger.Debug("Message Received", "type", msg.Type, "id", msg.ID, "path", msg.Path, "sender", msg.Sender, "size", len(msg.Payload))

		switch msg.Type {
		case proto.TypeResponse:
			c.resMu.Lock()
			ch, ok := c.resChans[msg.ID]
			if ok {
				ch <- msg
				delete(c.resChans, msg.ID)
			}
			c.resMu.Unlock()
			if !ok {
				c.logger.Debug("Dropping response with no waiter", "id", msg.ID)
			}
		case proto.TypeMessage:
			c.handleMessage(msg)
		case proto.TypeDataChanged:
			c.handleDataChanged(msg)
		case proto.TypeCapabilityChanged:
			c.handleCapabilityChanged(msg)
		case proto.TypeIdentifyAck:
			c.logger.Warn("Received unexpected identify_ack", "sender", msg.Sender)
		default:
			c.logger.Warn("Unhandled message", "type", msg.Type)
		}
	}
}

// request sends msg with a fresh id and decodes the response payload
// into out. Error responses are returned as *proto.Error.
func (c *Client) request(ctx context.Context, msg proto.Message, out any) error {
	if !c.connected.Load() {
		return fmt.Errorf("%s: %w", msg.Type, proto.ErrNotConnected)
	}
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	msg.ID = uuid.NewString()
	respChan := make(chan proto.Message, 1)
	c.resMu.Lock()
	c.resChans[msg.ID] = respChan
	c.resMu.Unlock()
	defer func() {
		c.resMu.Lock()
		delete(c.resChans, msg.ID)
		c.resMu.Unlock()
	}()

	if err := c.transport.Send(msg); err != nil {
		return fmt.Errorf("%s: %w", msg.Type, err)
	}

	select {
	case resp := <-respChan:
		if resp.Error != nil {
			return resp.Error
		}
		if out == nil {
			return nil
		}
		return resp.DecodePayload(out)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w", msg.Type, proto.ErrTimeout)
		}
		return ctx.Err()
	case <-c.done:
		return fmt.Errorf("%s: %w", msg.Type, proto.ErrNotConnected)
	}
}

func (c *Client) localCapabilities() []string {
	c.capMu.RLock()
	defer c.capMu.RUnlock()
	return slices.Sorted(maps.Keys(c.capabilities))
}

// AddLocalCapability advertises name for this node. Before Start it is
// only recorded and sent with identify.
func (c *Client) AddLocalCapability(ctx context.Context, name string) error {
	if err := proto.ValidateCapabilityName(name); err != nil {
		return err
	}
	c.capMu.Lock()
	c.capabilities[name] = struct{}{}
	c.capMu.Unlock()

	if !c.connected.Load() {
		return nil
	}
	msg, err := proto.NewMessage(proto.TypeAddCapability, proto.CapabilityRequestPayload{Name: name})
	if err != nil {
		return err
	}
	return c.request(ctx, msg, nil)
}

func (c *Client) RemoveLocalCapability(ctx context.Context, name string) error {
	c.capMu.Lock()
	delete(c.capabilities, name)
	c.capMu.Unlock()

	if !c.connected.Load() {
		return nil
	}
	msg, err := proto.NewMessage(proto.TypeRemoveCapability, proto.CapabilityRequestPayload{Name: name})
	if err != nil {
		return err
	}
	return c.request(ctx, msg, nil)
}
