// Package service runs a Bridge as a long-lived push receiver. A
// ListenerService registers with the data layer for the lifetime of
// Run and forwards every push into its Bridge's event streams, so
// pushes keep flowing when no foreground code holds a Binding.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/mbocsi/wearbridge/bridge"
	"github.com/mbocsi/wearbridge/proto"
)

// Hooks run while the service is running, in push order, on a goroutine
// of their own, so a hook may issue data layer requests. A nil hook is
// skipped. When hooks fall more than hookQueueSize pushes behind, later
// hook calls are dropped; the pushes still reach the Bridge.
type Hooks struct {
	OnMessage    func(proto.MessageEvent)
	OnData       func(events []proto.DataEvent)
	OnCapability func(proto.CapabilityInfo)
}

const (
	stopTimeout   = 5 * time.Second
	hookQueueSize = 64
)

type ListenerService struct {
	layer        bridge.DataLayer
	bridge       *bridge.Bridge
	capabilities []string
	hooks        Hooks
	logger       *slog.Logger

	mu      sync.Mutex
	running bool
	hookQ   chan func()
}

var _ proto.Listener = (*ListenerService)(nil)

type Option func(*ListenerService)

// WithBridge forwards pushes into b instead of a Bridge owned by the
// service.
func WithBridge(b *bridge.Bridge) Option {
	return func(s *ListenerService) { s.bridge = b }
}

// WithCapabilities also listens for changes of the named capabilities.
func WithCapabilities(names ...string) Option {
	return func(s *ListenerService) { s.capabilities = append(s.capabilities, names...) }
}

func WithHooks(h Hooks) Option {
	return func(s *ListenerService) { s.hooks = h }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *ListenerService) { s.logger = logger }
}

func New(layer bridge.DataLayer, opts ...Option) *ListenerService {
	s := &ListenerService{layer: layer, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if s.bridge == nil {
		s.bridge = bridge.New(layer, bridge.WithLogger(s.logger))
	}
	return s
}

// Bridge returns the Bridge pushes are forwarded into.
func (s *ListenerService) Bridge() *bridge.Bridge {
	return s.bridge
}

// Run registers the service with the data layer and blocks until ctx is
// done, then deregisters. A service runs at most once at a time.
func (s *ListenerService) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("listener service already running")
	}
	s.running = true
	queue := make(chan func(), hookQueueSize)
	s.hookQ = queue
	s.mu.Unlock()

	hooksDone := make(chan struct{})
	go runHooks(queue, hooksDone)
	defer func() {
		s.mu.Lock()
		s.running = false
		s.hookQ = nil
		close(queue)
		s.mu.Unlock()
		<-hooksDone
	}()

	for i, name := range s.capabilities {
		if err := s.layer.AddCapabilityListener(ctx, s, name); err != nil {
			s.removeCapabilities(s.capabilities[:i])
			return fmt.Errorf("listen for capability %q: %w", name, err)
		}
	}
	s.layer.AddListener(s)
	s.logger.Info("Listener service started", "capabilities", s.capabilities)

	<-ctx.Done()

	s.layer.RemoveListener(s)
	s.removeCapabilities(s.capabilities)
	s.logger.Info("Listener service stopped")
	return nil
}

func (s *ListenerService) removeCapabilities(names []string) {
	// Runs after the Run context is done.
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	for _, name := range names {
		if err := s.layer.RemoveCapabilityListener(ctx, s, name); err != nil {
			s.logger.Warn("Failed to remove capability listener", "capability", name, "error", err)
		}
	}
}

func runHooks(queue <-chan func(), done chan<- struct{}) {
	defer close(done)
	for hook := range queue {
		hook()
	}
}

// enqueueHook hands hook to the hook goroutine without blocking the
// caller.
func (s *ListenerService) enqueueHook(kind string, hook func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hookQ == nil {
		s.logger.Debug("Skipping hook, service not running", "hook", kind)
		return
	}
	select {
	case s.hookQ <- hook:
	default:
		s.logger.Warn("Dropped hook (queue full)", "hook", kind)
	}
}

func (s *ListenerService) OnMessageReceived(ev proto.MessageEvent) {
	s.logger.Debug("Message received", "path", ev.Path, "source", ev.SourceNodeID)
	if hook := s.hooks.OnMessage; hook != nil {
		s.enqueueHook("message", func() { hook(ev) })
	}
	s.bridge.OnMessageReceived(ev)
}

func (s *ListenerService) OnDataChanged(buf *proto.DataEventBuffer) {
	if hook := s.hooks.OnData; hook != nil {
		events := slices.Clone(buf.Events())
		s.enqueueHook("data", func() { hook(events) })
	}
	s.bridge.OnDataChanged(buf)
}

func (s *ListenerService) OnCapabilityChanged(info proto.CapabilityInfo) {
	s.logger.Debug("Capability changed", "capability", info.Name, "nodes", len(info.Nodes))
	if hook := s.hooks.OnCapability; hook != nil {
		s.enqueueHook("capability", func() { hook(info) })
	}
	s.bridge.OnCapabilityChanged(info)
}
