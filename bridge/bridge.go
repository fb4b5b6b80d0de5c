package bridge

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/mbocsi/wearbridge/broker"
	"github.com/mbocsi/wearbridge/proto"
)

type Bridge struct {
	layer      DataLayer
	logger     *slog.Logger
	readTarget ReadTarget
	buffer     int

	messages     *broker.Topic[proto.MessageEvent]
	data         *broker.Topic[DataChange]
	capabilities *broker.Topic[proto.CapabilityInfo]

	bindMu       sync.Mutex
	listening    int
	capListening map[string]int
	bindings     map[*Binding]struct{}
}

var _ proto.Listener = (*Bridge)(nil)

type Option func(*Bridge)

// WithLogger sets the logger; slog.Default() is used otherwise.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) { b.logger = logger }
}

// WithReadTarget selects the node remote reads resolve against when no
// ReadOption names one.
func WithReadTarget(t ReadTarget) Option {
	return func(b *Bridge) { b.readTarget = t }
}

// WithTopicBuffer sets the per-subscriber channel capacity of the event
// topics.
func WithTopicBuffer(n int) Option {
	return func(b *Bridge) { b.buffer = n }
}

func New(layer DataLayer, opts ...Option) *Bridge {
	b := &Bridge{
		layer:        layer,
		logger:       slog.Default(),
		readTarget:   MostRecentlyConnected,
		buffer:       broker.DefaultBuffer,
		capListening: make(map[string]int),
		bindings:     make(map[*Binding]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.messages = broker.NewTopic[proto.MessageEvent]("messages", b.buffer, b.logger)
	b.data = broker.NewTopic[DataChange]("data", b.buffer, b.logger)
	b.capabilities = broker.NewTopic[proto.CapabilityInfo]("capabilities", b.buffer, b.logger)
	return b
}

// Close releases every binding and closes the event topics.
func (b *Bridge) Close() error {
	err := b.Unbind()
	b.messages.Close()
	b.data.Close()
	b.capabilities.Close()
	return err
}

func joinErrors(errs []error) error {
	return errors.Join(errs...)
}
