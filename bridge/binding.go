package bridge

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mbocsi/wearbridge/proto"
)

const unbindTimeout = 5 * time.Second

// Binding keeps the Bridge registered with its data layer until closed.
type Binding struct {
	bridge       *Bridge
	capabilities []string // nil for a message/data binding

	once sync.Once
	err  error
}

// Close releases the binding. Only the first call has an effect.
func (h *Binding) Close() error {
	h.once.Do(func() {
		h.err = h.bridge.release(h)
	})
	return h.err
}

// Bind registers the Bridge for message and data pushes. Registration
// with the data layer happens for the first live binding only.
func (b *Bridge) Bind(ctx context.Context) (*Binding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.bindMu.Lock()
	defer b.bindMu.Unlock()

	if b.listening == 0 {
		b.layer.AddListener(b)
		b.logger.Debug("Bridge bound to data layer")
	}
	b.listening++
	h := &Binding{bridge: b}
	b.bindings[h] = struct{}{}
	return h, nil
}

// BindCapability registers the Bridge for capability-changed pushes of
// each named capability. On failure nothing stays registered.
func (b *Bridge) BindCapability(ctx context.Context, names ...string) (*Binding, error) {
	if len(names) == 0 {
		return nil, proto.Errorf(proto.CodeInvalidInput, "no capability names")
	}
	b.bindMu.Lock()
	defer b.bindMu.Unlock()

	added := make([]string, 0, len(names))
	for _, name := range names {
		if err := proto.ValidateCapabilityName(name); err != nil {
			b.dropCapabilities(ctx, added)
			return nil, fmt.Errorf("bind capability: %w", err)
		}
		if b.capListening[name] == 0 {
			if err := b.layer.AddCapabilityListener(ctx, b, name); err != nil {
				b.dropCapabilities(ctx, added)
				return nil, fmt.Errorf("bind capability %q: %w", name, err)
			}
			b.logger.Debug("Bridge bound to capability", "capability", name)
		}
		b.capListening[name]++
		added = append(added, name)
	}

	h := &Binding{bridge: b, capabilities: added}
	b.bindings[h] = struct{}{}
	return h, nil
}

// CapabilityMatch selects how a CapabilityURI path is matched.
type CapabilityMatch int

const (
	MatchLiteral CapabilityMatch = iota
	MatchPrefix
)

// CapabilityURI names a capability as wear://*/<name> (or wear:///<name>)
// together with how its path is matched.
type CapabilityURI struct {
	URI   string
	Match CapabilityMatch
}

// BindCapabilityURIs is BindCapability for capabilities given as URIs.
// Only literal matching is supported; a capability URI names exactly one
// capability and the data layer registers listeners by name.
func (b *Bridge) BindCapabilityURIs(ctx context.Context, uris ...CapabilityURI) (*Binding, error) {
	if len(uris) == 0 {
		return nil, proto.Errorf(proto.CodeInvalidInput, "no capability URIs")
	}
	names := make([]string, 0, len(uris))
	for _, cu := range uris {
		if cu.Match != MatchLiteral {
			return nil, proto.Errorf(proto.CodeUnsupportedType, "capability URI %q: only literal matching is supported", cu.URI)
		}
		name, err := capabilityFromURI(cu.URI)
		if err != nil {
			return nil, fmt.Errorf("bind capability: %w", err)
		}
		names = append(names, name)
	}
	return b.BindCapability(ctx, names...)
}

func capabilityFromURI(s string) (string, error) {
	u, err := url.Parse(s)
	if err != nil {
		return "", proto.Errorf(proto.CodeInvalidInput, "capability URI %q: %v", s, err)
	}
	if u.Scheme != proto.Scheme || u.Opaque != "" || u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", proto.Errorf(proto.CodeInvalidInput, "capability URI %q is not of the form %s://*/name", s, proto.Scheme)
	}
	if u.Host != "" && u.Host != "*" {
		return "", proto.Errorf(proto.CodeInvalidInput, "capability URI %q: authority must be * or empty", s)
	}
	name := strings.TrimPrefix(u.Path, "/")
	if err := proto.ValidateCapabilityName(name); err != nil {
		return "", err
	}
	return name, nil
}

// Unbind closes every live binding.
func (b *Bridge) Unbind() error {
	b.bindMu.Lock()
	live := make([]*Binding, 0, len(b.bindings))
	for h := range b.bindings {
		live = append(live, h)
	}
	b.bindMu.Unlock()

	var errs []error
	for _, h := range live {
		if err := h.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return joinErrors(errs)
}

func (b *Bridge) release(h *Binding) error {
	b.bindMu.Lock()
	defer b.bindMu.Unlock()

	if _, ok := b.bindings[h]; !ok {
		return nil
	}
	delete(b.bindings, h)

	if h.capabilities == nil {
		b.listening--
		if b.listening == 0 {
			b.layer.RemoveListener(b)
			b.logger.Debug("Bridge unbound from data layer")
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), unbindTimeout)
	defer cancel()
	return b.dropCapabilities(ctx, h.capabilities)
}

// dropCapabilities decrements the count of each name and deregisters
// the ones that reach zero. bindMu must be held.
func (b *Bridge) dropCapabilities(ctx context.Context, names []string) error {
	var errs []error
	for _, name := range names {
		b.capListening[name]--
		if b.capListening[name] > 0 {
			continue
		}
		delete(b.capListening, name)
		if err := b.layer.RemoveCapabilityListener(ctx, b, name); err != nil {
			errs = append(errs, fmt.Errorf("unbind capability %q: %w", name, err))
			continue
		}
		b.logger.Debug("Bridge unbound from capability", "capability", name)
	}
	return joinErrors(errs)
}
