package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/mbocsi/wearbridge/proto"
)

var errSSEClosed = errors.New("event stream closed")

// SSEClient streams the frames published to its topics as server-sent
// events. It is a broker subscriber only and never becomes a node.
type SSEClient struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
	closed  bool
	NodeMetadata
}

func NewSSEClient(w http.ResponseWriter) *SSEClient {
	flusher, _ := w.(http.Flusher)
	return &SSEClient{
		writer:  w,
		flusher: flusher,
		NodeMetadata: NodeMetadata{
			Id:           generateClientId("sse"),
			Name:         "SSE Client",
			ConnectedAt:  time.Now(),
			Capabilities: make(map[string]struct{}),
		},
	}
}

// Send writes msg as one event named after the frame type.
func (s *SSEClient) Send(msg proto.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSSEClosed
	}
	if _, err := fmt.Fprintf(s.writer, "event: %s\ndata: %s\n\n", msg.Type, data); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

// Close stops further writes. The HTTP handler must call it before it
// returns.
func (s *SSEClient) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *SSEClient) Meta() *NodeMetadata {
	return &s.NodeMetadata
}
