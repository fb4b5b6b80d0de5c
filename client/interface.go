package client

import "github.com/mbocsi/wearbridge/proto"

// Transport carries frames between a node and its hub. Send may be called
// from several goroutines; Read is only called from the read loop.
type Transport interface {
	Connect(addr string) error
	Send(msg proto.Message) error
	Read() (proto.Message, error) // for one-at-a-time processing
	Close() error
}
