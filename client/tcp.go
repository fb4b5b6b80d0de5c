package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/mbocsi/wearbridge/proto"
)

// Dialer opens the connection behind a TCPTransport.
type Dialer func(addr string) (net.Conn, error)

type TCPTransport struct {
	dial    Dialer
	conn    net.Conn
	scanner *bufio.Scanner
	writeMu sync.Mutex
}

func NewTCPTransport() *TCPTransport {
	return NewTCPTransportWithDialer(func(addr string) (net.Conn, error) {
		return net.Dial("tcp", addr)
	})
}

// NewTCPTransportWithDialer speaks the TCP line protocol over whatever
// connection dial returns, e.g. one end of a net.Pipe.
func NewTCPTransportWithDialer(dial Dialer) *TCPTransport {
	return &TCPTransport{dial: dial}
}

func (t *TCPTransport) Connect(addr string) error {
	conn, err := t.dial(addr)
	if err != nil {
		return err
	}
	t.conn = conn
	t.scanner = bufio.NewScanner(conn)
	t.scanner.Buffer(make([]byte, 0, 64*1024), proto.MaxFrameSize)
	return nil
}

func (t *TCPTransport) Send(msg proto.Message) error {
	if t.conn == nil {
		return proto.ErrNotConnected
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, err = t.conn.Write(data)
	return err
}

func (t *TCPTransport) Read() (proto.Message, error) {
	if t.scanner == nil {
		return proto.Message{}, proto.ErrNotConnected
	}
	for t.scanner.Scan() {
		var msg proto.Message
		if err := json.Unmarshal(t.scanner.Bytes(), &msg); err != nil {
			return proto.Message{}, fmt.Errorf("invalid JSON: %w", err)
		}
		return msg, nil
	}

	if err := t.scanner.Err(); err != nil {
		return proto.Message{}, err
	}

	return proto.Message{}, fmt.Errorf("connection closed")
}

func (t *TCPTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	return t.conn.Close()
}
