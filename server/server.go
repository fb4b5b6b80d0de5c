package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

type HubServerOptions struct {
	Broker       *Broker       // Optional (defaults to new Broker if nil)
	Registry     *NodeRegistry // Optional (defaults to new Registry if nil)
	Store        *DataStore    // Optional (defaults to new DataStore if nil)
	SnapshotPath string        // Optional; the store is loaded from and saved to this file
}

type HubServer struct {
	options     HubServerOptions
	coordinator *Coordinator
}

func NewHubServer(opts HubServerOptions) *HubServer {
	if opts.Broker == nil {
		opts.Broker = NewBroker()
	}
	if opts.Registry == nil {
		opts.Registry = NewNodeRegistry()
	}
	if opts.Store == nil {
		opts.Store = NewDataStore()
	}

	return &HubServer{
		options:     opts,
		coordinator: NewCoordinator(opts.Registry, opts.Broker, opts.Store),
	}
}

func (s *HubServer) RegisterTransport(t Transport) {
	s.coordinator.RegisterTransport(t)
}

func (s *HubServer) RegisterServer(srv Server) {
	s.coordinator.RegisterServer(srv)
}

func (s *HubServer) Coordinator() *Coordinator {
	return s.coordinator
}

// Start restores the snapshot if one is configured, runs the hub until
// ctx is done, then saves the snapshot.
func (s *HubServer) Start(ctx context.Context) error {
	path := s.options.SnapshotPath
	if path != "" {
		if err := s.options.Store.LoadFile(path); err != nil {
			return fmt.Errorf("load snapshot: %w", err)
		}
		slog.Info("Loaded data snapshot", "path", path, "items", s.options.Store.Len())
	}

	err := s.coordinator.Start(ctx)

	if path != "" {
		if serr := s.options.Store.SaveFile(path); serr != nil {
			err = errors.Join(err, fmt.Errorf("save snapshot: %w", serr))
		} else {
			slog.Info("Saved data snapshot", "path", path, "items", s.options.Store.Len())
		}
	}
	return err
}
