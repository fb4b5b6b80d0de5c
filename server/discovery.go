package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/hashicorp/mdns"

	"github.com/mbocsi/wearbridge/proto"
)

// MDNSAdvertiser announces the hub's listeners on the local network so
// nodes can find it with client.DiscoverTCPService. A zero port is not
// advertised.
type MDNSAdvertiser struct {
	Instance string
	TCPPort  int
	WSPort   int
}

func (a *MDNSAdvertiser) Run(ctx context.Context) error {
	instance := a.Instance
	if instance == "" {
		host, _ := os.Hostname()
		instance = "wearbridge-" + host
	}

	var servers []*mdns.Server
	defer func() {
		for _, s := range servers {
			s.Shutdown()
		}
	}()

	for service, port := range map[string]int{proto.TCPServiceType: a.TCPPort, proto.WebSocketServiceType: a.WSPort} {
		if port == 0 {
			continue
		}
		zone, err := mdns.NewMDNSService(instance, service, "", "", port, nil, []string{"wearbridge hub"})
		if err != nil {
			return fmt.Errorf("mdns service %s: %w", service, err)
		}
		s, err := mdns.NewServer(&mdns.Config{Zone: zone})
		if err != nil {
			return fmt.Errorf("mdns server %s: %w", service, err)
		}
		servers = append(servers, s)
		slog.Info("Advertising hub", "service", service, "instance", instance, "port", port)
	}

	<-ctx.Done()
	return nil
}
