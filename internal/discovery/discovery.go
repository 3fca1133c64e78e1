// Package discovery finds other weft repos reachable on the local
// network (via mDNS) or globally (via the Kademlia DHT), generalizing
// the teacher's p2pService discovery plumbing (internal/sync/p2p.go,
// internal/sync/dht.go) from a single bundled sync service into two
// small, independently usable finders that hand candidate peers to a
// caller-supplied callback.
package discovery

import (
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
)

// ServiceName is the mDNS service tag weft repos advertise under.
const ServiceName = "_weft-sync._udp"

// RendezvousNamespace is the DHT rendezvous point repos advertise/search
// under for global discovery.
const RendezvousNamespace = "/weft/1.0.0"

// Logger is the minimal logging capability this package depends on.
type Logger interface {
	Printf(format string, args ...interface{})
}

type noopLogger struct{}

func (noopLogger) Printf(string, ...interface{}) {}

// mdnsNotifee adapts a plain callback to mdns.Notifee.
type mdnsNotifee struct {
	onFound func(peer.AddrInfo)
}

func (n mdnsNotifee) HandlePeerFound(info peer.AddrInfo) {
	if n.onFound != nil {
		n.onFound(info)
	}
}

// StartMDNS advertises h on the local network and invokes onFound for
// every peer discovered there. The returned service must be closed by the
// caller.
func StartMDNS(h host.Host, onFound func(peer.AddrInfo)) (mdns.Service, error) {
	svc := mdns.NewMdnsService(h, ServiceName, mdnsNotifee{onFound: onFound})
	if err := svc.Start(); err != nil {
		return nil, err
	}
	return svc, nil
}
