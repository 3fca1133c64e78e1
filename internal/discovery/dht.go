package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	dutil "github.com/libp2p/go-libp2p/p2p/discovery/util"
)

// DHT wraps a Kademlia DHT in client/auto-server mode for global repo
// discovery, grounded on the teacher's DHTDiscovery
// (internal/sync/dht.go) but trimmed to the advertise+find pair this
// module's daemon command actually drives.
type DHT struct {
	host      host.Host
	kad       *dht.IpfsDHT
	discovery *drouting.RoutingDiscovery
	logger    Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a DHT bound to h, seeded with bootstrapPeers.
func New(h host.Host, bootstrapPeers []peer.AddrInfo, logger Logger) (*DHT, error) {
	if logger == nil {
		logger = noopLogger{}
	}
	ctx, cancel := context.WithCancel(context.Background())

	kad, err := dht.New(ctx, h, dht.Mode(dht.ModeAutoServer), dht.BootstrapPeers(bootstrapPeers...))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("discovery: new dht: %w", err)
	}

	return &DHT{
		host:      h,
		kad:       kad,
		discovery: drouting.NewRoutingDiscovery(kad),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start bootstraps the DHT and, once bootstrap completes, advertises this
// host under RendezvousNamespace and begins finding other advertisers,
// invoking onFound for each one.
func (d *DHT) Start(onFound func(peer.AddrInfo)) error {
	if err := d.kad.Bootstrap(d.ctx); err != nil {
		return fmt.Errorf("discovery: bootstrap: %w", err)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.waitForBootstrap(onFound)
	}()
	return nil
}

func (d *DHT) waitForBootstrap(onFound func(peer.AddrInfo)) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	timeout := time.After(15 * time.Second)

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-timeout:
			d.logger.Printf("discovery: dht bootstrap timeout with no peers; continuing anyway")
			d.advertiseAndFind(onFound)
			return
		case <-ticker.C:
			if len(d.host.Network().Peers()) > 0 {
				d.advertiseAndFind(onFound)
				return
			}
		}
	}
}

func (d *DHT) advertiseAndFind(onFound func(peer.AddrInfo)) {
	dutil.Advertise(d.ctx, d.discovery, RendezvousNamespace)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		peers, err := d.discovery.FindPeers(d.ctx, RendezvousNamespace)
		if err != nil {
			d.logger.Printf("discovery: find peers: %v", err)
			return
		}
		for p := range peers {
			if p.ID == d.host.ID() || len(p.Addrs) == 0 {
				continue
			}
			onFound(p)
		}
	}()
}

// Stop tears the DHT down.
func (d *DHT) Stop() error {
	d.cancel()
	d.wg.Wait()
	return d.kad.Close()
}
