package core

// common_structs.go centralises struct definitions for the libp2p-backed
// networking layer. Kept separate from behaviour (network.go,
// transport_adapter.go, bootstrap_node.go) so the wire/runtime types have
// one home.

import (
	"context"
	"sync"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	host "github.com/libp2p/go-libp2p/core/host"
)

// NodeID is a peer's printable libp2p identity string.
type NodeID string

// Peer is a known remote peer, as tracked by mDNS discovery, the
// bootstrap dial list, or the peer-exchange gossip loop.
type Peer struct {
	ID   NodeID
	Addr string
}

// Config collects the parameters needed to bring up a libp2p host for
// one DHT node.
type Config struct {
	ListenAddr     string
	BootstrapPeers []string
	DiscoveryTag   string
}

// Node wraps a libp2p host together with the bookkeeping the transport
// adapter and peer-exchange loop need: known peers, and the gossip topic
// used to extend peer discovery beyond mDNS's LAN-only reach.
type Node struct {
	host   host.Host
	pubsub *pubsub.PubSub

	peerExTopic *pubsub.Topic
	peerExSub   *pubsub.Subscription

	peerLock sync.RWMutex
	peers    map[NodeID]*Peer

	ctx    context.Context
	cancel context.CancelFunc
	cfg    Config
}
