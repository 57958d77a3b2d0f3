package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/sirupsen/logrus"
)

// peerExchangeInterval is how often a node republishes its own address on
// the peer-exchange topic.
const peerExchangeInterval = 60 * time.Second

// peerAddrTTL is how long a peer address learned via peer exchange is
// kept in the libp2p peerstore before it must be refreshed.
const peerAddrTTL = time.Hour

func peerExchangeTopicName(tag string) string {
	if tag == "" {
		tag = "default"
	}
	return "/kwaainet/peerex/1.0.0/" + tag
}

// NewNode creates and bootstraps a libp2p-backed DHT transport node: it
// brings up the host, dials any configured bootstrap peers, joins mDNS
// discovery, and starts the peer-exchange gossip loop that grows the
// node's known-peer set — the set consulted by kwnode.PeerView for FIND's
// nearest-peer hints — beyond what mDNS can see on the local network.
func NewNode(cfg Config) (*Node, error) {
	ctx, cancel := context.WithCancel(context.Background())

	h, err := libp2p.New(libp2p.ListenAddrStrings(cfg.ListenAddr))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("failed to create pubsub: %w", err)
	}

	n := &Node{
		host:   h,
		pubsub: ps,
		peers:  make(map[NodeID]*Peer),
		ctx:    ctx,
		cancel: cancel,
		cfg:    cfg,
	}

	if err := n.DialSeed(cfg.BootstrapPeers); err != nil {
		logrus.Warnf("DialSeed warning: %v", err)
	}

	// mDNS discovery (this automatically registers n as a notifee).
	mdns.NewMdnsService(h, cfg.DiscoveryTag, n)

	if err := n.startPeerExchange(); err != nil {
		logrus.Warnf("peer exchange disabled: %v", err)
	}

	return n, nil
}

// Ensure Node implements mdns.Notifee
var _ mdns.Notifee = (*Node)(nil)

// HandlePeerFound implements mdns.Notifee: connect to a peer discovered on
// the local network. It ignores self-connections and peers already known.
func (n *Node) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == n.host.ID() {
		return
	}

	n.peerLock.RLock()
	_, exists := n.peers[NodeID(info.ID.String())]
	n.peerLock.RUnlock()
	if exists {
		return
	}

	if err := n.host.Connect(n.ctx, info); err != nil {
		logrus.Warnf("failed to connect to discovered peer %s: %v", info.ID.String(), err)
		return
	}

	n.peerLock.Lock()
	n.peers[NodeID(info.ID.String())] = &Peer{ID: NodeID(info.ID.String()), Addr: info.String()}
	n.peerLock.Unlock()
	logrus.Infof("connected to peer %s via mDNS", info.ID.String())
}

// DialSeed connects to a list of bootstrap peers.
func (n *Node) DialSeed(seeds []string) error {
	var errs []string
	for _, addr := range seeds {
		pi, err := peer.AddrInfoFromString(addr)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid addr %s: %v", addr, err))
			continue
		}
		if err := n.host.Connect(n.ctx, *pi); err != nil {
			errs = append(errs, fmt.Sprintf("connect %s: %v", addr, err))
			continue
		}
		n.peerLock.Lock()
		n.peers[NodeID(pi.ID.String())] = &Peer{ID: NodeID(pi.ID.String()), Addr: addr}
		n.peerLock.Unlock()
		logrus.Infof("bootstrapped to %s", addr)
	}
	if len(errs) > 0 {
		return fmt.Errorf("dial errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// startPeerExchange joins a topic derived from the node's discovery tag
// and gossips self-addresses with other subscribers, so the known-peer
// set used for nearest-peer hints extends past mDNS's LAN-only reach.
func (n *Node) startPeerExchange() error {
	topic, err := n.pubsub.Join(peerExchangeTopicName(n.cfg.DiscoveryTag))
	if err != nil {
		return fmt.Errorf("join peer-exchange topic: %w", err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		return fmt.Errorf("subscribe peer-exchange topic: %w", err)
	}
	n.peerExTopic = topic
	n.peerExSub = sub

	go n.publishSelfLoop()
	go n.consumePeerExchange()
	return nil
}

func (n *Node) publishSelfLoop() {
	publish := func() {
		self := peer.AddrInfo{ID: n.host.ID(), Addrs: n.host.Addrs()}
		data, err := json.Marshal(self)
		if err != nil {
			return
		}
		if err := n.peerExTopic.Publish(n.ctx, data); err != nil {
			logrus.Debugf("peer-exchange publish failed: %v", err)
		}
	}

	publish()
	ticker := time.NewTicker(peerExchangeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			publish()
		}
	}
}

func (n *Node) consumePeerExchange() {
	for {
		msg, err := n.peerExSub.Next(n.ctx)
		if err != nil {
			return
		}
		if msg.GetFrom() == n.host.ID() {
			continue
		}

		var info peer.AddrInfo
		if err := json.Unmarshal(msg.Data, &info); err != nil || info.ID == "" || info.ID == n.host.ID() {
			continue
		}

		n.peerLock.RLock()
		_, known := n.peers[NodeID(info.ID.String())]
		n.peerLock.RUnlock()
		if known {
			continue
		}

		n.host.Peerstore().AddAddrs(info.ID, info.Addrs, peerAddrTTL)
		n.peerLock.Lock()
		n.peers[NodeID(info.ID.String())] = &Peer{ID: NodeID(info.ID.String()), Addr: info.String()}
		n.peerLock.Unlock()
		logrus.Debugf("learned peer %s via peer-exchange", info.ID.String())
	}
}

// Close tears down the node, closing the host and cancelling its context.
func (n *Node) Close() error {
	n.cancel()
	return n.host.Close()
}

// Peers returns the current peer list.
func (n *Node) Peers() []*Peer {
	n.peerLock.RLock()
	defer n.peerLock.RUnlock()
	list := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		list = append(list, p)
	}
	return list
}
