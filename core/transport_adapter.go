package core

// transport_adapter.go adapts the libp2p-backed Node to the node
// runtime's abstract Transport contract (kwnode.Transport), so that RPC
// dispatch and announcement code never reference libp2p types directly.

import (
	"context"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/kwaai-ai-lab/kwaainet-core/kwnode"
	"github.com/kwaai-ai-lab/kwaainet-core/wire"
)

// TransportAdapter implements kwnode.Transport over a libp2p host.
type TransportAdapter struct {
	node *Node
}

// NewTransportAdapter wraps an already-running Node.
func NewTransportAdapter(n *Node) *TransportAdapter {
	return &TransportAdapter{node: n}
}

var _ kwnode.Transport = (*TransportAdapter)(nil)

func (a *TransportAdapter) LocalIdentity() kwnode.PeerIdentity {
	return kwnode.PeerIdentity(a.node.host.ID().String())
}

func (a *TransportAdapter) Connect(ctx context.Context, remoteAddr string) error {
	pi, err := peer.AddrInfoFromString(remoteAddr)
	if err != nil {
		return fmt.Errorf("transport: invalid address %q: %w", remoteAddr, err)
	}
	if err := a.node.host.Connect(ctx, *pi); err != nil {
		return fmt.Errorf("transport: connect %q: %w", remoteAddr, err)
	}
	a.node.peerLock.Lock()
	a.node.peers[NodeID(pi.ID.String())] = &Peer{ID: NodeID(pi.ID.String()), Addr: remoteAddr}
	a.node.peerLock.Unlock()
	return nil
}

func (a *TransportAdapter) CallUnary(ctx context.Context, remotePeer kwnode.PeerIdentity, protocolName string, request []byte) ([]byte, error) {
	pid, err := peer.Decode(string(remotePeer))
	if err != nil {
		// Allow addressing by raw multiaddr string for the bootstrap-only
		// path, where the caller may not yet know the peer ID.
		pi, addrErr := peer.AddrInfoFromString(string(remotePeer))
		if addrErr != nil {
			return nil, fmt.Errorf("transport: invalid remote peer %q: %w", remotePeer, err)
		}
		if connErr := a.node.host.Connect(ctx, *pi); connErr != nil {
			return nil, fmt.Errorf("transport: connect to bootstrap %q: %w", remotePeer, connErr)
		}
		pid = pi.ID
	}

	s, err := a.node.host.NewStream(ctx, pid, protocol.ID(protocolName))
	if err != nil {
		return nil, fmt.Errorf("transport: open stream: %w", err)
	}
	defer s.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = s.SetDeadline(deadline)
	} else {
		_ = s.SetDeadline(time.Now().Add(kwnode.DefaultCallTimeout))
	}

	if _, err := s.Write(request); err != nil {
		return nil, fmt.Errorf("transport: write request: %w", err)
	}

	marker, payload, err := wire.ReadFrame(s)
	if err != nil {
		return nil, fmt.Errorf("transport: read response: %w", err)
	}
	return wire.EncodeFrame(marker, payload)
}

func (a *TransportAdapter) RegisterHandler(protocolNames []string, handler kwnode.InboundHandler) {
	for _, name := range protocolNames {
		name := name
		a.node.host.SetStreamHandler(protocol.ID(name), func(s network.Stream) {
			_ = s.SetReadDeadline(time.Now().Add(kwnode.DefaultReadTimeout))
			handler(a.node.ctx, &streamAdapter{Stream: s})
		})
	}
}

func (a *TransportAdapter) KnownPeers() []kwnode.PeerIdentity {
	a.node.peerLock.RLock()
	defer a.node.peerLock.RUnlock()
	ids := make([]kwnode.PeerIdentity, 0, len(a.node.peers))
	for id := range a.node.peers {
		ids = append(ids, kwnode.PeerIdentity(id))
	}
	return ids
}

// streamAdapter implements kwnode.InboundStream over a libp2p stream.
type streamAdapter struct {
	network.Stream
}

func (s *streamAdapter) RemotePeer() kwnode.PeerIdentity {
	return kwnode.PeerIdentity(s.Conn().RemotePeer().String())
}

