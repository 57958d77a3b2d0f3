// Package kwnode defines the abstract transport contract the node runtime
// (package node) depends on, plus a nearest-peer view built on it. The
// transport itself — libp2p stream multiplexing, NAT traversal, connection
// encryption, relay protocols — is an external collaborator; this package
// only defines the interface the runtime needs. The libp2p-backed
// implementation is core.TransportAdapter.
package kwnode

import (
	"context"
	"crypto/sha1"
	"time"
)

// PeerIdentity is a self-certifying peer identifier: an opaque byte
// string comparable for equality and orderable by XOR distance for
// closest-peer selection, per the Kademlia convention used throughout
// the DHT.
type PeerIdentity []byte

// DistanceKey is the fixed-width representation of an identity used for
// XOR-distance comparisons against a 20-byte DHT key.
func (p PeerIdentity) DistanceKey() [20]byte {
	return sha1.Sum(p)
}

// String returns the identity's printable form, used as the subkey for
// block announcements.
func (p PeerIdentity) String() string {
	return string(p)
}

// InboundStream is the byte-oriented handle delivered to a registered
// protocol handler for one accepted stream. Exactly one request/response
// exchange occurs per stream.
type InboundStream interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	RemotePeer() PeerIdentity
}

// InboundHandler processes one accepted stream under a registered
// protocol name.
type InboundHandler func(ctx context.Context, stream InboundStream)

// Transport abstracts the external P2P collaborator. Implementations
// (e.g. the libp2p-backed core.TransportAdapter) are never responsible for RPC
// semantics — only for moving bytes and reporting peer identities.
type Transport interface {
	// LocalIdentity returns this node's own peer identity.
	LocalIdentity() PeerIdentity

	// Connect dials remoteAddr. It is idempotent and best-effort: an
	// already-connected peer or an unreachable one are both non-fatal.
	Connect(ctx context.Context, remoteAddr string) error

	// CallUnary opens a stream to remotePeer, writes request under
	// protocolName, reads exactly one response, and closes the stream.
	// Network failure must be distinguishable from a structured error
	// response by the caller.
	CallUnary(ctx context.Context, remotePeer PeerIdentity, protocolName string, request []byte) ([]byte, error)

	// RegisterHandler installs handler for every inbound stream opened
	// under any of protocolNames.
	RegisterHandler(protocolNames []string, handler InboundHandler)

	// KnownPeers supplies the engine's nearest-peer view.
	KnownPeers() []PeerIdentity
}

// Protocol names fixed by the wire contract.
const (
	ProtoPing  = "/DHTProtocol.rpc_ping"
	ProtoStore = "/DHTProtocol.rpc_store"
	ProtoFind  = "/DHTProtocol.rpc_find"
)

// Default timeouts, per the concurrency & resource model.
const (
	DefaultCallTimeout  = 60 * time.Second
	DefaultReadTimeout  = 30 * time.Second
	DefaultBootstrapTTL = 30 * time.Second
)
