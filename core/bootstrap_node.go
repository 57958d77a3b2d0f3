package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/kwaai-ai-lab/kwaainet-core/announce"
	"github.com/kwaai-ai-lab/kwaainet-core/dht"
	"github.com/kwaai-ai-lab/kwaainet-core/kwnode"
	nodert "github.com/kwaai-ai-lab/kwaainet-core/node"
)

// BootstrapNode bundles a libp2p transport with the DHT storage engine,
// the announcement protocol and the node runtime state machine into a
// single process-lifecycle object: the thing a host binary constructs
// and calls Start/Stop on.
type BootstrapNode struct {
	transport *TransportAdapter
	engine    *dht.Engine
	announcer *announce.Announcer
	runtime   *nodert.Runtime

	mu sync.RWMutex
}

// BootstrapConfig aggregates the sections a host binary supplies: wire
// networking, the model this node serves, and runtime timing.
type BootstrapConfig struct {
	Network  Config
	Model    announce.Config
	Runtime  nodert.Config
	TimeNow  func() float64 // defaults to dht.WallClock
}

// NewBootstrapNode brings up the libp2p host, wraps it behind the
// abstract transport contract, and wires the storage engine and
// announcer around it. The returned node is not yet running; call
// Start to enter the lifecycle state machine.
func NewBootstrapNode(cfg *BootstrapConfig) (*BootstrapNode, error) {
	n, err := NewNode(cfg.Network)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: create network node: %w", err)
	}

	adapter := NewTransportAdapter(n)
	engine := dht.NewEngine(kwnode.NewPeerView(adapter), cfg.TimeNow)

	modelCfg := cfg.Model
	modelCfg.Identity = adapter.LocalIdentity()
	announcer := announce.New(modelCfg, engine, adapter, cfg.TimeNow)

	runtime := nodert.NewRuntime(adapter, engine, announcer, cfg.Runtime)

	return &BootstrapNode{
		transport: adapter,
		engine:    engine,
		announcer: announcer,
		runtime:   runtime,
	}, nil
}

// Start launches the node runtime. It is safe to call only once; a
// second call while already running returns an error from the
// underlying state machine.
func (b *BootstrapNode) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.runtime.Start(ctx)
}

// Stop gracefully shuts the node down within a bounded deadline.
func (b *BootstrapNode) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.runtime.Stop(ctx); err != nil {
		return err
	}
	return b.transport.node.Close()
}

// State reports the node runtime's current lifecycle state.
func (b *BootstrapNode) State() nodert.State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.runtime.State()
}

// Engine exposes the underlying storage engine, e.g. for host-side
// snapshotting on shutdown.
func (b *BootstrapNode) Engine() *dht.Engine { return b.engine }
