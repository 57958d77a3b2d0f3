// Package node implements the peer node runtime: the lifecycle state
// machine that brings up identity and transport, installs the inbound
// RPC handler, runs the re-announce timer, and accepts a shutdown
// signal. It is the orchestration layer sitting above dht, wire,
// announce and kwnode.
package node

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kwaai-ai-lab/kwaainet-core/announce"
	"github.com/kwaai-ai-lab/kwaainet-core/dht"
	"github.com/kwaai-ai-lab/kwaainet-core/kwnode"
	"github.com/kwaai-ai-lab/kwaainet-core/wire"
)

// State enumerates the node runtime's lifecycle states.
type State int

const (
	StateUninit State = iota
	StateIdent
	StateTransportUp
	StateHandlerUp
	StateReady
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninit:
		return "UNINIT"
	case StateIdent:
		return "IDENT"
	case StateTransportUp:
		return "TRANSPORT_UP"
	case StateHandlerUp:
		return "HANDLER_UP"
	case StateReady:
		return "READY"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Config collects the runtime's tunables. Zero values fall back to the
// spec's stated defaults.
type Config struct {
	BootstrapGrace     time.Duration // default 30s
	ReannounceInterval time.Duration // default 120s
	ShutdownDrain      time.Duration // default 10s
}

func (c Config) withDefaults() Config {
	if c.BootstrapGrace <= 0 {
		c.BootstrapGrace = kwnode.DefaultBootstrapTTL
	}
	if c.ReannounceInterval <= 0 {
		c.ReannounceInterval = announce.DefaultInterval
	}
	if c.ShutdownDrain <= 0 {
		c.ShutdownDrain = 10 * time.Second
	}
	return c
}

// Runtime bundles the transport, storage engine and announcer behind the
// state machine described in the spec's node-runtime section.
type Runtime struct {
	mu    sync.Mutex
	state State
	cfg   Config

	transport kwnode.Transport
	engine    *dht.Engine
	announcer *announce.Announcer

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRuntime constructs a Runtime in state UNINIT.
func NewRuntime(transport kwnode.Transport, engine *dht.Engine, announcer *announce.Announcer, cfg Config) *Runtime {
	return &Runtime{
		state:     StateUninit,
		cfg:       cfg.withDefaults(),
		transport: transport,
		engine:    engine,
		announcer: announcer,
	}
}

// State reports the current lifecycle state.
func (r *Runtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runtime) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Start drives the node through UNINIT -> ... -> RUNNING. It blocks only
// long enough to bring the handlers up and wait out the bootstrap grace
// period; the re-announce loop and inbound dispatch continue in the
// background until Stop is called.
func (r *Runtime) Start(ctx context.Context) error {
	if r.State() != StateUninit {
		return fmt.Errorf("node: Start called from state %s, want UNINIT", r.State())
	}

	// init_identity -> IDENT. Identity establishment is the transport's
	// responsibility (it owns the keypair); here we only confirm it is
	// available before moving on.
	if r.transport.LocalIdentity() == nil {
		return fmt.Errorf("node: transport has no local identity")
	}
	r.setState(StateIdent)

	// start_transport -> TRANSPORT_UP. The transport collaborator is
	// assumed already started by its constructor; this state exists so
	// that a future transport needing an explicit bring-up step has
	// somewhere to call it without changing the state machine's shape.
	r.setState(StateTransportUp)

	// register_inbound_handler -> HANDLER_UP.
	r.engine.SetPeerView(kwnode.NewPeerView(r.transport))
	r.transport.RegisterHandler(
		[]string{kwnode.ProtoPing, kwnode.ProtoStore, kwnode.ProtoFind},
		r.handleInbound,
	)
	r.setState(StateHandlerUp)

	// wait(bootstrap_grace) -> READY.
	select {
	case <-time.After(r.cfg.BootstrapGrace):
	case <-ctx.Done():
		return ctx.Err()
	}
	r.setState(StateReady)

	// announce_once + schedule_periodic -> RUNNING.
	if err := r.announcer.AnnounceOnce(ctx); err != nil {
		logrus.Warnf("node: initial announce failed: %v", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.runLoop(runCtx)
	r.setState(StateRunning)

	return nil
}

// runLoop is the RUNNING state's background task: periodic re-announce
// and opportunistic cleanup. Inbound RPC dispatch runs independently, one
// task per accepted stream, driven by the transport itself.
func (r *Runtime) runLoop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.cfg.ReannounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.announcer.AnnounceOnce(ctx); err != nil {
				logrus.Warnf("node: re-announce failed: %v", err)
			}
			r.engine.Cleanup()
		}
	}
}

// Stop drains the re-announce timer, stops accepting new work and waits
// up to ShutdownDrain for the background loop to exit before returning.
func (r *Runtime) Stop(ctx context.Context) error {
	if r.State() != StateRunning {
		return fmt.Errorf("node: Stop called from state %s, want RUNNING", r.State())
	}
	r.setState(StateStopping)

	if r.cancel != nil {
		r.cancel()
	}

	select {
	case <-r.done:
	case <-time.After(r.cfg.ShutdownDrain):
		logrus.Warn("node: shutdown drain deadline exceeded, releasing transport anyway")
	case <-ctx.Done():
	}

	r.setState(StateStopped)
	return nil
}

// handleInbound dispatches one accepted stream to the storage engine
// based on the protocol it arrived under, then writes exactly one
// framed response and closes the stream. Each stream is handled
// independently and concurrently with any other.
func (r *Runtime) handleInbound(ctx context.Context, stream kwnode.InboundStream) {
	defer stream.Close()

	// Streams arriving once shutdown has begun are closed unanswered.
	if s := r.State(); s == StateStopping || s == StateStopped {
		return
	}

	// Per-read deadlines are enforced by the transport's stream
	// implementation (kwnode.DefaultReadTimeout); ReadFrame itself is a
	// blocking, deadline-agnostic byte transform.
	marker, payload, err := wire.ReadFrame(stream)
	if err != nil {
		logrus.Debugf("node: inbound frame error, closing stream: %v", err)
		return
	}

	var respFrame []byte
	switch marker {
	case wire.MarkerPing:
		respFrame, err = r.handlePing(payload)
	case wire.MarkerStore:
		respFrame, err = r.handleStore(payload)
	case wire.MarkerFind:
		respFrame, err = r.handleFind(payload)
	default:
		return
	}
	if err != nil {
		logrus.Debugf("node: inbound handler error, closing stream: %v", err)
		return
	}

	if _, err := stream.Write(respFrame); err != nil {
		logrus.Debugf("node: failed writing inbound response: %v", err)
	}
}

func (r *Runtime) localNodeInfo() wire.NodeInfo {
	id := r.transport.LocalIdentity()
	return wire.NodeInfo{NodeID: []byte(id), PeerID: []byte(id)}
}

func (r *Runtime) handlePing(payload []byte) ([]byte, error) {
	req, err := wire.DecodePingRequest(payload)
	if err != nil {
		return nil, err
	}
	result := r.engine.Ping(req.Validate)
	return wire.EncodePingResponse(&wire.PingResponse{
		Auth:      req.Auth,
		Responder: r.localNodeInfo(),
		DHTTime:   result.DHTTime,
		Available: result.Available,
	})
}

func (r *Runtime) handleStore(payload []byte) ([]byte, error) {
	req, err := wire.DecodeStoreRequest(payload)
	if err != nil {
		return nil, err
	}

	entries := make([]dht.StoreEntry, len(req.Keys))
	for i := range req.Keys {
		var key dht.Key
		copy(key[:], req.Keys[i])
		var subkey []byte
		if len(req.Subkeys) > 0 {
			subkey = req.Subkeys[i]
		}
		entries[i] = dht.StoreEntry{
			Key:        key,
			Subkey:     subkey,
			Value:      req.Values[i],
			Expiration: req.ExpirationTime[i],
			InCache:    req.InCache[i],
		}
	}

	ok := r.engine.Store(entries)
	return wire.EncodeStoreResponse(&wire.StoreResponse{
		Auth:      req.Auth,
		StoreOK:   ok,
		Responder: r.localNodeInfo(),
	})
}

func (r *Runtime) handleFind(payload []byte) ([]byte, error) {
	req, err := wire.DecodeFindRequest(payload)
	if err != nil {
		return nil, err
	}

	keys := make([]dht.Key, len(req.Keys))
	for i, k := range req.Keys {
		copy(keys[i][:], k)
	}

	results, err := r.engine.Find(keys)
	if err != nil {
		return nil, err
	}

	wireResults := make([]wire.FindResult, len(results))
	for i, res := range results {
		switch {
		case !res.Found:
			wireResults[i] = wire.FindResult{ResultType: wire.ResultNotFound}
		case res.Dictionary:
			wireResults[i] = wire.FindResult{ResultType: wire.ResultFoundDictionary, Value: res.Value, ExpirationTime: res.Expiration}
		default:
			wireResults[i] = wire.FindResult{ResultType: wire.ResultFoundRegular, Value: res.Value, ExpirationTime: res.Expiration}
		}
		for _, h := range res.Hints {
			wireResults[i].NearestNodeIDs = append(wireResults[i].NearestNodeIDs, h.NodeID)
			wireResults[i].NearestPeerIDs = append(wireResults[i].NearestPeerIDs, h.PeerID)
		}
	}

	return wire.EncodeFindResponse(&wire.FindResponse{
		Auth:      req.Auth,
		Results:   wireResults,
		Responder: r.localNodeInfo(),
	})
}
