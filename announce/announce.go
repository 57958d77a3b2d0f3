// Package announce implements the announcement protocol: building
// server-info payloads, computing the DHT keys for a model's blocks, and
// publishing them (plus a model-registry entry) to local storage and to
// a bootstrap peer, at startup and on every re-announce tick.
package announce

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kwaai-ai-lab/kwaainet-core/dht"
	"github.com/kwaai-ai-lab/kwaainet-core/kwnode"
	"github.com/kwaai-ai-lab/kwaainet-core/wire"
)

// DefaultTTL and DefaultInterval follow the spec's stated defaults. TTL
// is kept strictly greater than 2x the interval so a single missed cycle
// does not evict the node from the network's view.
const (
	DefaultTTL      = 360 * time.Second
	DefaultInterval = 120 * time.Second
)

// StateProvider supplies the current server-info fields to embed in each
// announcement. Callers (inference/compression components) own this
// state; the announcer only reads it once per cycle.
type StateProvider func() (state dht.ServerState, throughput float64, fields map[string]interface{})

// Config describes one model's announcement parameters.
type Config struct {
	ModelName     string
	StartBlock    int
	EndBlock      int
	TotalBlocks   int // total blocks in the model; defaults to EndBlock-StartBlock if zero
	PublicName    string
	RepositoryURL string
	TTL           time.Duration
	BootstrapAddr string // printable form used as the remote peer arg to CallUnary

	Identity kwnode.PeerIdentity
	State    StateProvider
}

// Announcer drives the announcement protocol for one model's block
// range. It borrows a storage engine and a transport; it does not own
// either and nothing holds a reciprocal handle back to the announcer.
type Announcer struct {
	cfg       Config
	engine    *dht.Engine
	transport kwnode.Transport
	now       func() float64
}

// New constructs an Announcer. now defaults to dht.WallClock.
func New(cfg Config, engine *dht.Engine, transport kwnode.Transport, now func() float64) *Announcer {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if now == nil {
		now = dht.WallClock
	}
	return &Announcer{cfg: cfg, engine: engine, transport: transport, now: now}
}

// AnnounceOnce runs one announce cycle: build server-info, STORE every
// configured block locally and remotely, then STORE the registry entry.
// Remote sends are best-effort; a failure is logged but does not abort
// the cycle or return an error, per the spec's steady-state error policy.
func (a *Announcer) AnnounceOnce(ctx context.Context) error {
	now := a.now()
	modelPrefix := dht.CanonicalizeModelName(a.cfg.ModelName)
	expiration := now + a.cfg.TTL.Seconds()

	if a.cfg.EndBlock <= a.cfg.StartBlock {
		// No blocks configured: emit only the registry entry.
		return a.announceRegistry(ctx, modelPrefix, expiration)
	}

	fields := map[string]interface{}{}
	state := dht.StateOnline
	var throughput float64
	if a.cfg.State != nil {
		state, throughput, fields = a.cfg.State()
	}
	fields[dht.FieldStartBlock] = a.cfg.StartBlock
	fields[dht.FieldEndBlock] = a.cfg.EndBlock
	fields[dht.FieldPublicName] = a.cfg.PublicName

	value, err := dht.BuildServerInfo(state, throughput, fields)
	if err != nil {
		return fmt.Errorf("announce: build server-info: %w", err)
	}

	subkey, err := dht.MsgpackString(a.cfg.Identity.String())
	if err != nil {
		return fmt.Errorf("announce: encode identity subkey: %w", err)
	}

	entries := make([]dht.StoreEntry, 0, a.cfg.EndBlock-a.cfg.StartBlock)
	req := &wire.StoreRequest{
		Sender: wire.NodeInfo{NodeID: []byte(a.cfg.Identity), PeerID: []byte(a.cfg.Identity)},
	}
	for i := a.cfg.StartBlock; i < a.cfg.EndBlock; i++ {
		key, err := dht.ComputeDHTKey(dht.BlockKey(modelPrefix, i))
		if err != nil {
			return fmt.Errorf("announce: compute block key: %w", err)
		}
		entries = append(entries, dht.StoreEntry{
			Key:        key,
			Subkey:     subkey,
			Value:      value,
			Expiration: expiration,
			InCache:    false,
		})
		req.Keys = append(req.Keys, key[:])
		req.Subkeys = append(req.Subkeys, subkey)
		req.Values = append(req.Values, value)
		req.ExpirationTime = append(req.ExpirationTime, expiration)
		req.InCache = append(req.InCache, false)
	}

	a.engine.Store(entries)
	a.sendBestEffort(ctx, wire.MarkerStore, req)

	return a.announceRegistry(ctx, modelPrefix, expiration)
}

func (a *Announcer) announceRegistry(ctx context.Context, modelPrefix string, expiration float64) error {
	registryKey, err := dht.ComputeDHTKey(dht.RegistryKey)
	if err != nil {
		return fmt.Errorf("announce: compute registry key: %w", err)
	}
	subkey, err := dht.MsgpackString(modelPrefix)
	if err != nil {
		return fmt.Errorf("announce: encode model-prefix subkey: %w", err)
	}
	totalBlocks := a.cfg.TotalBlocks
	if totalBlocks == 0 {
		totalBlocks = a.cfg.EndBlock - a.cfg.StartBlock
	}
	value, err := dht.BuildRegistryEntry(a.cfg.RepositoryURL, totalBlocks)
	if err != nil {
		return fmt.Errorf("announce: build registry entry: %w", err)
	}

	a.engine.Store([]dht.StoreEntry{{
		Key:        registryKey,
		Subkey:     subkey,
		Value:      value,
		Expiration: expiration,
		InCache:    false,
	}})

	req := &wire.StoreRequest{
		Keys:           [][]byte{registryKey[:]},
		Subkeys:        [][]byte{subkey},
		Values:         [][]byte{value},
		ExpirationTime: []float64{expiration},
		InCache:        []bool{false},
		Sender:         wire.NodeInfo{NodeID: []byte(a.cfg.Identity), PeerID: []byte(a.cfg.Identity)},
	}
	a.sendBestEffort(ctx, wire.MarkerStore, req)
	return nil
}

func (a *Announcer) sendBestEffort(ctx context.Context, marker wire.Marker, req *wire.StoreRequest) {
	if a.transport == nil || a.cfg.BootstrapAddr == "" {
		return
	}
	frame, err := wire.EncodeStoreRequest(req)
	if err != nil {
		logrus.Warnf("announce: encode store request: %v", err)
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, kwnode.DefaultCallTimeout)
	defer cancel()
	_, err = a.transport.CallUnary(callCtx, kwnode.PeerIdentity(a.cfg.BootstrapAddr), kwnode.ProtoStore, frame)
	if err != nil {
		logrus.Warnf("announce: best-effort store to bootstrap peer failed: %v", err)
	}
}
