package announce

import (
	"context"
	"testing"
	"time"

	"github.com/kwaai-ai-lab/kwaainet-core/dht"
	"github.com/kwaai-ai-lab/kwaainet-core/kwnode"
)

func fakeClock(t *float64) func() float64 {
	return func() float64 { return *t }
}

// TestAnnounceOnceLocalFind is scenario S1: announce and find locally.
func TestAnnounceOnceLocalFind(t *testing.T) {
	now := 1000.0
	engine := dht.NewEngine(nil, fakeClock(&now))

	cfg := Config{
		ModelName:     "unsloth/Llama-3.1-8B-Instruct",
		StartBlock:    0,
		EndBlock:      3,
		TotalBlocks:   32,
		PublicName:    "nodeA",
		RepositoryURL: "https://huggingface.co/unsloth/Llama-3.1-8B-Instruct",
		TTL:           360 * time.Second,
		Identity:      kwnode.PeerIdentity("nodeA"),
	}
	a := New(cfg, engine, nil, fakeClock(&now))

	if err := a.AnnounceOnce(context.Background()); err != nil {
		t.Fatalf("announce once: %v", err)
	}

	key, err := dht.ComputeDHTKey("unsloth-Llama-3-1-8B-Instruct.1")
	if err != nil {
		t.Fatalf("compute key: %v", err)
	}
	results, err := engine.Find([]dht.Key{key})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !results[0].Found || !results[0].Dictionary {
		t.Fatalf("expected FOUND_DICTIONARY, got %+v", results[0])
	}

	parsed, err := dht.ParseDictionaryValue(results[0].Value)
	if err != nil {
		t.Fatalf("parse dictionary: %v", err)
	}
	wantSubkey, err := dht.MsgpackString("nodeA")
	if err != nil {
		t.Fatalf("encode subkey: %v", err)
	}
	if len(parsed.Entries) != 1 || string(parsed.Entries[0].Subkey) != string(wantSubkey) {
		t.Fatalf("expected exactly one subkey for nodeA, got %+v", parsed.Entries)
	}

	info, err := dht.ParseServerInfo(parsed.Entries[0].Value)
	if err != nil {
		t.Fatalf("parse server-info: %v", err)
	}
	start, _ := info.Fields[dht.FieldStartBlock]
	end, _ := info.Fields[dht.FieldEndBlock]
	if toInt(t, start) != 0 || toInt(t, end) != 3 {
		t.Fatalf("expected start_block=0 end_block=3, got %v %v", start, end)
	}
}

// TestAnnounceOnceRegistryEntry is scenario S5: the registry carries the
// model's total block count, independent of this node's served range.
func TestAnnounceOnceRegistryEntry(t *testing.T) {
	now := 1000.0
	engine := dht.NewEngine(nil, fakeClock(&now))

	cfg := Config{
		ModelName:     "unsloth/Llama-3.1-8B-Instruct",
		StartBlock:    0,
		EndBlock:      3,
		TotalBlocks:   32,
		PublicName:    "nodeA",
		RepositoryURL: "https://huggingface.co/unsloth/Llama-3.1-8B-Instruct",
		Identity:      kwnode.PeerIdentity("nodeA"),
	}
	a := New(cfg, engine, nil, fakeClock(&now))

	if err := a.AnnounceOnce(context.Background()); err != nil {
		t.Fatalf("announce once: %v", err)
	}

	registryKey, err := dht.ComputeDHTKey(dht.RegistryKey)
	if err != nil {
		t.Fatalf("compute registry key: %v", err)
	}
	results, err := engine.Find([]dht.Key{registryKey})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !results[0].Found || !results[0].Dictionary {
		t.Fatalf("expected FOUND_DICTIONARY for registry key, got %+v", results[0])
	}

	parsed, err := dht.ParseDictionaryValue(results[0].Value)
	if err != nil {
		t.Fatalf("parse dictionary: %v", err)
	}
	wantSubkey, err := dht.MsgpackString("unsloth-Llama-3-1-8B-Instruct")
	if err != nil {
		t.Fatalf("encode subkey: %v", err)
	}
	if len(parsed.Entries) != 1 || string(parsed.Entries[0].Subkey) != string(wantSubkey) {
		t.Fatalf("expected exactly one registry subkey, got %+v", parsed.Entries)
	}

	entry, err := dht.ParseRegistryEntry(parsed.Entries[0].Value)
	if err != nil {
		t.Fatalf("parse registry entry: %v", err)
	}
	if entry.NumBlocks != 32 {
		t.Fatalf("expected num_blocks=32, got %d", entry.NumBlocks)
	}
	if entry.Repository != cfg.RepositoryURL {
		t.Fatalf("expected repository url, got %q", entry.Repository)
	}
}

// TestAnnounceNoBlocksConfiguredEmitsOnlyRegistry covers the "end <= start"
// edge case: the announcement loop must emit only the registry entry.
func TestAnnounceNoBlocksConfiguredEmitsOnlyRegistry(t *testing.T) {
	now := 1000.0
	engine := dht.NewEngine(nil, fakeClock(&now))

	cfg := Config{
		ModelName:     "unsloth/Llama-3.1-8B-Instruct",
		StartBlock:    0,
		EndBlock:      0,
		TotalBlocks:   32,
		RepositoryURL: "https://huggingface.co/unsloth/Llama-3.1-8B-Instruct",
		Identity:      kwnode.PeerIdentity("nodeA"),
	}
	a := New(cfg, engine, nil, fakeClock(&now))

	if err := a.AnnounceOnce(context.Background()); err != nil {
		t.Fatalf("announce once: %v", err)
	}

	registryKey, err := dht.ComputeDHTKey(dht.RegistryKey)
	if err != nil {
		t.Fatalf("compute registry key: %v", err)
	}
	results, err := engine.Find([]dht.Key{registryKey})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !results[0].Found {
		t.Fatal("expected registry entry even with no blocks configured")
	}

	blockKey, err := dht.ComputeDHTKey(dht.BlockKey(dht.CanonicalizeModelName(cfg.ModelName), 0))
	if err != nil {
		t.Fatalf("compute block key: %v", err)
	}
	blockResults, err := engine.Find([]dht.Key{blockKey})
	if err != nil {
		t.Fatalf("find block: %v", err)
	}
	if blockResults[0].Found {
		t.Fatal("expected no block entries when end <= start")
	}
}

func toInt(t *testing.T, v interface{}) int {
	t.Helper()
	switch n := v.(type) {
	case int:
		return n
	case int8:
		return int(n)
	case int16:
		return int(n)
	case int32:
		return int(n)
	case int64:
		return int(n)
	case uint64:
		return int(n)
	case float64:
		return int(n)
	default:
		t.Fatalf("unexpected numeric type %T", v)
		return 0
	}
}
