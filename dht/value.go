// Package dht implements the DHT value model, wire-level key derivation,
// and the in-memory storage engine backing PING/STORE/FIND.
package dht

import (
	"crypto/sha1"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// ServerState enumerates the lifecycle states carried in a server-info
// payload.
type ServerState int

const (
	StateOffline ServerState = 0
	StateJoining ServerState = 1
	StateOnline  ServerState = 2
)

// serverInfoExtTag is the msgpack extension type used to wrap server-info
// and re-encoded dictionary bodies.
const serverInfoExtTag = 64

// ServerInfo is the tagged heterogeneous structure describing a serving
// peer: its lifecycle state, throughput, and a map of recognized fields.
// Unknown fields read from the wire are preserved in Fields so a
// round-trip through an implementation that doesn't recognize them is
// lossless.
type ServerInfo struct {
	State      ServerState
	Throughput float64
	Fields     map[string]interface{}
}

// Recognized field names, per the wire format.
const (
	FieldStartBlock      = "start_block"
	FieldEndBlock        = "end_block"
	FieldPublicName      = "public_name"
	FieldVersion         = "version"
	FieldTorchDtype      = "torch_dtype"
	FieldUsingRelay      = "using_relay"
	FieldCacheTokensLeft = "cache_tokens_left"
	FieldAdapters        = "adapters"
	FieldNextPings       = "next_pings"
)

// BuildServerInfo encodes state, throughput and fields as the canonical
// msgpack-ext(tag=64) wrapping of the 3-tuple [state, throughput, fields].
func BuildServerInfo(state ServerState, throughput float64, fields map[string]interface{}) ([]byte, error) {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	inner, err := msgpack.Marshal([]interface{}{int(state), throughput, fields})
	if err != nil {
		return nil, fmt.Errorf("dht: encode server-info: %w", err)
	}
	return wrapExt(serverInfoExtTag, inner), nil
}

// ParseServerInfo decodes the msgpack-ext(tag=64) wrapping produced by
// BuildServerInfo.
func ParseServerInfo(data []byte) (*ServerInfo, error) {
	tag, inner, err := unwrapExt(data)
	if err != nil {
		return nil, err
	}
	if tag != serverInfoExtTag {
		return nil, fmt.Errorf("dht: unexpected server-info ext tag %d", tag)
	}

	var tuple []interface{}
	if err := msgpack.Unmarshal(inner, &tuple); err != nil {
		return nil, fmt.Errorf("dht: decode server-info tuple: %w", err)
	}
	if len(tuple) != 3 {
		return nil, fmt.Errorf("dht: server-info tuple has %d elements, want 3", len(tuple))
	}

	state, err := toInt(tuple[0])
	if err != nil {
		return nil, fmt.Errorf("dht: server-info state: %w", err)
	}
	throughput, err := toFloat(tuple[1])
	if err != nil {
		return nil, fmt.Errorf("dht: server-info throughput: %w", err)
	}
	fields, ok := tuple[2].(map[string]interface{})
	if !ok {
		fields = map[string]interface{}{}
	}

	return &ServerInfo{State: ServerState(state), Throughput: throughput, Fields: fields}, nil
}

// BuildRegistryEntry encodes the model-registry dictionary payload: a
// two-field mapping of repository URL and total block count.
func BuildRegistryEntry(repositoryURL string, numBlocks int) ([]byte, error) {
	m := map[string]interface{}{
		"repository": repositoryURL,
		"num_blocks": numBlocks,
	}
	b, err := msgpack.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("dht: encode registry entry: %w", err)
	}
	return b, nil
}

// RegistryEntry is the decoded form of BuildRegistryEntry's output.
type RegistryEntry struct {
	Repository string
	NumBlocks  int
}

// ParseRegistryEntry decodes a registry payload produced by
// BuildRegistryEntry.
func ParseRegistryEntry(data []byte) (*RegistryEntry, error) {
	var m map[string]interface{}
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("dht: decode registry entry: %w", err)
	}
	repo, _ := m["repository"].(string)
	n, err := toInt(m["num_blocks"])
	if err != nil {
		return nil, fmt.Errorf("dht: registry num_blocks: %w", err)
	}
	return &RegistryEntry{Repository: repo, NumBlocks: n}, nil
}

// MsgpackString encodes a bare string the same way ComputeDHTKey does,
// for use as a dictionary subkey (e.g. an announcing peer's printable
// identity, or a model prefix).
func MsgpackString(s string) ([]byte, error) {
	b, err := msgpack.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("dht: encode msgpack string: %w", err)
	}
	return b, nil
}

// ComputeDHTKey derives the 20-byte DHT key for a logical key string:
// SHA1(msgpack_encode(key)). The msgpack encoding of a bare string is
// used so identical logical keys produce byte-identical keys across
// implementations.
func ComputeDHTKey(logicalKey string) ([20]byte, error) {
	encoded, err := msgpack.Marshal(logicalKey)
	if err != nil {
		return [20]byte{}, fmt.Errorf("dht: encode logical key: %w", err)
	}
	return sha1.Sum(encoded), nil
}

// CanonicalizeModelName replaces '.' and '/' with '-', producing the
// model prefix used as the root of all of a model's DHT keys.
func CanonicalizeModelName(name string) string {
	r := strings.NewReplacer(".", "-", "/", "-")
	return r.Replace(name)
}

// BlockKey builds the logical key string for a model block.
func BlockKey(modelPrefix string, blockIndex int) string {
	return fmt.Sprintf("%s.%d", modelPrefix, blockIndex)
}

// RegistryKey is the network-wide registry root logical key.
const RegistryKey = "_petals.models"

// DictEntry is one (subkey, value, expiration) triple inside a dictionary
// record, as carried in the re-encoded body returned by FIND.
type DictEntry struct {
	Subkey     []byte
	Value      []byte
	Expiration float64
}

// BuildDictionaryValue re-encodes a dictionary record's live entries into
// the canonical serialized form: a msgpack-ext(tag=64) wrapping of
// [maxExpiration, latestUpdate, array_of_[subkey, value, expiration]].
func BuildDictionaryValue(maxExpiration, latestUpdate float64, entries []DictEntry) ([]byte, error) {
	rows := make([]interface{}, len(entries))
	for i, e := range entries {
		rows[i] = []interface{}{e.Subkey, e.Value, e.Expiration}
	}
	inner, err := msgpack.Marshal([]interface{}{maxExpiration, latestUpdate, rows})
	if err != nil {
		return nil, fmt.Errorf("dht: encode dictionary value: %w", err)
	}
	return wrapExt(serverInfoExtTag, inner), nil
}

// ParsedDictionaryValue is the decoded form of BuildDictionaryValue's
// output.
type ParsedDictionaryValue struct {
	MaxExpiration float64
	LatestUpdate  float64
	Entries       []DictEntry
}

// ParseDictionaryValue decodes a dictionary body produced by
// BuildDictionaryValue.
func ParseDictionaryValue(data []byte) (*ParsedDictionaryValue, error) {
	tag, inner, err := unwrapExt(data)
	if err != nil {
		return nil, err
	}
	if tag != serverInfoExtTag {
		return nil, fmt.Errorf("dht: unexpected dictionary ext tag %d", tag)
	}
	var tuple []interface{}
	if err := msgpack.Unmarshal(inner, &tuple); err != nil {
		return nil, fmt.Errorf("dht: decode dictionary tuple: %w", err)
	}
	if len(tuple) != 3 {
		return nil, fmt.Errorf("dht: dictionary tuple has %d elements, want 3", len(tuple))
	}
	maxExp, err := toFloat(tuple[0])
	if err != nil {
		return nil, fmt.Errorf("dht: dictionary max_expiration: %w", err)
	}
	latest, err := toFloat(tuple[1])
	if err != nil {
		return nil, fmt.Errorf("dht: dictionary latest_update: %w", err)
	}
	rawRows, ok := tuple[2].([]interface{})
	if !ok {
		return nil, fmt.Errorf("dht: dictionary entries not an array")
	}
	entries := make([]DictEntry, 0, len(rawRows))
	for _, r := range rawRows {
		row, ok := r.([]interface{})
		if !ok || len(row) != 3 {
			return nil, fmt.Errorf("dht: malformed dictionary entry")
		}
		subkey, err := toBytes(row[0])
		if err != nil {
			return nil, fmt.Errorf("dht: dictionary subkey: %w", err)
		}
		val, err := toBytes(row[1])
		if err != nil {
			return nil, fmt.Errorf("dht: dictionary value: %w", err)
		}
		exp, err := toFloat(row[2])
		if err != nil {
			return nil, fmt.Errorf("dht: dictionary entry expiration: %w", err)
		}
		entries = append(entries, DictEntry{Subkey: subkey, Value: val, Expiration: exp})
	}
	return &ParsedDictionaryValue{MaxExpiration: maxExp, LatestUpdate: latest, Entries: entries}, nil
}

func toBytes(v interface{}) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		return nil, fmt.Errorf("unsupported byte type %T", v)
	}
}

func toInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int8:
		return int(n), nil
	case int16:
		return int(n), nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", v)
	}
}

func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", v)
	}
}
