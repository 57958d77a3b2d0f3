package kwnode

import (
	"sort"

	"github.com/kwaai-ai-lab/kwaainet-core/dht"
)

// transportPeerView adapts a Transport's KnownPeers into dht.PeerView,
// ranking peers by XOR distance between their identity hash and the
// requested key.
type transportPeerView struct {
	t Transport
}

// NewPeerView wraps t so its known peers can answer nearest-peer queries.
func NewPeerView(t Transport) dht.PeerView {
	return &transportPeerView{t: t}
}

func (v *transportPeerView) Nearest(key dht.Key, n int) []dht.PeerHint {
	peers := v.t.KnownPeers()
	type scored struct {
		peer PeerIdentity
		dist [20]byte
	}
	scoredPeers := make([]scored, len(peers))
	for i, p := range peers {
		scoredPeers[i] = scored{peer: p, dist: xorDistance(p.DistanceKey(), key)}
	}
	sort.Slice(scoredPeers, func(i, j int) bool {
		return lessBytes(scoredPeers[i].dist[:], scoredPeers[j].dist[:])
	})
	if n > len(scoredPeers) {
		n = len(scoredPeers)
	}
	hints := make([]dht.PeerHint, n)
	for i := 0; i < n; i++ {
		id := scoredPeers[i].peer
		hints[i] = dht.PeerHint{NodeID: []byte(id), PeerID: []byte(id)}
	}
	return hints
}

func xorDistance(a [20]byte, b dht.Key) [20]byte {
	var out [20]byte
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}

func lessBytes(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
