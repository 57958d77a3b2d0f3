package wire

// NodeInfo identifies a peer on the wire: its DHT identity (used for
// distance computations) and the transport-level peer identity used to
// dial it back.
type NodeInfo struct {
	NodeID []byte `msgpack:"node_id"`
	PeerID []byte `msgpack:"peer_id"`
}

// FindResultType enumerates the outcome of a single FIND lookup.
type FindResultType uint8

const (
	ResultNotFound        FindResultType = 0
	ResultFoundRegular    FindResultType = 1
	ResultFoundDictionary FindResultType = 2
)

// FindResult carries the outcome for one requested key.
type FindResult struct {
	ResultType     FindResultType `msgpack:"result_type"`
	Value          []byte         `msgpack:"value"`
	ExpirationTime float64        `msgpack:"expiration_time"`
	NearestNodeIDs [][]byte       `msgpack:"nearest_node_ids"`
	NearestPeerIDs [][]byte       `msgpack:"nearest_peer_ids"`
}

// PingRequest/PingResponse implement the liveness & clock-sync RPC.
type PingRequest struct {
	Auth     []byte   `msgpack:"auth"`
	Sender   NodeInfo `msgpack:"sender"`
	Validate bool     `msgpack:"validate"`
}

type PingResponse struct {
	Auth      []byte   `msgpack:"auth"`
	Responder NodeInfo `msgpack:"responder"`
	DHTTime   float64  `msgpack:"dht_time"`
	Available bool     `msgpack:"available"`
}

// StoreRequest/StoreResponse implement the write path. All slices in a
// StoreRequest must share the same length; a decoder-side caller should
// reject mismatched vectors as a whole-request failure.
type StoreRequest struct {
	Auth           []byte    `msgpack:"auth"`
	Keys           [][]byte  `msgpack:"keys"`
	Subkeys        [][]byte  `msgpack:"subkeys"`
	Values         [][]byte  `msgpack:"values"`
	ExpirationTime []float64 `msgpack:"expiration_time"`
	InCache        []bool    `msgpack:"in_cache"`
	Sender         NodeInfo  `msgpack:"sender"`
}

type StoreResponse struct {
	Auth      []byte   `msgpack:"auth"`
	StoreOK   []bool   `msgpack:"store_ok"`
	Responder NodeInfo `msgpack:"responder"`
}

// FindRequest/FindResponse implement the read path.
type FindRequest struct {
	Auth   []byte    `msgpack:"auth"`
	Keys   [][]byte  `msgpack:"keys"`
	Sender *NodeInfo `msgpack:"sender,omitempty"`
}

type FindResponse struct {
	Auth      []byte       `msgpack:"auth"`
	Results   []FindResult `msgpack:"results"`
	Responder NodeInfo     `msgpack:"responder"`
}

// EncodePingRequest/EncodePingResponse and their FIND/STORE counterparts
// below wrap marshal+EncodeFrame so callers never touch msgpack directly.

func EncodePingRequest(req *PingRequest) ([]byte, error) {
	body, err := marshal(req)
	if err != nil {
		return nil, err
	}
	return EncodeFrame(MarkerPing, body)
}

func DecodePingRequest(payload []byte) (*PingRequest, error) {
	var req PingRequest
	if err := unmarshal(payload, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func EncodePingResponse(resp *PingResponse) ([]byte, error) {
	body, err := marshal(resp)
	if err != nil {
		return nil, err
	}
	return EncodeFrame(MarkerPing, body)
}

func DecodePingResponse(payload []byte) (*PingResponse, error) {
	var resp PingResponse
	if err := unmarshal(payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func EncodeStoreRequest(req *StoreRequest) ([]byte, error) {
	if err := validateStoreRequest(req); err != nil {
		return nil, err
	}
	body, err := marshal(req)
	if err != nil {
		return nil, err
	}
	return EncodeFrame(MarkerStore, body)
}

func DecodeStoreRequest(payload []byte) (*StoreRequest, error) {
	var req StoreRequest
	if err := unmarshal(payload, &req); err != nil {
		return nil, err
	}
	if err := validateStoreRequest(&req); err != nil {
		return nil, err
	}
	return &req, nil
}

func validateStoreRequest(req *StoreRequest) error {
	n := len(req.Keys)
	if len(req.Subkeys) != 0 && len(req.Subkeys) != n {
		return frameErr("store vectors have mismatched lengths", nil)
	}
	if len(req.Values) != n || len(req.ExpirationTime) != n || len(req.InCache) != n {
		return frameErr("store vectors have mismatched lengths", nil)
	}
	return nil
}

func EncodeStoreResponse(resp *StoreResponse) ([]byte, error) {
	body, err := marshal(resp)
	if err != nil {
		return nil, err
	}
	return EncodeFrame(MarkerStore, body)
}

func DecodeStoreResponse(payload []byte) (*StoreResponse, error) {
	var resp StoreResponse
	if err := unmarshal(payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func EncodeFindRequest(req *FindRequest) ([]byte, error) {
	body, err := marshal(req)
	if err != nil {
		return nil, err
	}
	return EncodeFrame(MarkerFind, body)
}

func DecodeFindRequest(payload []byte) (*FindRequest, error) {
	var req FindRequest
	if err := unmarshal(payload, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func EncodeFindResponse(resp *FindResponse) ([]byte, error) {
	body, err := marshal(resp)
	if err != nil {
		return nil, err
	}
	return EncodeFrame(MarkerFind, body)
}

func DecodeFindResponse(payload []byte) (*FindResponse, error) {
	var resp FindResponse
	if err := unmarshal(payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
