package wire

import (
	"bytes"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello world")
	if err := WriteFrame(&buf, MarkerPing, payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	marker, got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if marker != MarkerPing {
		t.Fatalf("marker mismatch: got %v", marker)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch: got %q want %q", got, payload)
	}
}

func TestReadFrameShortPrefix(t *testing.T) {
	buf := bytes.NewReader([]byte{0, 0, 0})
	if _, _, err := ReadFrame(buf); err == nil {
		t.Fatal("expected error for short length prefix")
	}
}

func TestReadFrameUnknownMarker(t *testing.T) {
	frame, err := EncodeFrame(MarkerPing, []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	frame[8] = 0xFF // corrupt the marker byte
	if _, _, err := ReadFrame(bytes.NewReader(frame)); err == nil {
		t.Fatal("expected error for unknown marker")
	}
}

func TestReadFrameExceedsCap(t *testing.T) {
	var lenBuf [8]byte
	big := uint64(MaxFrameLen) + 1
	for i := 0; i < 8; i++ {
		lenBuf[7-i] = byte(big >> (8 * i))
	}
	if _, _, err := ReadFrame(bytes.NewReader(lenBuf[:])); err == nil {
		t.Fatal("expected frame-cap error")
	}
}

func TestDecodeFrameMatchesReadFrame(t *testing.T) {
	frame, err := EncodeFrame(MarkerStore, []byte("payload"))
	if err != nil {
		t.Fatal(err)
	}
	marker, payload, err := DecodeFrame(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if marker != MarkerStore || string(payload) != "payload" {
		t.Fatalf("unexpected decode result: %v %q", marker, payload)
	}
}

func TestPingCodecRoundTrip(t *testing.T) {
	req := &PingRequest{
		Auth:     []byte("auth"),
		Sender:   NodeInfo{NodeID: []byte{1, 2, 3}, PeerID: []byte("peer")},
		Validate: true,
	}
	frame, err := EncodePingRequest(req)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	marker, payload, err := DecodeFrame(frame)
	if err != nil || marker != MarkerPing {
		t.Fatalf("frame decode: marker=%v err=%v", marker, err)
	}
	got, err := DecodePingRequest(payload)
	if err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if got.Validate != req.Validate || !bytes.Equal(got.Auth, req.Auth) {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestStoreCodecRejectsMismatchedVectors(t *testing.T) {
	req := &StoreRequest{
		Keys:           [][]byte{{1}, {2}},
		Values:         [][]byte{{1}},
		ExpirationTime: []float64{1, 2},
		InCache:        []bool{false, false},
	}
	if _, err := EncodeStoreRequest(req); err == nil {
		t.Fatal("expected mismatched-length error")
	}
}

func TestStoreCodecRoundTrip(t *testing.T) {
	req := &StoreRequest{
		Keys:           [][]byte{{1}, {2}},
		Subkeys:        [][]byte{{}, {}},
		Values:         [][]byte{[]byte("v1"), []byte("v2")},
		ExpirationTime: []float64{100, 200},
		InCache:        []bool{false, true},
		Sender:         NodeInfo{NodeID: []byte{9}},
	}
	frame, err := EncodeStoreRequest(req)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	_, payload, err := DecodeFrame(frame)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	got, err := DecodeStoreRequest(payload)
	if err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if len(got.Keys) != 2 || string(got.Values[1]) != "v2" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestFindCodecRoundTrip(t *testing.T) {
	resp := &FindResponse{
		Results: []FindResult{
			{ResultType: ResultFoundRegular, Value: []byte("v"), ExpirationTime: 42},
			{ResultType: ResultNotFound},
		},
	}
	frame, err := EncodeFindResponse(resp)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	_, payload, err := DecodeFrame(frame)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	got, err := DecodeFindResponse(payload)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(got.Results) != 2 || got.Results[0].ResultType != ResultFoundRegular {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}
