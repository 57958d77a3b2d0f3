package dht

import (
	"encoding/binary"
	"fmt"
)

// wrapExt and unwrapExt implement the msgpack extension-type framing used
// to tag server-info and re-encoded dictionary bodies (tag=64). The
// vmihailenco/msgpack encoder is used for every typed value carried
// inside the extension; only the outer ext header, which wraps an
// application-defined byte blob rather than a typed Go value, is built by
// hand here, following the msgpack spec's ext family directly.
func wrapExt(typeID int8, data []byte) []byte {
	n := len(data)
	switch {
	case n == 1:
		return append([]byte{0xd4, byte(typeID)}, data...)
	case n == 2:
		return append([]byte{0xd5, byte(typeID)}, data...)
	case n == 4:
		return append([]byte{0xd6, byte(typeID)}, data...)
	case n == 8:
		return append([]byte{0xd7, byte(typeID)}, data...)
	case n == 16:
		return append([]byte{0xd8, byte(typeID)}, data...)
	case n <= 0xff:
		return append([]byte{0xc7, byte(n), byte(typeID)}, data...)
	case n <= 0xffff:
		buf := make([]byte, 4)
		buf[0] = 0xc8
		binary.BigEndian.PutUint16(buf[1:3], uint16(n))
		buf[3] = byte(typeID)
		return append(buf, data...)
	default:
		buf := make([]byte, 6)
		buf[0] = 0xc9
		binary.BigEndian.PutUint32(buf[1:5], uint32(n))
		buf[5] = byte(typeID)
		return append(buf, data...)
	}
}

// unwrapExt parses an ext-framed blob back into its type tag and inner
// bytes. It returns an error if data is not a recognized ext format.
func unwrapExt(data []byte) (int8, []byte, error) {
	if len(data) < 2 {
		return 0, nil, fmt.Errorf("dht: ext blob too short")
	}
	switch data[0] {
	case 0xd4:
		return int8(data[1]), data[2:3], nil
	case 0xd5:
		return int8(data[1]), data[2:4], nil
	case 0xd6:
		return int8(data[1]), data[2:6], nil
	case 0xd7:
		return int8(data[1]), data[2:10], nil
	case 0xd8:
		return int8(data[1]), data[2:18], nil
	case 0xc7:
		if len(data) < 3 {
			return 0, nil, fmt.Errorf("dht: ext8 header truncated")
		}
		n := int(data[1])
		typeID := int8(data[2])
		if len(data) < 3+n {
			return 0, nil, fmt.Errorf("dht: ext8 body truncated")
		}
		return typeID, data[3 : 3+n], nil
	case 0xc8:
		if len(data) < 4 {
			return 0, nil, fmt.Errorf("dht: ext16 header truncated")
		}
		n := int(binary.BigEndian.Uint16(data[1:3]))
		typeID := int8(data[3])
		if len(data) < 4+n {
			return 0, nil, fmt.Errorf("dht: ext16 body truncated")
		}
		return typeID, data[4 : 4+n], nil
	case 0xc9:
		if len(data) < 6 {
			return 0, nil, fmt.Errorf("dht: ext32 header truncated")
		}
		n := int(binary.BigEndian.Uint32(data[1:5]))
		typeID := int8(data[5])
		if len(data) < 6+n {
			return 0, nil, fmt.Errorf("dht: ext32 body truncated")
		}
		return typeID, data[6 : 6+n], nil
	default:
		return 0, nil, fmt.Errorf("dht: not an ext blob (leading byte 0x%02x)", data[0])
	}
}
