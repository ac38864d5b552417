package frame

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Packet is one Codec message: a type byte and an integer-keyed field map.
type Packet struct {
	Type   uint8
	Fields map[int]any
}

// Uint returns field key as an unsigned integer.
func (p *Packet) Uint(key int) (uint64, bool) {
	switch v := p.Fields[key].(type) {
	case uint64:
		return v, true
	case int64:
		if v >= 0 {
			return uint64(v), true
		}
	case int:
		if v >= 0 {
			return uint64(v), true
		}
	}
	return 0, false
}

// Text returns field key as a string.
func (p *Packet) Text(key int) (string, bool) {
	s, ok := p.Fields[key].(string)
	return s, ok
}

func encodePayload(p *Packet) ([]byte, error) {
	var fields any
	if len(p.Fields) > 0 {
		fields = p.Fields
	}
	return cbor.Marshal([]any{uint64(p.Type), fields})
}

// decodePayload parses a CBOR [type, map|nil] message.
func decodePayload(data []byte) (*Packet, error) {
	var msg []any
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode CBOR: %w", err)
	}
	if len(msg) != 2 {
		return nil, fmt.Errorf("expected 2-element array, got %d elements", len(msg))
	}

	t, ok := msg[0].(uint64)
	if !ok || t > 0xFF {
		return nil, fmt.Errorf("invalid message type %v", msg[0])
	}
	p := &Packet{Type: uint8(t)}

	switch v := msg[1].(type) {
	case nil:
	case map[any]any:
		p.Fields = make(map[int]any, len(v))
		for key, val := range v {
			switch k := key.(type) {
			case uint64:
				p.Fields[int(k)] = val
			case int64:
				p.Fields[int(k)] = val
			default:
				return nil, fmt.Errorf("expected integer map key, got %T", key)
			}
		}
	default:
		return nil, fmt.Errorf("expected map or nil payload, got %T", msg[1])
	}
	return p, nil
}
