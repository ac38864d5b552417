package frame

import (
	"fmt"

	"github.com/sigurn/crc16"
)

// Framing bytes.
const (
	StartByte = 0x7E
	EndByte   = 0x7F
	EscByte   = 0x7D
	EscXor    = 0x20
)

const (
	// MaxPayloadSize is the largest CBOR payload a length byte can describe.
	MaxPayloadSize = 0xFF

	// MaxPacketSize is the worst-case wire size: every body byte stuffed.
	MaxPacketSize = 2 + 2*(1+MaxPayloadSize+2)
)

var crcTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

// Checksum computes CRC-16/CCITT-FALSE over data.
func Checksum(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}

const (
	stateIdle = iota
	stateLength
	statePayload
	stateCRC1
	stateCRC2
	stateEnd
)

// Codec is a byte-stuffed CBOR packet framer. Corrupt packets are dropped;
// OnError, if set, is told why.
type Codec struct {
	OnError func(error)

	state   int
	escape  bool
	length  int
	body    []byte
	ready   []*Packet
	dropped uint64
}

// NewCodec returns an idle packet framer.
func NewCodec() *Codec {
	return &Codec{body: make([]byte, 0, 1+MaxPayloadSize+2)}
}

// Feed runs chunk through the decoder, queueing every completed packet.
func (c *Codec) Feed(chunk []byte) {
	for _, b := range chunk {
		c.decodeByte(b)
	}
}

// Next pops the oldest decoded packet.
func (c *Codec) Next() (*Packet, bool) {
	if len(c.ready) == 0 {
		return nil, false
	}
	p := c.ready[0]
	c.ready[0] = nil
	c.ready = c.ready[1:]
	return p, true
}

// Dropped returns the number of discarded malformed packets.
func (c *Codec) Dropped() uint64 {
	return c.dropped
}

// MaxFrameSize reports MaxPacketSize.
func (c *Codec) MaxFrameSize() int {
	return MaxPacketSize
}

// Reset returns the decoder to idle and discards queued packets.
func (c *Codec) Reset() {
	c.reset()
	c.ready = nil
}

func (c *Codec) reset() {
	c.state = stateIdle
	c.escape = false
	c.length = 0
	c.body = c.body[:0]
}

func (c *Codec) fail(err error) {
	c.dropped++
	c.reset()
	if c.OnError != nil {
		c.OnError(err)
	}
}

func (c *Codec) decodeByte(b byte) {
	if c.escape {
		b ^= EscXor
		c.escape = false
	} else {
		switch b {
		case StartByte:
			c.reset()
			c.state = stateLength
			return
		case EndByte:
			c.finish()
			return
		case EscByte:
			if c.state != stateIdle {
				c.escape = true
			}
			return
		}
	}

	switch c.state {
	case stateIdle:
		// Waiting for START
	case stateLength:
		if b == 0 {
			c.fail(fmt.Errorf("invalid length: 0"))
			return
		}
		c.length = int(b)
		c.body = append(c.body, b)
		c.state = statePayload
	case statePayload:
		c.body = append(c.body, b)
		if len(c.body) == 1+c.length {
			c.state = stateCRC1
		}
	case stateCRC1:
		c.body = append(c.body, b)
		c.state = stateCRC2
	case stateCRC2:
		c.body = append(c.body, b)
		c.state = stateEnd
	case stateEnd:
		c.fail(fmt.Errorf("expected END byte, got 0x%02X", b))
	}
}

func (c *Codec) finish() {
	if c.state != stateEnd {
		if c.state != stateIdle {
			c.fail(fmt.Errorf("unexpected END byte in state %d", c.state))
		}
		return
	}

	data := c.body[:1+c.length]
	got := uint16(c.body[1+c.length])<<8 | uint16(c.body[2+c.length])
	if want := Checksum(data); got != want {
		c.fail(fmt.Errorf("CRC mismatch: expected 0x%04X, got 0x%04X", want, got))
		return
	}

	p, err := decodePayload(data[1:])
	if err != nil {
		c.fail(err)
		return
	}
	c.ready = append(c.ready, p)
	c.reset()
}

// Serialize encodes p to wire format. It does not touch decoder state.
func (c *Codec) Serialize(p *Packet) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("nil packet")
	}
	payload, err := encodePayload(p)
	if err != nil {
		return nil, fmt.Errorf("encode CBOR payload: %w", err)
	}
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("CBOR payload too large: %d bytes (max %d)", len(payload), MaxPayloadSize)
	}

	body := make([]byte, 0, 1+len(payload)+2)
	body = append(body, byte(len(payload)))
	body = append(body, payload...)
	crc := Checksum(body)
	body = append(body, byte(crc>>8), byte(crc))

	out := make([]byte, 0, 2*len(body)+2)
	out = append(out, StartByte)
	for _, b := range body {
		if b == StartByte || b == EndByte || b == EscByte {
			out = append(out, EscByte, b^EscXor)
		} else {
			out = append(out, b)
		}
	}
	return append(out, EndByte), nil
}
