// Package frame provides framers for seriallink connections.
//
// Lines splits a byte stream on a delimiter, the usual format of
// instruments that print text records (default "\r\n").
//
// Codec implements a binary packet format: each packet is
//
//	START | stuffed(len | CBOR [type, {int: value}] | CRC16) | END
//
// where START, END and ESC bytes inside the body are escaped as
// ESC, b^0x20 and the CRC is CRC-16/CCITT-FALSE, big-endian, over the
// length byte and the CBOR payload.
//
// Both framers copy fed bytes, so the receive buffer may be reused.
package frame
