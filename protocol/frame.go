// Package protocol
// Author: momentics <momentics@gmail.com>
//
// WebSocket frame decoding and masking.

package protocol

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/momentics/hioload-http/api"
)

var (
	ErrFrameTooLarge      = api.Errorf(api.KindProtocolViolation, "websocket frame", "payload exceeds limit")
	ErrReservedBits       = api.Errorf(api.KindProtocolViolation, "websocket frame", "reserved bits set")
	ErrUnknownOpcode      = api.Errorf(api.KindProtocolViolation, "websocket frame", "unknown opcode")
	ErrFragmentedControl  = api.Errorf(api.KindProtocolViolation, "websocket frame", "fragmented control frame")
	ErrControlTooLong     = api.Errorf(api.KindProtocolViolation, "websocket frame", "control payload over 125 bytes")
	ErrUnexpectedContinue = api.Errorf(api.KindProtocolViolation, "websocket frame", "continuation without a started message")
	ErrInterleavedMessage = api.Errorf(api.KindProtocolViolation, "websocket frame", "new data frame inside a fragmented message")
	ErrInvalidUTF8        = api.Errorf(api.KindProtocolViolation, "websocket frame", "text message is not valid UTF-8")
	ErrUnmaskedFrame      = api.Errorf(api.KindProtocolViolation, "websocket frame", "client frame is not masked")
)

// Frame is a decoded WebSocket frame. Payload is already unmasked.
type Frame struct {
	Fin     bool
	Opcode  Opcode
	Masked  bool
	MaskKey [4]byte
	Payload []byte
}

// ReadFrame reads one frame from r. Payloads longer than maxPayload
// (when > 0) are rejected before any payload byte is read. A clean EOF before
// the first header byte is io.EOF; EOF anywhere later is io.ErrUnexpectedEOF.
func ReadFrame(r io.Reader, maxPayload int64) (*Frame, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}

	f := &Frame{
		Fin:    hdr[0]&finBit != 0,
		Opcode: Opcode(hdr[0] & 0x0F),
		Masked: hdr[1]&maskBit != 0,
	}
	if hdr[0]&rsvBits != 0 {
		return nil, ErrReservedBits
	}
	if !f.Opcode.valid() {
		return nil, ErrUnknownOpcode
	}

	length := uint64(hdr[1] & 0x7F)
	switch length {
	case 126:
		var ext [2]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return nil, unexpected(err)
		}
		length = uint64(binary.BigEndian.Uint16(ext[:]))
	case 127:
		var ext [8]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return nil, unexpected(err)
		}
		length = binary.BigEndian.Uint64(ext[:])
	}

	if f.Opcode.IsControl() {
		if !f.Fin {
			return nil, ErrFragmentedControl
		}
		if length > MaxControlPayloadLen {
			return nil, ErrControlTooLong
		}
	}
	if length > 1<<62 || (maxPayload > 0 && int64(length) > maxPayload) {
		return nil, ErrFrameTooLarge
	}

	if f.Masked {
		if _, err := io.ReadFull(r, f.MaskKey[:]); err != nil {
			return nil, unexpected(err)
		}
	}

	f.Payload = make([]byte, length)
	if _, err := io.ReadFull(r, f.Payload); err != nil {
		return nil, unexpected(err)
	}
	if f.Masked {
		maskInPlace(f.Payload, f.MaskKey)
	}
	return f, nil
}

// frameLen reports the encoded size of the frame at the start of buf, or 0
// when buf does not hold all of it yet. A declared payload over maxPayload
// fails as soon as the length field is complete.
func frameLen(buf []byte, maxPayload int64) (int, error) {
	if len(buf) < 2 {
		return 0, nil
	}
	hdr := 2
	length := uint64(buf[1] & 0x7F)
	switch length {
	case 126:
		hdr += 2
		if len(buf) < hdr {
			return 0, nil
		}
		length = uint64(binary.BigEndian.Uint16(buf[2:4]))
	case 127:
		hdr += 8
		if len(buf) < hdr {
			return 0, nil
		}
		length = binary.BigEndian.Uint64(buf[2:10])
	}
	if length > 1<<62 || (maxPayload > 0 && int64(length) > maxPayload) {
		return 0, ErrFrameTooLarge
	}
	if buf[1]&maskBit != 0 {
		hdr += 4
	}
	total := uint64(hdr) + length
	if uint64(len(buf)) < total {
		return 0, nil
	}
	return int(total), nil
}

// maskInPlace XORs buf with key; masking and unmasking are the same operation.
func maskInPlace(buf []byte, key [4]byte) {
	for i := range buf {
		buf[i] ^= key[i&3]
	}
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
