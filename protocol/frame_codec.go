// File: protocol/frame_codec.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Frame encoding. Servers send unmasked frames; the masked variant exists for
// client-role peers.

package protocol

import (
	"crypto/rand"
	"encoding/binary"
	"io"
)

// AppendFrame appends one encoded frame to dst. A nil maskKey produces an
// unmasked frame.
func AppendFrame(dst []byte, op Opcode, payload []byte, fin bool, maskKey *[4]byte) []byte {
	b0 := byte(op) & 0x0F
	if fin {
		b0 |= finBit
	}
	var mb byte
	if maskKey != nil {
		mb = maskBit
	}

	n := len(payload)
	switch {
	case n <= 125:
		dst = append(dst, b0, byte(n)|mb)
	case n <= 0xFFFF:
		dst = append(dst, b0, 126|mb)
		dst = binary.BigEndian.AppendUint16(dst, uint16(n))
	default:
		dst = append(dst, b0, 127|mb)
		dst = binary.BigEndian.AppendUint64(dst, uint64(n))
	}

	if maskKey == nil {
		return append(dst, payload...)
	}
	dst = append(dst, maskKey[:]...)
	start := len(dst)
	dst = append(dst, payload...)
	maskInPlace(dst[start:], *maskKey)
	return dst
}

// WriteFrame writes a single unmasked frame.
func WriteFrame(w io.Writer, op Opcode, payload []byte, fin bool) error {
	buf := AppendFrame(make([]byte, 0, len(payload)+MaxFrameHeaderLen), op, payload, fin, nil)
	_, err := w.Write(buf)
	return err
}

// WriteMaskedFrame writes a single frame masked with a fresh random key.
func WriteMaskedFrame(w io.Writer, op Opcode, payload []byte, fin bool) error {
	var key [4]byte
	if _, err := rand.Read(key[:]); err != nil {
		return err
	}
	buf := AppendFrame(make([]byte, 0, len(payload)+MaxFrameHeaderLen), op, payload, fin, &key)
	_, err := w.Write(buf)
	return err
}

// closePayload encodes a close code and reason, truncating the reason so the
// payload fits a control frame.
func closePayload(code int, reason string) []byte {
	if code == 0 || code == CloseNoStatusRcvd {
		return nil
	}
	if len(reason) > MaxControlPayloadLen-2 {
		reason = reason[:MaxControlPayloadLen-2]
	}
	b := binary.BigEndian.AppendUint16(make([]byte, 0, 2+len(reason)), uint16(code))
	return append(b, reason...)
}

// ParseClosePayload splits a close frame payload into code and reason. An
// empty payload reports CloseNoStatusRcvd.
func ParseClosePayload(p []byte) (int, string) {
	if len(p) < 2 {
		return CloseNoStatusRcvd, ""
	}
	return int(binary.BigEndian.Uint16(p)), string(p[2:])
}
