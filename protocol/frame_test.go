package protocol

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-http/api"
)

func TestComputeAcceptKeyRFCVector(t *testing.T) {
	assert.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", ComputeAcceptKey("dGhlIHNhbXBsZSBub25jZQ=="))
}

func TestFrameRoundTripLengths(t *testing.T) {
	for _, n := range []int{0, 1, 125, 126, 127, 65535, 65536, 70000} {
		payload := bytes.Repeat([]byte{'x'}, n)
		var buf bytes.Buffer
		require.NoError(t, WriteFrame(&buf, OpBinary, payload, true))

		f, err := ReadFrame(&buf, 0)
		require.NoError(t, err, "length %d", n)
		assert.True(t, f.Fin)
		assert.False(t, f.Masked)
		assert.Equal(t, OpBinary, f.Opcode)
		assert.Equal(t, n, len(f.Payload))
		assert.Zero(t, buf.Len(), "length %d left trailing bytes", n)
	}
}

func TestFrameHeaderSizes(t *testing.T) {
	assert.Len(t, AppendFrame(nil, OpText, make([]byte, 125), true, nil), 2+125)
	assert.Len(t, AppendFrame(nil, OpText, make([]byte, 126), true, nil), 4+126)
	assert.Len(t, AppendFrame(nil, OpText, make([]byte, 65536), true, nil), 10+65536)
}

func TestMaskedFrameIsUnmasked(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMaskedFrame(&buf, OpText, []byte("hello"), true))
	raw := buf.Bytes()
	assert.NotZero(t, raw[1]&maskBit)

	f, err := ReadFrame(&buf, 0)
	require.NoError(t, err)
	assert.True(t, f.Masked)
	assert.Equal(t, "hello", string(f.Payload))
}

func TestReadFrameRejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, OpBinary, make([]byte, 200), true))
	_, err := ReadFrame(&buf, 100)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
	assert.True(t, api.IsKind(err, api.KindProtocolViolation))
}

func TestReadFrameControlRules(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader(AppendFrame(nil, OpPing, nil, false, nil)), 0)
	assert.ErrorIs(t, err, ErrFragmentedControl)

	// hand-built 126-byte ping: extended length on a control frame
	long := AppendFrame(nil, OpBinary, make([]byte, 126), true, nil)
	long[0] = finBit | byte(OpPing)
	_, err = ReadFrame(bytes.NewReader(long), 0)
	assert.ErrorIs(t, err, ErrControlTooLong)
}

func TestReadFrameRejectsReservedBitsAndOpcodes(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{finBit | 0x40 | byte(OpText), 0}), 0)
	assert.ErrorIs(t, err, ErrReservedBits)

	_, err = ReadFrame(bytes.NewReader([]byte{finBit | 0x3, 0}), 0)
	assert.ErrorIs(t, err, ErrUnknownOpcode)
}

func TestReadFrameEOF(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader(nil), 0)
	assert.ErrorIs(t, err, io.EOF)

	full := AppendFrame(nil, OpText, []byte("truncated"), true, nil)
	_, err = ReadFrame(bytes.NewReader(full[:5]), 0)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestClosePayload(t *testing.T) {
	code, reason := ParseClosePayload(closePayload(CloseGoingAway, "bye"))
	assert.Equal(t, CloseGoingAway, code)
	assert.Equal(t, "bye", reason)

	code, _ = ParseClosePayload(nil)
	assert.Equal(t, CloseNoStatusRcvd, code)
	assert.Len(t, closePayload(CloseNormalClosure, string(make([]byte, 300))), MaxControlPayloadLen)
}
