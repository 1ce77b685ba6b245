package ipc

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeInvokeRequest(t *testing.T) {
	req := &InvokeRequestFrame{
		Code: "return a + b", Method: "run", Args: []any{int64(1), int64(2)},
		CallerID: "alice", ArtifactID: "art:1", DeadlineMS: 5000,
	}
	framed, err := EncodeInvokeRequest(req)
	require.NoError(t, err)

	dec := NewFrameDecoder(bytes.NewReader(framed))
	payload, err := dec.ReadFrame()
	require.NoError(t, err)

	got, err := DecodeInvokeRequest(payload)
	require.NoError(t, err)
	assert.Equal(t, req.Code, got.Code)
	assert.Equal(t, req.CallerID, got.CallerID)
	assert.Equal(t, req.ArtifactID, got.ArtifactID)
	assert.Equal(t, req.DeadlineMS, got.DeadlineMS)
}

func TestEncodeDecodeInvokeResponse(t *testing.T) {
	resp := &InvokeResponseFrame{Success: true, Value: int64(3), CPUSeconds: 0.01, WallSeconds: 0.02}
	framed, err := EncodeInvokeResponse(resp)
	require.NoError(t, err)

	dec := NewFrameDecoder(bytes.NewReader(framed))
	payload, err := dec.ReadFrame()
	require.NoError(t, err)

	got, err := DecodeInvokeResponse(payload)
	require.NoError(t, err)
	assert.True(t, got.Success)
	assert.EqualValues(t, 3, got.Value)
}

func TestReadFrameEOF(t *testing.T) {
	dec := NewFrameDecoder(bytes.NewReader(nil))
	_, err := dec.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFramePartial(t *testing.T) {
	dec := NewFrameDecoder(bytes.NewReader([]byte{0, 0, 0}))
	_, err := dec.ReadFrame()
	var fe *FrameError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, FrameErrorPartial, fe.Kind)
	assert.True(t, fe.IsFatal())
	assert.True(t, IsFatalFrameError(err))
}

func TestReadFrameTooLarge(t *testing.T) {
	oversized := make([]byte, LengthPrefixSize)
	// Encode a payload size larger than MaxPayloadSize.
	oversized[0] = 0xFF
	oversized[1] = 0xFF
	oversized[2] = 0xFF
	oversized[3] = 0xFF
	dec := NewFrameDecoder(bytes.NewReader(oversized))
	_, err := dec.ReadFrame()
	var fe *FrameError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, FrameErrorTooLarge, fe.Kind)
	assert.True(t, IsFatalFrameError(err))
}

func TestDecodeInvokeRequestMalformed(t *testing.T) {
	_, err := DecodeInvokeRequest([]byte{0xFF, 0xFF, 0xFF})
	var fe *FrameError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, FrameErrorDecode, fe.Kind)
	assert.False(t, fe.IsFatal())
}

func TestMultipleFramesOnOneStream(t *testing.T) {
	var buf bytes.Buffer
	for i := 0; i < 3; i++ {
		framed, err := EncodeInvokeRequest(&InvokeRequestFrame{ArtifactID: "art"})
		require.NoError(t, err)
		buf.Write(framed)
	}
	dec := NewFrameDecoder(&buf)
	for i := 0; i < 3; i++ {
		_, err := dec.ReadFrame()
		require.NoError(t, err)
	}
	_, err := dec.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
}
