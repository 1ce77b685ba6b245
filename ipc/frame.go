// Package ipc implements the length-prefixed msgpack framing used to
// talk to a process-isolated sandbox executor over stdin/stdout. The
// in-process yaegi executor (sandbox.YaegiExecutor) never needs this;
// it exists for deployments that swap in sandbox.SubprocessExecutor,
// per the sandbox isolation Open Question in SPEC_FULL.md §7.
package ipc

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Frame size constants. A sandboxed artifact's args/result are expected
// to be small; the limit exists to bound a misbehaving child process,
// not to support bulk transfer.
const (
	// MaxFrameSize is the maximum frame size (4 MiB), including the
	// length prefix.
	MaxFrameSize = 4 * 1024 * 1024
	// MaxPayloadSize is the maximum payload size (MaxFrameSize minus the
	// length prefix).
	MaxPayloadSize = MaxFrameSize - LengthPrefixSize
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4
)

// InvokeRequestFrame is the wire shape sent to a subprocess sandbox:
// everything sandbox.Request carries that can cross a process boundary.
// Dependencies and the kernel capability are function-valued and
// therefore not transmitted — a subprocess executor documents that it
// does not support dependency composition or in-sandbox read/write, and
// returns an error for a request that carries dependencies.
type InvokeRequestFrame struct {
	Code       string `msgpack:"code"`
	Method     string `msgpack:"method"`
	Args       []any  `msgpack:"args"`
	CallerID   string `msgpack:"caller_id"`
	ArtifactID string `msgpack:"artifact_id"`
	DeadlineMS int64  `msgpack:"deadline_ms"`
}

// InvokeResponseFrame is the wire shape a subprocess sandbox returns.
type InvokeResponseFrame struct {
	Success     bool    `msgpack:"success"`
	Value       any     `msgpack:"value,omitempty"`
	Err         string  `msgpack:"error,omitempty"`
	CPUSeconds  float64 `msgpack:"cpu_seconds"`
	MemoryBytes int64   `msgpack:"memory_bytes"`
	WallSeconds float64 `msgpack:"wall_seconds"`
}

// FrameErrorKind classifies frame decoding errors.
type FrameErrorKind int

const (
	// FrameErrorPartial indicates a truncated or incomplete frame.
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorTooLarge indicates a frame exceeding MaxFrameSize.
	FrameErrorTooLarge
	// FrameErrorDecode indicates a msgpack decoding error.
	FrameErrorDecode
)

// FrameError represents a frame decoding error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error { return e.Err }

// IsFatal reports whether this error should terminate the sandbox
// connection rather than be treated as one failed invocation. Partial
// reads and oversized frames leave the stream desynchronized; a decode
// error on an otherwise well-framed payload does not.
func (e *FrameError) IsFatal() bool {
	return e.Kind == FrameErrorPartial || e.Kind == FrameErrorTooLarge
}

// IsFatalFrameError reports whether err is a fatal *FrameError.
func IsFatalFrameError(err error) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.IsFatal()
	}
	return false
}

// FrameDecoder decodes length-prefixed msgpack frames from a stream.
type FrameDecoder struct {
	reader io.Reader
}

// NewFrameDecoder wraps r with a bufio.Reader (unless it already is
// one) to reduce syscall overhead reading from a child process pipe.
func NewFrameDecoder(r io.Reader) *FrameDecoder {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &FrameDecoder{reader: br}
}

// ReadFrame reads one frame and returns its raw msgpack payload.
//
// Errors:
//   - io.EOF: stream ended cleanly (no more frames)
//   - *FrameError{Kind: FrameErrorPartial}: incomplete frame (fatal)
//   - *FrameError{Kind: FrameErrorTooLarge}: frame exceeds the limit (fatal)
func (d *FrameDecoder) ReadFrame() ([]byte, error) {
	var lengthBuf [LengthPrefixSize]byte
	if _, err := io.ReadFull(d.reader, lengthBuf[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &FrameError{Kind: FrameErrorPartial, Msg: "failed to read length prefix", Err: err}
	}

	payloadSize := binary.BigEndian.Uint32(lengthBuf[:])
	if payloadSize > MaxPayloadSize {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", payloadSize, MaxPayloadSize),
		}
	}

	payload := make([]byte, payloadSize)
	if _, err := io.ReadFull(d.reader, payload); err != nil {
		return nil, &FrameError{Kind: FrameErrorPartial, Msg: "failed to read payload", Err: err}
	}
	return payload, nil
}

// EncodeFrame prefixes payload with its 4-byte big-endian length.
func EncodeFrame(payload []byte) []byte {
	buf := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf[:LengthPrefixSize], uint32(len(payload)))
	copy(buf[LengthPrefixSize:], payload)
	return buf
}

// EncodeInvokeRequest encodes req as a length-prefixed msgpack frame.
func EncodeInvokeRequest(req *InvokeRequestFrame) ([]byte, error) {
	payload, err := msgpack.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("ipc: encode invoke request: %w", err)
	}
	return EncodeFrame(payload), nil
}

// DecodeInvokeRequest decodes a raw payload as an InvokeRequestFrame.
func DecodeInvokeRequest(payload []byte) (*InvokeRequestFrame, error) {
	var req InvokeRequestFrame
	if err := msgpack.Unmarshal(payload, &req); err != nil {
		return nil, &FrameError{Kind: FrameErrorDecode, Msg: "failed to decode invoke request", Err: err}
	}
	return &req, nil
}

// EncodeInvokeResponse encodes resp as a length-prefixed msgpack frame.
func EncodeInvokeResponse(resp *InvokeResponseFrame) ([]byte, error) {
	payload, err := msgpack.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("ipc: encode invoke response: %w", err)
	}
	return EncodeFrame(payload), nil
}

// DecodeInvokeResponse decodes a raw payload as an InvokeResponseFrame.
func DecodeInvokeResponse(payload []byte) (*InvokeResponseFrame, error) {
	var resp InvokeResponseFrame
	if err := msgpack.Unmarshal(payload, &resp); err != nil {
		return nil, &FrameError{Kind: FrameErrorDecode, Msg: "failed to decode invoke response", Err: err}
	}
	return &resp, nil
}
