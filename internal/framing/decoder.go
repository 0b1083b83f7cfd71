package framing

import (
	"bytes"
	"encoding/json"

	"github.com/RGBKey/yolodice-api/internal/rpckit"
	"github.com/RGBKey/yolodice-api/pkg/models"
)

const (
	Delimiter            = '\n'
	DefaultMaxFrameBytes = 1 << 20 // 1 MiB
)

// Frame is one newline-terminated unit. Exactly one of Message and Err is
// meaningful.
type Frame struct {
	Raw     []byte
	Message models.Message
	Err     error
}

// Decoder splits a byte stream into frames. It keeps the unterminated tail
// between Feed calls and is not safe for concurrent use.
type Decoder struct {
	buf        []byte
	maxFrame   int
	discarding bool
}

func NewDecoder(maxFrameBytes int) *Decoder {
	if maxFrameBytes <= 0 {
		maxFrameBytes = DefaultMaxFrameBytes
	}
	return &Decoder{maxFrame: maxFrameBytes}
}

// Feed appends chunk and returns every frame it completed, in stream order.
func (d *Decoder) Feed(chunk []byte) []Frame {
	if len(chunk) == 0 {
		return nil
	}
	d.buf = append(d.buf, chunk...)

	var out []Frame
	cursor := 0
	for cursor < len(d.buf) {
		i := bytes.IndexByte(d.buf[cursor:], Delimiter)
		if i < 0 {
			break
		}
		line := d.buf[cursor : cursor+i]
		cursor += i + 1
		if d.discarding {
			d.discarding = false
			continue
		}
		if len(line) > d.maxFrame {
			out = append(out, Frame{
				Raw: cloneBytes(line),
				Err: rpckit.NewProtocolError(line, nil, rpckit.ErrFrameTooLarge),
			})
			continue
		}
		if frame, ok := decodeLine(line); ok {
			out = append(out, frame)
		}
	}

	rest := len(d.buf) - cursor
	switch {
	case rest == 0:
		d.buf = d.buf[:0]
	case d.discarding:
		d.buf = d.buf[:0]
	case rest > d.maxFrame:
		out = append(out, Frame{
			Raw: cloneBytes(d.buf[cursor:]),
			Err: rpckit.NewProtocolError(d.buf[cursor:], nil, rpckit.ErrFrameTooLarge),
		})
		d.discarding = true
		d.buf = d.buf[:0]
	default:
		n := copy(d.buf, d.buf[cursor:])
		d.buf = d.buf[:n]
	}
	return out
}

// Buffered reports how many bytes of an unterminated frame are held.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.discarding = false
}

func decodeLine(line []byte) (Frame, bool) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return Frame{}, false
	}
	raw := cloneBytes(trimmed)
	var msg models.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Frame{Raw: raw, Err: rpckit.NewProtocolError(raw, nil, err)}, true
	}
	return Frame{Raw: raw, Message: msg}, true
}

// Encode serializes v as one frame. JSON string escaping keeps the payload
// free of raw newlines.
func Encode(v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(payload, Delimiter), nil
}

func cloneBytes(b []byte) []byte {
	return append([]byte(nil), b...)
}
