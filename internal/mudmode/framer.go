// Package mudmode implements the framed transport used between a MUD and an
// Intermud-3 router: each message is a big-endian u32 length followed by that
// many bytes of LPC text.
package mudmode

import (
	"encoding/binary"
	"fmt"
	"log"

	"github.com/mudnet/i3-gateway/internal/lpc"
)

// DefaultMaxFrameSize bounds a single frame. Routers in the wild never send
// frames anywhere near this; a larger announced length means the stream is
// corrupt.
const DefaultMaxFrameSize = 1 << 20

// FrameError reports a framing-level failure, as opposed to an LPC decode
// failure inside a frame.
type FrameError struct {
	Msg string
}

func (e *FrameError) Error() string { return "mudmode: " + e.Msg }

// Frame encodes v and prepends the u32 length prefix.
func Frame(v lpc.Value) ([]byte, error) {
	payload, err := lpc.Encode(v)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	copy(out[4:], payload)
	return out, nil
}

// Framer reassembles MudMode frames from an arbitrarily-chunked byte stream
// and decodes each complete frame as an LPC value. It is not safe for
// concurrent use; the receive loop owns it.
type Framer struct {
	maxFrame int
	logger   *log.Logger

	buf      []byte
	expected int // -1 when the length prefix has not been read yet

	dropped uint64
}

// NewFramer returns a framer with the default frame-size bound.
func NewFramer() *Framer {
	return &Framer{
		maxFrame: DefaultMaxFrameSize,
		logger:   log.New(log.Writer(), "[MUDMODE] ", log.LstdFlags),
		expected: -1,
	}
}

// SetMaxFrameSize overrides the frame-size bound (gateway.max_packet_size).
func (f *Framer) SetMaxFrameSize(n int) {
	if n > 0 {
		f.maxFrame = n
	}
}

// Feed appends a chunk of bytes from the transport and returns every value
// completed by it, in arrival order. Frames whose payload fails to decode
// are dropped and counted; reading continues with the next frame. A non-nil
// error means the stream itself is corrupt (oversized length prefix) and the
// caller should reset the connection.
func (f *Framer) Feed(chunk []byte) ([]lpc.Value, error) {
	f.buf = append(f.buf, chunk...)

	var out []lpc.Value
	for {
		if f.expected < 0 {
			if len(f.buf) < 4 {
				return out, nil
			}
			n := binary.BigEndian.Uint32(f.buf)
			f.buf = f.buf[4:]
			if int(n) > f.maxFrame {
				f.Reset()
				return out, &FrameError{Msg: fmt.Sprintf("frame length %d exceeds limit %d", n, f.maxFrame)}
			}
			f.expected = int(n)
		}
		if len(f.buf) < f.expected {
			return out, nil
		}
		payload := f.buf[:f.expected:f.expected]
		f.buf = f.buf[f.expected:]
		f.expected = -1

		v, err := lpc.Decode(payload)
		if err != nil {
			f.dropped++
			f.logger.Printf("dropping undecodable frame (%d bytes): %v", len(payload), err)
			continue
		}
		out = append(out, v)
	}
}

// Reset discards all buffered bytes and any partially-read length prefix.
// Must be called whenever the underlying connection is re-established.
func (f *Framer) Reset() {
	f.buf = nil
	f.expected = -1
}

// Dropped returns the count of frames discarded due to decode failures.
func (f *Framer) Dropped() uint64 { return f.dropped }
