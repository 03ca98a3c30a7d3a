package qlink

import (
	"bytes"
	"strings"
)

// inboundFrame is one line taken off the wire. Oversized frames carry no
// text; they were dropped for exceeding the frame limit.
type inboundFrame struct {
	Text      string
	Oversized bool
}

/*
lineBuffer reassembles newline-terminated frames from arbitrary read
chunks. Bytes without a terminator are kept until the next chunk, or until
the session flushes them after an idle period. A frame that grows past max
bytes is reported once as oversized and the rest of it, up to the next
newline, is discarded.
*/
type lineBuffer struct {
	buf        []byte
	max        int
	discarding bool
}

func newLineBuffer(max int) *lineBuffer {
	return &lineBuffer{max: max}
}

// feed appends chunk and returns every frame it completed, in order.
func (b *lineBuffer) feed(chunk []byte) []inboundFrame {
	b.buf = append(b.buf, chunk...)

	var frames []inboundFrame
	start := 0

	for {
		i := bytes.IndexByte(b.buf[start:], '\n')
		if i < 0 {
			break
		}
		end := start + i

		switch {
		case b.discarding:
			b.discarding = false
		case end-start > b.max:
			frames = append(frames, inboundFrame{Oversized: true})
		default:
			if text := strings.TrimRight(string(b.buf[start:end]), "\r"); text != "" {
				frames = append(frames, inboundFrame{Text: text})
			}
		}
		start = end + 1
	}

	b.buf = append(b.buf[:0], b.buf[start:]...)

	if len(b.buf) > b.max {
		if !b.discarding {
			frames = append(frames, inboundFrame{Oversized: true})
			b.discarding = true
		}
		b.buf = b.buf[:0]
	}

	return frames
}

// pending reports whether an unterminated frame is waiting.
func (b *lineBuffer) pending() bool {
	return len(b.buf) > 0 || b.discarding
}

// flush hands out the unterminated tail as a frame and resets the buffer.
func (b *lineBuffer) flush() (inboundFrame, bool) {
	defer func() {
		b.buf = b.buf[:0]
		b.discarding = false
	}()

	if b.discarding {
		return inboundFrame{}, false
	}
	text := strings.TrimRight(string(b.buf), "\r")
	if text == "" {
		return inboundFrame{}, false
	}
	return inboundFrame{Text: text}, true
}
