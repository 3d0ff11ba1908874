package resp

import "github.com/valyala/bytebufferpool"

// Codec is a stateful, single-threaded adapter that turns a duplex byte
// stream into a sequence of frames in, frames out. It owns one read buffer
// and one write buffer; it holds no lock, so a Codec must not be shared
// across goroutines. The engine in the root package gives each connection
// its own Codec.
type Codec struct {
	read  []byte
	write *bytebufferpool.ByteBuffer
}

// NewCodec returns a ready-to-use Codec with an empty read buffer and a
// pooled write buffer.
func NewCodec() *Codec {
	return &Codec{write: bytebufferpool.Get()}
}

// Feed appends newly-arrived bytes to the read buffer and decodes as many
// complete frames as are present. It returns the decoded frames (possibly
// none) and, if a malformed frame was encountered, the *ProtocolError that
// should terminate the connection. Any frames already decoded are still
// returned and should be processed before closing.
//
// Bytes belonging to a still-incomplete trailing frame are retained
// internally for the next call to Feed.
func (c *Codec) Feed(data []byte) ([]Frame, error) {
	if len(data) > 0 {
		c.read = append(c.read, data...)
	}

	var frames []Frame
	for len(c.read) > 0 {
		frame, n, err := Decode(c.read)
		if err == ErrIncomplete {
			break
		}
		if err != nil {
			return frames, err
		}
		frames = append(frames, frame)
		c.read = c.read[n:]
	}

	// Compact: once every buffered frame up to the incomplete tail has
	// been consumed, drop the retired prefix so the buffer doesn't grow
	// unbounded across many small reads.
	if len(c.read) > 0 {
		remaining := make([]byte, len(c.read))
		copy(remaining, c.read)
		c.read = remaining
	} else {
		c.read = nil
	}

	return frames, nil
}

// Put appends the wire encoding of f to the write buffer. It does not flush
// to the transport; call Take (or Bytes) to obtain the accumulated bytes.
func (c *Codec) Put(f Frame) {
	c.write.B = appendFrame(c.write.B, f)
}

// Bytes returns the bytes accumulated on the write side since the last
// Take.
func (c *Codec) Bytes() []byte {
	return c.write.B
}

// Take returns the accumulated write-side bytes and resets the write
// buffer, ready for the next batch of responses.
func (c *Codec) Take() []byte {
	if len(c.write.B) == 0 {
		return nil
	}
	out := make([]byte, len(c.write.B))
	copy(out, c.write.B)
	c.write.Reset()
	return out
}

// Close releases the Codec's pooled write buffer. A Codec must not be used
// after Close.
func (c *Codec) Close() {
	if c.write != nil {
		bytebufferpool.Put(c.write)
		c.write = nil
	}
}
