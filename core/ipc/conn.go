package ipc

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
)

// Conn exchanges length-prefixed envelopes over a byte stream. Each frame
// is a 4-byte big-endian length followed by the encoded envelope. Send is
// safe for concurrent use; Receive is not.
type Conn struct {
	codec Codec
	r     *bufio.Reader
	w     io.Writer
	c     io.Closer

	wmu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps rwc.
func NewConn(rwc io.ReadWriteCloser, codec Codec) *Conn {
	return &Conn{
		codec: codec,
		r:     bufio.NewReader(rwc),
		w:     rwc,
		c:     rwc,
	}
}

// pipe joins the read and write ends of a child process or of stdio.
type pipe struct {
	io.ReadCloser
	io.WriteCloser
}

func (p pipe) Close() error {
	werr := p.WriteCloser.Close()
	rerr := p.ReadCloser.Close()
	return errors.Join(werr, rerr)
}

// NewPipeConn builds a Conn from separate read and write ends.
func NewPipeConn(r io.ReadCloser, w io.WriteCloser, codec Codec) *Conn {
	return NewConn(pipe{r, w}, codec)
}

// StdioConn talks to the parent process over stdin and stdout.
func StdioConn(codec Codec) *Conn {
	return NewPipeConn(os.Stdin, os.Stdout, codec)
}

// Dial connects to a coordinator listening on a Unix socket.
func Dial(ctx context.Context, path string, codec Codec) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", path, err)
	}
	return NewConn(nc, codec), nil
}

// Codec returns the connection's codec.
func (c *Conn) Codec() Codec { return c.codec }

// Send writes one envelope.
func (c *Conn) Send(env *Envelope) error {
	data, err := c.codec.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.Type, err)
	}
	if len(data) > MaxFrameBytes {
		return fmt.Errorf("%s envelope exceeds %d byte limit (%d bytes)", env.Type, MaxFrameBytes, len(data))
	}

	frame := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[4:], data)

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.w.Write(frame); err != nil {
		return fmt.Errorf("write %s: %w", env.Type, err)
	}
	return nil
}

// Receive reads and validates the next envelope. It returns io.EOF when
// the peer closed the stream between frames.
func (c *Conn) Receive() (*Envelope, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(c.r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameBytes {
		return nil, fmt.Errorf("frame of %d bytes exceeds %d byte limit", n, MaxFrameBytes)
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(c.r, data); err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}

	var env Envelope
	if err := c.codec.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if err := env.Validate(); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	return &env, nil
}

// isClosed reports whether err means the stream ended or was closed.
func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed)
}

// Close closes the underlying stream. It is safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.c.Close()
	})
	return c.closeErr
}
