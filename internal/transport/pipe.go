package transport

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Send after either end closes the pipe.
var ErrClosed = errors.New("transport: pipe closed")

// Conn is one end of a bidirectional envelope channel. Sends on one end
// arrive on the other in order.
type Conn struct {
	out    chan<- Envelope
	in     <-chan Envelope
	closed chan struct{}
	once   *sync.Once
}

// Pipe creates a connected host/sandbox pair with the given buffer per
// direction. Closing either end closes both.
func Pipe(buffer int) (host, sandbox *Conn) {
	if buffer <= 0 {
		buffer = 64
	}
	toSandbox := make(chan Envelope, buffer)
	toHost := make(chan Envelope, buffer)
	closed := make(chan struct{})
	once := &sync.Once{}

	host = &Conn{out: toSandbox, in: toHost, closed: closed, once: once}
	sandbox = &Conn{out: toHost, in: toSandbox, closed: closed, once: once}
	return host, sandbox
}

// Send delivers an envelope to the peer. It blocks while the peer's
// buffer is full and fails once the pipe is closed.
func (c *Conn) Send(e Envelope) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	select {
	case c.out <- e:
		return nil
	case <-c.closed:
		return ErrClosed
	}
}

// TrySend delivers an envelope without blocking. It reports false when
// the buffer is full or the pipe is closed.
func (c *Conn) TrySend(e Envelope) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.out <- e:
		return true
	default:
		return false
	}
}

// Recv returns the channel of inbound envelopes. The channel is not
// closed on pipe close; select against Done.
func (c *Conn) Recv() <-chan Envelope {
	return c.in
}

// Done is closed when either end closes the pipe.
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}

// Close tears down both ends. Safe to call more than once.
func (c *Conn) Close() {
	c.once.Do(func() {
		close(c.closed)
	})
}
