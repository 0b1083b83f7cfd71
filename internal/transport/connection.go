package transport

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/RGBKey/yolodice-api/internal/rpckit"
)

const (
	defaultReadBufferSize = 32 * 1024
	defaultQueueSize      = 256
)

// Handler receives everything read from one link. All calls come from the
// link's single reader goroutine, so OnData sees bytes in arrival order and
// OnClosed is the last call. chunk is only valid for the duration of OnData.
type Handler interface {
	OnData(chunk []byte)
	OnClosed(err error)
}

type Options struct {
	WriteTimeout   time.Duration
	ReadBufferSize int
	QueueSize      int
	Logger         *slog.Logger
}

// Connection pumps frames over a net.Conn. Outbound frames are written by a
// single writer goroutine, one Write per frame, in Send order.
type Connection struct {
	conn    net.Conn
	handler Handler
	opts    Options
	logger  *slog.Logger

	outgoing chan []byte
	done     chan struct{}
	finished chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

// Open starts the read and write pumps on conn.
func Open(conn net.Conn, handler Handler, opts Options) *Connection {
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = defaultReadBufferSize
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Connection{
		conn:     conn,
		handler:  handler,
		opts:     opts,
		logger:   logger,
		outgoing: make(chan []byte, opts.QueueSize),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	go c.readPump()
	go c.writePump()
	return c
}

// Send queues one encoded frame. It blocks while the queue is full and
// fails once the link is closed.
func (c *Connection) Send(frame []byte) error {
	select {
	case <-c.done:
		return c.Err()
	default:
	}
	select {
	case c.outgoing <- frame:
		return nil
	case <-c.done:
		return c.Err()
	}
}

// Close shuts the link down. The handler later sees OnClosed(rpckit.ErrClosed).
func (c *Connection) Close() error {
	c.shutdown(rpckit.ErrClosed)
	return nil
}

// Done is closed as soon as the link starts shutting down.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Finished is closed after the handler's OnClosed has returned.
func (c *Connection) Finished() <-chan struct{} { return c.finished }

// Err is the reason the link closed, or nil while it is open.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Connection) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (c *Connection) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = cause
		c.mu.Unlock()
		close(c.done)
		if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			c.logger.Debug("close link", "error", err)
		}
	})
}

func (c *Connection) readPump() {
	defer close(c.finished)
	buf := make([]byte, c.opts.ReadBufferSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.handler.OnData(buf[:n])
		}
		if err != nil {
			c.shutdown(&rpckit.TransportError{Op: "read", Err: err})
			break
		}
	}
	c.handler.OnClosed(c.Err())
}

func (c *Connection) writePump() {
	for {
		select {
		case frame := <-c.outgoing:
			if c.opts.WriteTimeout > 0 {
				_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			}
			if _, err := c.conn.Write(frame); err != nil {
				c.shutdown(&rpckit.TransportError{Op: "write", Err: err})
				return
			}
		case <-c.done:
			return
		}
	}
}
