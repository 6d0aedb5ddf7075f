// Package transport owns the single TCP stream a SIP dialog runs over.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arzzra/sip_bridge/pkg/sip/message"
)

// Direction of a message on the wire
type Direction string

const (
	Inbound  Direction = "in"
	Outbound Direction = "out"
)

// Observer is called for every message sent or received
type Observer func(dir Direction, msg message.Message)

// Config holds connection settings
type Config struct {
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	KeepAlive    time.Duration
	NoDelay      bool

	// ReadBufferSize is the size of a single socket read
	ReadBufferSize int

	Observer Observer
}

// DefaultConfig returns default connection configuration
func DefaultConfig() Config {
	return Config{
		DialTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		KeepAlive:      30 * time.Second,
		NoDelay:        true,
		ReadBufferSize: 8192,
	}
}

// Stats счетчики соединения
type Stats struct {
	MessagesSent     uint64
	MessagesReceived uint64
	BytesSent        uint64
	BytesReceived    uint64
}

// Conn TCP соединение с оператором.
//
// Send безопасен для конкурентного вызова: запись одного сообщения не
// перемежается с другой. ReadMessage должен вызываться из одной горутины.
type Conn struct {
	conn    net.Conn
	parser  *message.Parser
	framer  *message.Framer
	readBuf []byte
	cfg     Config
	writeMu sync.Mutex
	closed  atomic.Bool

	messagesSent     atomic.Uint64
	messagesReceived atomic.Uint64
	bytesSent        atomic.Uint64
	bytesReceived    atomic.Uint64
}

// Dial открывает TCP соединение с ограничением по времени cfg.DialTimeout
func Dial(ctx context.Context, addr string, cfg Config) (*Conn, error) {
	dialer := &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: cfg.KeepAlive,
	}

	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &TransportError{
			Operation: "dial",
			Addr:      addr,
			Err:       fmt.Errorf("%w: %w", ErrConnectionFailed, err),
		}
	}

	return NewConn(netConn, cfg), nil
}

// NewConn оборачивает установленное соединение
func NewConn(netConn net.Conn, cfg Config) *Conn {
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = DefaultConfig().ReadBufferSize
	}

	if tcpConn, ok := netConn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(cfg.NoDelay)
	}

	return &Conn{
		conn:    netConn,
		parser:  message.NewParser(),
		framer:  message.NewFramer(),
		readBuf: make([]byte, cfg.ReadBufferSize),
		cfg:     cfg,
	}
}

func (c *Conn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Send сериализует и записывает сообщение целиком
func (c *Conn) Send(msg message.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return &TransportError{Operation: "write", Err: ErrConnectionClosed}
	}

	data := msg.Bytes()

	if c.cfg.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	if _, err := c.conn.Write(data); err != nil {
		return &TransportError{Operation: "write", Err: c.classify(err, ErrWriteTimeout)}
	}

	c.messagesSent.Add(1)
	c.bytesSent.Add(uint64(len(data)))
	if c.cfg.Observer != nil {
		c.cfg.Observer(Outbound, msg)
	}
	return nil
}

// ReadMessage возвращает следующее сообщение из потока.
//
// timeout ограничивает ожидание всего сообщения, 0 - без ограничения.
// Отмена ctx прерывает ожидание и возвращает ctx.Err().
// Байты следующего сообщения, пришедшие в том же чтении, сохраняются.
func (c *Conn) ReadMessage(ctx context.Context, timeout time.Duration) (message.Message, error) {
	if msg, err := c.nextBuffered(); msg != nil || err != nil {
		return msg, err
	}

	if c.closed.Load() {
		return nil, &TransportError{Operation: "read", Err: ErrConnectionClosed}
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	_ = c.conn.SetReadDeadline(deadline)

	stop := context.AfterFunc(ctx, func() {
		// прерываем блокирующий Read
		_ = c.conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	for {
		n, err := c.conn.Read(c.readBuf)
		if n > 0 {
			c.bytesReceived.Add(uint64(n))
			c.framer.Feed(c.readBuf[:n])
			if msg, ferr := c.nextBuffered(); msg != nil || ferr != nil {
				return msg, ferr
			}
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, &TransportError{Operation: "read", Err: c.classify(err, ErrReadTimeout)}
		}
	}
}

func (c *Conn) nextBuffered() (message.Message, error) {
	data, ok, err := c.framer.Next()
	if err != nil {
		return nil, &TransportError{Operation: "read", Err: fmt.Errorf("%w: %w", ErrMalformedMessage, err)}
	}
	if !ok {
		return nil, nil
	}

	msg, err := c.parser.ParseMessage(data)
	if err != nil {
		return nil, &TransportError{Operation: "read", Err: fmt.Errorf("%w: %w", ErrMalformedMessage, err)}
	}

	c.messagesReceived.Add(1)
	if c.cfg.Observer != nil {
		c.cfg.Observer(Inbound, msg)
	}
	return msg, nil
}

func (c *Conn) classify(err, timeoutErr error) error {
	switch {
	case c.closed.Load():
		return ErrConnectionClosed
	case isTimeout(err):
		return timeoutErr
	case isClosed(err):
		return fmt.Errorf("%w: %v", ErrPeerClosed, err)
	default:
		return err
	}
}

// Close закрывает соединение. Повторный вызов ничего не делает.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// IsClosed returns true if Close was called
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// Stats возвращает счетчики соединения
func (c *Conn) Stats() Stats {
	return Stats{
		MessagesSent:     c.messagesSent.Load(),
		MessagesReceived: c.messagesReceived.Load(),
		BytesSent:        c.bytesSent.Load(),
		BytesReceived:    c.bytesReceived.Load(),
	}
}
