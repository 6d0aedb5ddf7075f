package transport

import (
	"errors"
	"io"
	"net"
)

var (
	// ErrConnectionClosed is returned when operation is attempted on a locally closed connection
	ErrConnectionClosed = errors.New("connection closed")

	// ErrPeerClosed is returned when the remote side closed the stream
	ErrPeerClosed = errors.New("connection closed by peer")

	// ErrConnectionFailed is returned when connection cannot be established
	ErrConnectionFailed = errors.New("connection failed")

	// ErrReadTimeout is returned when no complete message arrived in time
	ErrReadTimeout = errors.New("read timeout")

	// ErrWriteTimeout is returned when write operation times out
	ErrWriteTimeout = errors.New("write timeout")

	// ErrMalformedMessage is returned when a framed message cannot be parsed
	ErrMalformedMessage = errors.New("malformed SIP message")
)

// TransportError ошибка транспорта
type TransportError struct {
	Operation string
	Addr      string
	Err       error
}

func (e *TransportError) Error() string {
	msg := "tcp " + e.Operation
	if e.Addr != "" {
		msg += " " + e.Addr
	}
	return msg + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// isTimeout checks if error is a timeout
func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isClosed reports errors meaning the stream is gone
func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed)
}
