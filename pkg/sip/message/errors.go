package message

import "errors"

// Start line errors returned by Parser
var (
	ErrInvalidMessage     = errors.New("invalid SIP message")
	ErrInvalidRequestLine = errors.New("invalid request line")
	ErrInvalidStatusLine  = errors.New("invalid status line")
	ErrInvalidSIPVersion  = errors.New("unsupported SIP version")
	ErrInvalidStatusCode  = errors.New("invalid status code")
	ErrInvalidURI         = errors.New("invalid SIP URI")
)

// Stream framing errors returned by Framer. After one of these the stream
// cannot be resynchronized and the connection must be dropped.
var (
	ErrInvalidContentLength = errors.New("invalid Content-Length")
	ErrMessageTooLarge      = errors.New("message exceeds size limit")
	ErrHeaderTooLarge       = errors.New("header section exceeds size limit")
)

// ErrMissingHeader is returned by the builder when a mandatory header is
// absent
var ErrMissingHeader = errors.New("missing required header")
