package message

import (
	"bytes"
	"fmt"
	"strconv"
)

// Framer splits a SIP byte stream into complete messages.
//
// On stream transports a message ends Content-Length bytes after the blank
// line closing its header block. Bytes past the end of one message are kept
// for the next call to Next.
type Framer struct {
	buf     []byte
	maxSize int
}

// NewFramer creates a framer accepting messages up to the parser limit
func NewFramer() *Framer {
	return &Framer{maxSize: maxMessageSize}
}

// Feed appends received bytes
func (f *Framer) Feed(p []byte) {
	f.buf = append(f.buf, p...)
}

// Buffered returns the number of bytes waiting for a complete message
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Next returns the next complete message. ok is false when more bytes are
// needed. The returned slice is owned by the caller.
func (f *Framer) Next() (msg []byte, ok bool, err error) {
	f.skipKeepAlive()
	if len(f.buf) == 0 {
		return nil, false, nil
	}

	headerEnd, sepLen := findHeaderEnd(f.buf)
	if headerEnd < 0 {
		if len(f.buf) > f.maxSize {
			return nil, false, ErrHeaderTooLarge
		}
		return nil, false, nil
	}

	contentLength, err := scanContentLength(f.buf[:headerEnd])
	if err != nil {
		return nil, false, err
	}

	total := headerEnd + sepLen + contentLength
	if total > f.maxSize {
		return nil, false, ErrMessageTooLarge
	}
	if len(f.buf) < total {
		return nil, false, nil
	}

	msg = make([]byte, total)
	copy(msg, f.buf[:total])
	f.buf = append(f.buf[:0], f.buf[total:]...)

	return msg, true, nil
}

// skipKeepAlive drops CRLF keep-alives and stray blank lines between messages
func (f *Framer) skipKeepAlive() {
	i := 0
	for i < len(f.buf) && (f.buf[i] == '\r' || f.buf[i] == '\n') {
		i++
	}
	if i > 0 {
		f.buf = append(f.buf[:0], f.buf[i:]...)
	}
}

// findHeaderEnd returns the offset of the blank line and its length
func findHeaderEnd(data []byte) (int, int) {
	crlf := bytes.Index(data, []byte("\r\n\r\n"))
	lf := bytes.Index(data, []byte("\n\n"))
	switch {
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return crlf, 4
	case lf >= 0:
		return lf, 2
	default:
		return -1, 0
	}
}

// scanContentLength reads Content-Length (or compact "l") from a header block.
// A missing header means an empty body.
func scanContentLength(header []byte) (int, error) {
	for _, line := range bytes.Split(header, []byte("\n")) {
		colon := bytes.IndexByte(line, ':')
		if colon < 0 {
			continue
		}
		name := string(bytes.TrimSpace(line[:colon]))
		if normalizeHeaderName(name) != "content-length" {
			continue
		}
		value := string(bytes.TrimSpace(line[colon+1:]))
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidContentLength, value)
		}
		return n, nil
	}
	return 0, nil
}
