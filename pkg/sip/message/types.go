package message

import (
	"fmt"
	"strings"
)

// Message is the common interface for SIP requests and responses
type Message interface {
	// IsRequest returns true if this is a request
	IsRequest() bool

	// GetHeader returns the first value of a header
	GetHeader(name string) string

	// GetHeaders returns all values of a header
	GetHeaders(name string) []string

	// Body returns the message body
	Body() []byte

	// Bytes returns the wire representation
	Bytes() []byte

	// String returns the string representation
	String() string
}

// Request represents a SIP request
type Request struct {
	Method     string
	RequestURI *URI
	Headers    *Headers
	body       []byte
}

// Response represents a SIP response
type Response struct {
	StatusCode   int
	ReasonPhrase string
	Headers      *Headers
	body         []byte
}

// Headers manages SIP headers with case-insensitive names.
// Serialization follows insertion order of the first value of every name.
type Headers struct {
	headers map[string][]string // Normalized name -> values
	order   []string            // Original names in insertion order
}

// NewHeaders creates a new Headers instance
func NewHeaders() *Headers {
	return &Headers{
		headers: make(map[string][]string),
		order:   make([]string, 0, 16),
	}
}

// normalizeHeaderName maps compact forms and case to a canonical lookup key
func normalizeHeaderName(name string) string {
	switch strings.ToLower(name) {
	case "i":
		return "call-id"
	case "m":
		return "contact"
	case "f":
		return "from"
	case "t":
		return "to"
	case "v":
		return "via"
	case "c":
		return "content-type"
	case "l":
		return "content-length"
	default:
		return strings.ToLower(name)
	}
}

// Get returns the first value of a header
func (h *Headers) Get(name string) string {
	values := h.GetAll(name)
	if len(values) > 0 {
		return values[0]
	}
	return ""
}

// GetAll returns all values of a header
func (h *Headers) GetAll(name string) []string {
	return h.headers[normalizeHeaderName(name)]
}

// Has reports whether at least one value is present
func (h *Headers) Has(name string) bool {
	_, ok := h.headers[normalizeHeaderName(name)]
	return ok
}

// Set sets a header value (replaces existing)
func (h *Headers) Set(name, value string) {
	normalized := normalizeHeaderName(name)

	if _, exists := h.headers[normalized]; !exists {
		h.order = append(h.order, name)
	}
	h.headers[normalized] = []string{value}
}

// Add adds a header value (appends to existing)
func (h *Headers) Add(name, value string) {
	normalized := normalizeHeaderName(name)

	if _, exists := h.headers[normalized]; !exists {
		h.order = append(h.order, name)
	}
	h.headers[normalized] = append(h.headers[normalized], value)
}

// Remove removes all values of a header
func (h *Headers) Remove(name string) {
	normalized := normalizeHeaderName(name)
	if _, exists := h.headers[normalized]; !exists {
		return
	}
	delete(h.headers, normalized)

	newOrder := make([]string, 0, len(h.order))
	for _, n := range h.order {
		if normalizeHeaderName(n) != normalized {
			newOrder = append(newOrder, n)
		}
	}
	h.order = newOrder
}

// Len returns the number of distinct header names
func (h *Headers) Len() int {
	return len(h.order)
}

func (h *Headers) writeTo(sb *strings.Builder) {
	for _, name := range h.order {
		for _, value := range h.headers[normalizeHeaderName(name)] {
			sb.WriteString(name)
			sb.WriteString(": ")
			sb.WriteString(value)
			sb.WriteString("\r\n")
		}
	}
}

// Request methods

// IsRequest returns true
func (r *Request) IsRequest() bool {
	return true
}

// GetHeader returns the first value of a header
func (r *Request) GetHeader(name string) string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get(name)
}

// GetHeaders returns all values of a header
func (r *Request) GetHeaders(name string) []string {
	if r.Headers == nil {
		return nil
	}
	return r.Headers.GetAll(name)
}

// Body returns the message body
func (r *Request) Body() []byte {
	return r.body
}

// Bytes returns the wire representation
func (r *Request) Bytes() []byte {
	return []byte(r.String())
}

// String returns the string representation
func (r *Request) String() string {
	var sb strings.Builder

	uri := ""
	if r.RequestURI != nil {
		uri = r.RequestURI.String()
	}
	fmt.Fprintf(&sb, "%s %s SIP/2.0\r\n", r.Method, uri)

	if r.Headers != nil {
		r.Headers.writeTo(&sb)
	}
	sb.WriteString("\r\n")
	sb.Write(r.body)

	return sb.String()
}

// Response methods

// IsRequest returns false
func (r *Response) IsRequest() bool {
	return false
}

// GetHeader returns the first value of a header
func (r *Response) GetHeader(name string) string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get(name)
}

// GetHeaders returns all values of a header
func (r *Response) GetHeaders(name string) []string {
	if r.Headers == nil {
		return nil
	}
	return r.Headers.GetAll(name)
}

// Body returns the message body
func (r *Response) Body() []byte {
	return r.body
}

// Bytes returns the wire representation
func (r *Response) Bytes() []byte {
	return []byte(r.String())
}

// String returns the string representation
func (r *Response) String() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "SIP/2.0 %d %s\r\n", r.StatusCode, r.ReasonPhrase)

	if r.Headers != nil {
		r.Headers.writeTo(&sb)
	}
	sb.WriteString("\r\n")
	sb.Write(r.body)

	return sb.String()
}

// IsProvisional reports a 1xx status
func (r *Response) IsProvisional() bool {
	return r.StatusCode >= 100 && r.StatusCode < 200
}

// IsSuccess reports a 2xx status
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// IsChallenge reports a 401 or 407 status
func (r *Response) IsChallenge() bool {
	return r.StatusCode == 401 || r.StatusCode == 407
}

// CSeq returns the parsed CSeq header
func (r *Response) CSeq() (uint32, string, error) {
	return ParseCSeq(r.GetHeader("CSeq"))
}
