package message

import (
	"fmt"
	"strconv"
	"strings"
)

// Default header values for requests sent by the bridge
const (
	DefaultMaxForwards = 70
	DefaultSupported   = "100rel, timer"
	DefaultAllow       = "INVITE, ACK, CANCEL, BYE, OPTIONS, UPDATE"
	ContentTypeSDP     = "application/sdp"
)

type headerField struct {
	name  string
	value string
}

// RequestBuilder helps build SIP requests.
//
// Setters may be called in any order. Build always emits headers in the same
// order: Via, Max-Forwards, From, To, Call-ID, CSeq, credentials, Contact,
// Supported, Allow, Content-Type, Content-Length.
type RequestBuilder struct {
	method      string
	uri         *URI
	vias        []string
	from        string
	to          string
	callID      string
	cseq        uint32
	cseqSet     bool
	auth        *headerField
	contact     string
	supported   string
	allow       string
	contentType string
	body        []byte
}

// NewRequest creates a new request builder
func NewRequest(method string, uri *URI) *RequestBuilder {
	return &RequestBuilder{
		method: strings.ToUpper(method),
		uri:    uri,
	}
}

// Via adds a Via header. rport (RFC 3581) is always requested so the proxy
// answers on the connection it received the request on.
func (b *RequestBuilder) Via(transport, host string, port int, branch string) *RequestBuilder {
	via := fmt.Sprintf("SIP/2.0/%s %s:%d", strings.ToUpper(transport), host, port)
	if branch != "" {
		via += ";branch=" + branch
	}
	b.vias = append(b.vias, via+";rport")
	return b
}

// From sets the From header
func (b *RequestBuilder) From(displayName string, uri *URI, tag string) *RequestBuilder {
	b.from = nameAddr(displayName, uri, tag)
	return b
}

// To sets the To header
func (b *RequestBuilder) To(uri *URI, tag string) *RequestBuilder {
	b.to = nameAddr("", uri, tag)
	return b
}

// CallID sets the Call-ID header
func (b *RequestBuilder) CallID(callID string) *RequestBuilder {
	b.callID = callID
	return b
}

// CSeq sets the CSeq number. The method is always the request method.
func (b *RequestBuilder) CSeq(seq uint32) *RequestBuilder {
	b.cseq = seq
	b.cseqSet = true
	return b
}

// Authorization sets the credentials header answering a challenge.
// proxy selects Proxy-Authorization (answer to 407) over Authorization (401).
func (b *RequestBuilder) Authorization(value string, proxy bool) *RequestBuilder {
	name := "Authorization"
	if proxy {
		name = "Proxy-Authorization"
	}
	b.auth = &headerField{name: name, value: value}
	return b
}

// Contact sets the Contact header
func (b *RequestBuilder) Contact(uri *URI) *RequestBuilder {
	b.contact = fmt.Sprintf("<%s>", uri.String())
	return b
}

// Supported sets the Supported header
func (b *RequestBuilder) Supported(value string) *RequestBuilder {
	b.supported = value
	return b
}

// Allow sets the Allow header
func (b *RequestBuilder) Allow(value string) *RequestBuilder {
	b.allow = value
	return b
}

// Body sets the message body
func (b *RequestBuilder) Body(contentType string, body []byte) *RequestBuilder {
	b.contentType = contentType
	b.body = body
	return b
}

// Build creates the final Request
func (b *RequestBuilder) Build() (*Request, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}

	h := NewHeaders()
	for _, via := range b.vias {
		h.Add("Via", via)
	}
	h.Set("Max-Forwards", strconv.Itoa(DefaultMaxForwards))
	h.Set("From", b.from)
	h.Set("To", b.to)
	h.Set("Call-ID", b.callID)
	h.Set("CSeq", fmt.Sprintf("%d %s", b.cseq, b.method))
	if b.auth != nil {
		h.Set(b.auth.name, b.auth.value)
	}
	if b.contact != "" {
		h.Set("Contact", b.contact)
	}
	if b.supported != "" {
		h.Set("Supported", b.supported)
	}
	if b.allow != "" {
		h.Set("Allow", b.allow)
	}
	setBody(h, b.contentType, b.body)

	return &Request{
		Method:     b.method,
		RequestURI: b.uri,
		Headers:    h,
		body:       b.body,
	}, nil
}

// validate checks for mandatory headers
func (b *RequestBuilder) validate() error {
	if b.method == "" {
		return fmt.Errorf("%w: method", ErrInvalidRequestLine)
	}
	if b.uri == nil {
		return fmt.Errorf("%w: request URI", ErrInvalidRequestLine)
	}

	missing := ""
	switch {
	case len(b.vias) == 0:
		missing = "Via"
	case b.from == "":
		missing = "From"
	case b.to == "":
		missing = "To"
	case b.callID == "":
		missing = "Call-ID"
	case !b.cseqSet:
		missing = "CSeq"
	case b.method == "INVITE" && b.contact == "":
		missing = "Contact"
	}
	if missing != "" {
		return fmt.Errorf("%w: %s", ErrMissingHeader, missing)
	}

	if len(b.body) > 0 && b.contentType == "" {
		return fmt.Errorf("%w: Content-Type", ErrMissingHeader)
	}

	return nil
}

// ResponseBuilder helps build SIP responses
type ResponseBuilder struct {
	statusCode   int
	reasonPhrase string
	headers      *Headers
	contentType  string
	body         []byte
}

// NewResponse creates a response builder from a request. Via (every value, in
// order), From, To, Call-ID and CSeq are copied verbatim when present.
func NewResponse(request *Request, statusCode int, reasonPhrase string) *ResponseBuilder {
	headers := NewHeaders()

	for _, via := range request.GetHeaders("Via") {
		headers.Add("Via", via)
	}
	for _, name := range []string{"From", "To", "Call-ID", "CSeq"} {
		if request.Headers != nil && request.Headers.Has(name) {
			headers.Set(name, request.GetHeader(name))
		}
	}

	return &ResponseBuilder{
		statusCode:   statusCode,
		reasonPhrase: reasonPhrase,
		headers:      headers,
	}
}

// Header adds a custom header
func (b *ResponseBuilder) Header(name, value string) *ResponseBuilder {
	b.headers.Add(name, value)
	return b
}

// Body sets the response body
func (b *ResponseBuilder) Body(contentType string, body []byte) *ResponseBuilder {
	b.contentType = contentType
	b.body = body
	return b
}

// ToTag adds a tag to the To header
func (b *ResponseBuilder) ToTag(tag string) *ResponseBuilder {
	to := b.headers.Get("To")
	if to != "" && ExtractTag(to) == "" && tag != "" {
		b.headers.Set("To", to+";tag="+tag)
	}
	return b
}

// Build creates the final Response
func (b *ResponseBuilder) Build() *Response {
	if b.reasonPhrase == "" {
		b.reasonPhrase = defaultReasonPhrase(b.statusCode)
	}

	setBody(b.headers, b.contentType, b.body)

	return &Response{
		StatusCode:   b.statusCode,
		ReasonPhrase: b.reasonPhrase,
		Headers:      b.headers,
		body:         b.body,
	}
}

func setBody(h *Headers, contentType string, body []byte) {
	if len(body) > 0 {
		h.Set("Content-Type", contentType)
	} else {
		h.Remove("Content-Type")
	}
	// Content-Length goes last
	h.Remove("Content-Length")
	h.Set("Content-Length", strconv.Itoa(len(body)))
}

func nameAddr(displayName string, uri *URI, tag string) string {
	var sb strings.Builder
	if displayName != "" {
		fmt.Fprintf(&sb, "%q ", displayName)
	}
	fmt.Fprintf(&sb, "<%s>", uri.String())
	if tag != "" {
		sb.WriteString(";tag=")
		sb.WriteString(tag)
	}
	return sb.String()
}

// Helper functions for common operations

// ExtractTag extracts the tag parameter from a header value
func ExtractTag(headerValue string) string {
	// parameters after the closing '>' belong to the header, not the URI
	if end := strings.LastIndex(headerValue, ">"); end >= 0 {
		headerValue = headerValue[end:]
	}
	idx := strings.Index(strings.ToLower(headerValue), ";tag=")
	if idx < 0 {
		return ""
	}
	tag := headerValue[idx+5:]
	if end := strings.IndexAny(tag, "; \t"); end >= 0 {
		tag = tag[:end]
	}
	return tag
}

// ExtractURI extracts the URI from a header value like "Name <uri>"
func ExtractURI(headerValue string) (*URI, error) {
	start := strings.Index(headerValue, "<")
	end := strings.LastIndex(headerValue, ">")

	if start >= 0 && end > start {
		return ParseURI(headerValue[start+1 : end])
	}

	if semiIdx := strings.Index(headerValue, ";"); semiIdx > 0 {
		headerValue = headerValue[:semiIdx]
	}
	return ParseURI(strings.TrimSpace(headerValue))
}

// ParseCSeq parses a CSeq header value
func ParseCSeq(cseq string) (seq uint32, method string, err error) {
	parts := strings.Fields(cseq)
	if len(parts) != 2 {
		return 0, "", fmt.Errorf("%w: CSeq %q", ErrInvalidMessage, cseq)
	}

	seqNum, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, "", fmt.Errorf("%w: CSeq number %q", ErrInvalidMessage, parts[0])
	}

	return uint32(seqNum), strings.ToUpper(parts[1]), nil
}
