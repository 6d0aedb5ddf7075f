package message

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

const (
	// Maximum sizes for security
	maxMessageSize = 65536 // 64KB
	maxHeaderSize  = 8192  // 8KB
	maxHeaders     = 100   // Maximum number of headers
)

// Parser parses SIP messages. Header lines without a colon are skipped and
// requests are not checked for mandatory headers; the dialog matches on the
// headers it needs and ignores the rest.
type Parser struct{}

// NewParser creates a new parser
func NewParser() *Parser {
	return &Parser{}
}

// ParseMessage parses one complete SIP message
func (p *Parser) ParseMessage(data []byte) (Message, error) {
	// keep-alives in front of the start line
	data = bytes.TrimLeft(data, "\r\n")
	if len(data) == 0 {
		return nil, ErrInvalidMessage
	}

	if len(data) > maxMessageSize {
		return nil, ErrMessageTooLarge
	}

	headerEnd, sepLen := findHeaderEnd(data)
	if headerEnd < 0 {
		return nil, fmt.Errorf("%w: no end of headers", ErrInvalidMessage)
	}

	headerData := data[:headerEnd]
	body := data[headerEnd+sepLen:]

	lines := bytes.Split(headerData, []byte("\n"))
	for i := range lines {
		lines[i] = bytes.TrimSuffix(lines[i], []byte("\r"))
	}

	firstLine := strings.TrimSpace(string(lines[0]))

	headers, err := p.parseHeaders(lines[1:])
	if err != nil {
		return nil, err
	}

	body, err = trimBody(headers, body)
	if err != nil {
		return nil, err
	}

	if strings.HasPrefix(firstLine, "SIP/") {
		return p.parseResponse(firstLine, headers, body)
	}
	return p.parseRequest(firstLine, headers, body)
}

// trimBody cuts the body to Content-Length when the header is present
func trimBody(headers *Headers, body []byte) ([]byte, error) {
	if !headers.Has("Content-Length") {
		return body, nil
	}
	value := headers.Get("Content-Length")
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidContentLength, value)
	}
	if n > len(body) {
		return nil, fmt.Errorf("%w: %d declared, %d received", ErrInvalidContentLength, n, len(body))
	}
	return body[:n], nil
}

// parseRequest parses a SIP request
func (p *Parser) parseRequest(firstLine string, headers *Headers, body []byte) (*Request, error) {
	// Parse request line: METHOD REQUEST-URI SIP-VERSION
	parts := strings.Fields(firstLine)
	if len(parts) != 3 {
		return nil, ErrInvalidRequestLine
	}

	method := strings.ToUpper(parts[0])

	requestURI, err := ParseURI(parts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid request URI: %w", err)
	}

	if parts[2] != "SIP/2.0" {
		return nil, ErrInvalidSIPVersion
	}

	return &Request{
		Method:     method,
		RequestURI: requestURI,
		Headers:    headers,
		body:       body,
	}, nil
}

// parseResponse parses a SIP response
func (p *Parser) parseResponse(firstLine string, headers *Headers, body []byte) (*Response, error) {
	// Parse status line: SIP-VERSION STATUS-CODE REASON-PHRASE
	parts := strings.SplitN(firstLine, " ", 3)
	if len(parts) < 2 {
		return nil, ErrInvalidStatusLine
	}

	if parts[0] != "SIP/2.0" {
		return nil, ErrInvalidSIPVersion
	}

	statusCode, err := strconv.Atoi(parts[1])
	if err != nil || statusCode < 100 || statusCode > 699 {
		return nil, ErrInvalidStatusCode
	}

	// Reason phrase is optional
	reasonPhrase := defaultReasonPhrase(statusCode)
	if len(parts) > 2 && strings.TrimSpace(parts[2]) != "" {
		reasonPhrase = strings.TrimSpace(parts[2])
	}

	return &Response{
		StatusCode:   statusCode,
		ReasonPhrase: reasonPhrase,
		Headers:      headers,
		body:         body,
	}, nil
}

// parseHeaders parses SIP headers
func (p *Parser) parseHeaders(lines [][]byte) (*Headers, error) {
	headers := NewHeaders()

	if len(lines) > maxHeaders {
		return nil, fmt.Errorf("%w: %d header lines", ErrHeaderTooLarge, len(lines))
	}

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		// Line folding: continuation lines start with whitespace
		for i+1 < len(lines) && len(lines[i+1]) > 0 &&
			(lines[i+1][0] == ' ' || lines[i+1][0] == '\t') {
			i++
			joined := make([]byte, 0, len(line)+len(lines[i])+1)
			joined = append(joined, line...)
			joined = append(joined, ' ')
			line = append(joined, bytes.TrimSpace(lines[i])...)
		}

		if len(line) > maxHeaderSize {
			return nil, ErrHeaderTooLarge
		}

		colonIdx := bytes.IndexByte(line, ':')
		if colonIdx == -1 {
			continue
		}

		name := string(bytes.TrimSpace(line[:colonIdx]))
		value := string(bytes.TrimSpace(line[colonIdx+1:]))
		if name == "" {
			continue
		}

		headers.Add(name, value)
	}

	return headers, nil
}

// defaultReasonPhrase returns default reason phrase for status code
func defaultReasonPhrase(code int) string {
	switch code {
	case 100:
		return "Trying"
	case 180:
		return "Ringing"
	case 181:
		return "Call Is Being Forwarded"
	case 182:
		return "Queued"
	case 183:
		return "Session Progress"
	case 200:
		return "OK"
	case 202:
		return "Accepted"
	case 300:
		return "Multiple Choices"
	case 301:
		return "Moved Permanently"
	case 302:
		return "Moved Temporarily"
	case 305:
		return "Use Proxy"
	case 380:
		return "Alternative Service"
	case 400:
		return "Bad Request"
	case 401:
		return "Unauthorized"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 405:
		return "Method Not Allowed"
	case 406:
		return "Not Acceptable"
	case 407:
		return "Proxy Authentication Required"
	case 408:
		return "Request Timeout"
	case 410:
		return "Gone"
	case 413:
		return "Request Entity Too Large"
	case 414:
		return "Request-URI Too Long"
	case 415:
		return "Unsupported Media Type"
	case 416:
		return "Unsupported URI Scheme"
	case 420:
		return "Bad Extension"
	case 421:
		return "Extension Required"
	case 423:
		return "Interval Too Brief"
	case 480:
		return "Temporarily Unavailable"
	case 481:
		return "Call/Transaction Does Not Exist"
	case 482:
		return "Loop Detected"
	case 483:
		return "Too Many Hops"
	case 484:
		return "Address Incomplete"
	case 485:
		return "Ambiguous"
	case 486:
		return "Busy Here"
	case 487:
		return "Request Terminated"
	case 488:
		return "Not Acceptable Here"
	case 491:
		return "Request Pending"
	case 493:
		return "Undecipherable"
	case 500:
		return "Server Internal Error"
	case 501:
		return "Not Implemented"
	case 502:
		return "Bad Gateway"
	case 503:
		return "Service Unavailable"
	case 504:
		return "Server Time-out"
	case 505:
		return "Version Not Supported"
	case 513:
		return "Message Too Large"
	case 600:
		return "Busy Everywhere"
	case 603:
		return "Decline"
	case 604:
		return "Does Not Exist Anywhere"
	case 606:
		return "Not Acceptable"
	default:
		return "Unknown"
	}
}
