package message

import (
	"fmt"
	"strconv"
	"strings"
)

// Param is a single ;key[=value] URI parameter
type Param struct {
	Key   string
	Value string
}

// URI represents a SIP URI
type URI struct {
	Scheme string  // "sip" or "sips"
	User   string  // User part
	Host   string  // Hostname or IP
	Port   int     // Port number (0 means default)
	Params []Param // URI parameters in wire order
}

// NewURI creates a sip: URI
func NewURI(user, host string, port int) *URI {
	return &URI{Scheme: "sip", User: user, Host: host, Port: port}
}

// WithParam returns a copy of the URI with the parameter appended
func (u *URI) WithParam(key, value string) *URI {
	clone := u.Clone()
	clone.Params = append(clone.Params, Param{Key: key, Value: value})
	return clone
}

// ParseURI parses a SIP URI
func ParseURI(uriStr string) (*URI, error) {
	if uriStr == "" {
		return nil, fmt.Errorf("%w: empty URI", ErrInvalidURI)
	}

	schemeEnd := strings.Index(uriStr, ":")
	if schemeEnd < 0 {
		return nil, fmt.Errorf("%w: missing scheme", ErrInvalidURI)
	}

	uri := &URI{Scheme: strings.ToLower(uriStr[:schemeEnd])}
	if uri.Scheme != "sip" && uri.Scheme != "sips" {
		return nil, fmt.Errorf("%w: unsupported scheme %s", ErrInvalidURI, uri.Scheme)
	}

	rest := uriStr[schemeEnd+1:]

	// URI headers are not used by the dialog, drop them
	if qIdx := strings.Index(rest, "?"); qIdx >= 0 {
		rest = rest[:qIdx]
	}

	if atIdx := strings.LastIndex(rest, "@"); atIdx >= 0 {
		uri.User = rest[:atIdx]
		if colonIdx := strings.Index(uri.User, ":"); colonIdx >= 0 {
			uri.User = uri.User[:colonIdx]
		}
		rest = rest[atIdx+1:]
	}

	if semiIdx := strings.Index(rest, ";"); semiIdx >= 0 {
		for _, param := range strings.Split(rest[semiIdx+1:], ";") {
			if param == "" {
				continue
			}
			if eqIdx := strings.Index(param, "="); eqIdx >= 0 {
				uri.Params = append(uri.Params, Param{Key: param[:eqIdx], Value: param[eqIdx+1:]})
			} else {
				uri.Params = append(uri.Params, Param{Key: param})
			}
		}
		rest = rest[:semiIdx]
	}

	host := rest
	if strings.HasPrefix(rest, "[") {
		endIdx := strings.Index(rest, "]")
		if endIdx < 0 {
			return nil, fmt.Errorf("%w: missing closing bracket", ErrInvalidURI)
		}
		host = rest[:endIdx+1]
		rest = rest[endIdx+1:]
		if strings.HasPrefix(rest, ":") {
			port, err := strconv.Atoi(rest[1:])
			if err != nil {
				return nil, fmt.Errorf("%w: invalid port %s", ErrInvalidURI, rest[1:])
			}
			uri.Port = port
		}
	} else if colonIdx := strings.LastIndex(rest, ":"); colonIdx >= 0 {
		host = rest[:colonIdx]
		port, err := strconv.Atoi(rest[colonIdx+1:])
		if err != nil {
			return nil, fmt.Errorf("%w: invalid port %s", ErrInvalidURI, rest[colonIdx+1:])
		}
		uri.Port = port
	}

	if host == "" {
		return nil, fmt.Errorf("%w: empty host", ErrInvalidURI)
	}
	uri.Host = host

	return uri, nil
}

// String returns the string representation of the URI
func (u *URI) String() string {
	var sb strings.Builder

	sb.WriteString(u.Scheme)
	sb.WriteString(":")

	if u.User != "" {
		sb.WriteString(u.User)
		sb.WriteString("@")
	}

	sb.WriteString(u.Host)
	if u.Port > 0 {
		fmt.Fprintf(&sb, ":%d", u.Port)
	}

	for _, p := range u.Params {
		sb.WriteString(";")
		sb.WriteString(p.Key)
		if p.Value != "" {
			sb.WriteString("=")
			sb.WriteString(p.Value)
		}
	}

	return sb.String()
}

// Clone creates a deep copy of the URI
func (u *URI) Clone() *URI {
	clone := *u
	clone.Params = append([]Param(nil), u.Params...)
	return &clone
}

// Param returns a URI parameter value
func (u *URI) Param(key string) (string, bool) {
	for _, p := range u.Params {
		if strings.EqualFold(p.Key, key) {
			return p.Value, true
		}
	}
	return "", false
}

// HostPort returns the host:port string, using 5060/5061 when no port is set
func (u *URI) HostPort() string {
	port := u.Port
	if port == 0 {
		port = 5060
		if u.Scheme == "sips" {
			port = 5061
		}
	}
	return fmt.Sprintf("%s:%d", u.Host, port)
}
