package dialog

import (
	"net"
	"strconv"
	"strings"
	"unicode"

	"github.com/arzzra/sip_bridge/pkg/number"
	"github.com/arzzra/sip_bridge/pkg/sip/digest"
	"github.com/arzzra/sip_bridge/pkg/sip/message"
	"github.com/pkg/errors"
)

// Target describes the far end of one outbound call and how we present
// ourselves to the carrier.
type Target struct {
	// Number is the callee as dialed. It is normalized with number.Format.
	Number string

	ProxyHost string
	ProxyPort int

	// CallerID is the From user and display name
	CallerID string
	// FromDomain is the From host. Empty means ProxyHost.
	FromDomain string

	Credentials digest.Credentials

	// LocalIP and LocalPort are advertised in Via and Contact. An empty
	// LocalIP means the local address of the TCP connection.
	LocalIP   string
	LocalPort int
}

// Validate checks the target before any connection is attempted
func (t Target) Validate() error {
	switch {
	case strings.IndexFunc(t.Number, unicode.IsDigit) < 0:
		return errors.Errorf("callee number %q has no digits", t.Number)
	case t.ProxyHost == "":
		return errors.New("proxy host is empty")
	case t.ProxyPort <= 0 || t.ProxyPort > 65535:
		return errors.Errorf("invalid proxy port %d", t.ProxyPort)
	case t.CallerID == "":
		return errors.New("caller id is empty")
	case t.LocalIP != "" && net.ParseIP(t.LocalIP) == nil:
		return errors.Errorf("invalid local ip %q", t.LocalIP)
	case t.LocalPort < 0 || t.LocalPort > 65535:
		return errors.Errorf("invalid local port %d", t.LocalPort)
	}
	return nil
}

// ProxyAddr returns host:port for dialing
func (t Target) ProxyAddr() string {
	return net.JoinHostPort(t.ProxyHost, strconv.Itoa(t.ProxyPort))
}

// RequestURI is sip:<number>@<proxy>:<port>, used for every request in the dialog
func (t Target) RequestURI() *message.URI {
	return message.NewURI(number.Format(t.Number), t.ProxyHost, t.ProxyPort)
}

// FromURI is sip:<caller>@<domain>
func (t Target) FromURI() *message.URI {
	domain := t.FromDomain
	if domain == "" {
		domain = t.ProxyHost
	}
	return message.NewURI(t.CallerID, domain, 0)
}
