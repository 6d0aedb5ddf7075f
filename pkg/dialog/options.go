package dialog

import (
	"log/slog"
	"time"

	"github.com/arzzra/sip_bridge/pkg/media_sdp"
	"github.com/arzzra/sip_bridge/pkg/sip/transport"
)

// Timeouts bound each blocking phase of a call
type Timeouts struct {
	// Connect limits the TCP handshake
	Connect time.Duration
	// Response limits the wait for each message during INVITE negotiation
	Response time.Duration
	// Silence ends an established call when nothing arrives for this long
	Silence time.Duration
}

// DefaultTimeouts returns 10s connect, 60s per response and one hour of silence
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Connect:  10 * time.Second,
		Response: 60 * time.Second,
		Silence:  time.Hour,
	}
}

// Option настраивает Client
type Option func(*Client)

// WithLogger sets the base logger. The Call-ID is attached to every record.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTimeouts overrides the default timeouts. Zero fields keep the default.
func WithTimeouts(t Timeouts) Option {
	return func(c *Client) {
		if t.Connect > 0 {
			c.timeouts.Connect = t.Connect
		}
		if t.Response > 0 {
			c.timeouts.Response = t.Response
		}
		if t.Silence > 0 {
			c.timeouts.Silence = t.Silence
		}
	}
}

// WithTransportConfig sets the TCP options. DialTimeout is replaced by the
// connect timeout and Observer by WithMessageObserver when given.
func WithTransportConfig(cfg transport.Config) Option {
	return func(c *Client) {
		c.transportCfg = cfg
	}
}

// WithMessageObserver is called for every SIP message sent or received
func WithMessageObserver(obs transport.Observer) Option {
	return func(c *Client) {
		c.observer = obs
	}
}

// WithStateObserver is called on every state transition
func WithStateObserver(fn func(from, to State)) Option {
	return func(c *Client) {
		c.onState = fn
	}
}

// WithDefaultPayloadType is used when the answer's m=audio line has no
// usable format
func WithDefaultPayloadType(pt uint8) Option {
	return func(c *Client) {
		c.defaultPT = pt
	}
}

// WithCallID uses id instead of a generated Call-ID. Empty keeps the
// generated one.
func WithCallID(id string) Option {
	return func(c *Client) {
		if id != "" {
			c.id.callID = id
		}
	}
}

func defaultOptions(c *Client) {
	c.logger = slog.Default()
	c.timeouts = DefaultTimeouts()
	c.transportCfg = transport.DefaultConfig()
	c.defaultPT = media_sdp.DefaultPayloadType
}
