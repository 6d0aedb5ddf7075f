package bridge

import (
	"github.com/arzzra/sip_bridge/pkg/dialog"
	"github.com/arzzra/sip_bridge/pkg/sip/digest"
	"github.com/pkg/errors"
)

// ErrInvalidRequest is wrapped by every CallRequest validation error
var ErrInvalidRequest = errors.New("invalid call request")

// CallRequest is the inbound trigger for one outbound call
type CallRequest struct {
	ToNumber  string    `json:"to_number"`
	RoomName  string    `json:"room_name"`
	SIPConfig SIPConfig `json:"sip_config"`
}

// SIPConfig carries per-call overrides. Empty fields fall back to Settings.
type SIPConfig struct {
	// ExotelNumber is the caller-ID
	ExotelNumber string `json:"exotel_number"`
	SIPHost      string `json:"sip_host,omitempty"`
	SIPPort      int    `json:"sip_port,omitempty"`
	SIPDomain    string `json:"sip_domain,omitempty"`
}

// Validate checks the fields the caller must supply
func (r CallRequest) Validate() error {
	switch {
	case r.ToNumber == "":
		return errors.Wrap(ErrInvalidRequest, "to_number is required")
	case r.RoomName == "":
		return errors.Wrap(ErrInvalidRequest, "room_name is required")
	case r.SIPConfig.ExotelNumber == "":
		return errors.Wrap(ErrInvalidRequest, "sip_config.exotel_number is required")
	case r.SIPConfig.SIPPort < 0 || r.SIPConfig.SIPPort > 65535:
		return errors.Wrapf(ErrInvalidRequest, "sip_config.sip_port %d out of range", r.SIPConfig.SIPPort)
	}
	return nil
}

// Settings are the process-wide call defaults
type Settings struct {
	ProxyHost   string
	ProxyPort   int
	FromDomain  string
	Credentials digest.Credentials

	// LocalIP and LocalPort are advertised in Via and Contact
	LocalIP   string
	LocalPort int
	// MediaIP is advertised in the SDP offer
	MediaIP string

	Timeouts dialog.Timeouts
}

// Target merges the per-call overrides over the defaults
func (s Settings) Target(req CallRequest) dialog.Target {
	target := dialog.Target{
		Number:      req.ToNumber,
		ProxyHost:   s.ProxyHost,
		ProxyPort:   s.ProxyPort,
		CallerID:    req.SIPConfig.ExotelNumber,
		FromDomain:  s.FromDomain,
		Credentials: s.Credentials,
		LocalIP:     s.LocalIP,
		LocalPort:   s.LocalPort,
	}
	if req.SIPConfig.SIPHost != "" {
		target.ProxyHost = req.SIPConfig.SIPHost
	}
	if req.SIPConfig.SIPPort != 0 {
		target.ProxyPort = req.SIPConfig.SIPPort
	}
	if req.SIPConfig.SIPDomain != "" {
		target.FromDomain = req.SIPConfig.SIPDomain
	}
	return target
}
