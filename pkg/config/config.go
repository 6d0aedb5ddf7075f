// Package config loads the bridge settings from an optional YAML file and the
// environment.
package config

import (
	"net"
	"os"
	"strconv"
	"time"

	"github.com/arzzra/sip_bridge/pkg/bridge"
	"github.com/arzzra/sip_bridge/pkg/dialog"
	"github.com/arzzra/sip_bridge/pkg/rtprelay"
	"github.com/arzzra/sip_bridge/pkg/sip/digest"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// SIP describes the carrier trunk and how we appear on it
type SIP struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	CallerID   string `yaml:"caller_id"`
	FromDomain string `yaml:"from_domain"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`

	// CustomerIP and CustomerPort go into Via and Contact
	CustomerIP   string `yaml:"customer_ip"`
	CustomerPort int    `yaml:"customer_port"`

	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	ResponseTimeout time.Duration `yaml:"response_timeout"`
	SilenceTimeout  time.Duration `yaml:"silence_timeout"`
}

// RTP describes the media relay
type RTP struct {
	// MediaIP is advertised in the SDP offer
	MediaIP       string `yaml:"media_ip"`
	ListenIP      string `yaml:"listen_ip"`
	PortMin       uint16 `yaml:"port_min"`
	PortMax       uint16 `yaml:"port_max"`
	Strategy      string `yaml:"strategy"`
	RoomMediaAddr string `yaml:"room_media_addr"`
	DSCP          int    `yaml:"dscp"`
	BufferSize    int    `yaml:"buffer_size"`
}

// Config is the whole process configuration
type Config struct {
	SIP       SIP    `yaml:"sip"`
	RTP       RTP    `yaml:"rtp"`
	HTTPAddr  string `yaml:"http_addr"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	timeouts := dialog.DefaultTimeouts()
	relay := rtprelay.DefaultConfig()

	return &Config{
		SIP: SIP{
			Host:            "pstn.in2.exotel.com",
			Port:            5070,
			CustomerPort:    5070,
			ConnectTimeout:  timeouts.Connect,
			ResponseTimeout: timeouts.Response,
			SilenceTimeout:  timeouts.Silence,
		},
		RTP: RTP{
			ListenIP:   relay.ListenIP,
			PortMin:    relay.PortMin,
			PortMax:    relay.PortMax,
			Strategy:   relay.Strategy.String(),
			DSCP:       relay.DSCP,
			BufferSize: relay.BufferSize,
		},
		HTTPAddr:  ":8080",
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load applies the YAML file at path (if any) and then the environment over
// the defaults, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "read config file")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config file %s", path)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "%s", key)
		}
		*dst = n
		return nil
	}
	port := func(key string, dst *uint16) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return errors.Wrapf(err, "%s", key)
		}
		*dst = uint16(n)
		return nil
	}

	str("EXOTEL_SIP_HOST", &c.SIP.Host)
	str("EXOTEL_CALLER_ID", &c.SIP.CallerID)
	str("EXOTEL_FROM_DOMAIN", &c.SIP.FromDomain)
	str("EXOTEL_AUTH_USERNAME", &c.SIP.Username)
	str("EXOTEL_AUTH_PASSWORD", &c.SIP.Password)
	str("EXOTEL_CUSTOMER_IP", &c.SIP.CustomerIP)
	str("EXOTEL_MEDIA_IP", &c.RTP.MediaIP)
	str("HTTP_ADDR", &c.HTTPAddr)
	str("LOG_LEVEL", &c.LogLevel)

	if err := num("EXOTEL_SIP_PORT", &c.SIP.Port); err != nil {
		return err
	}
	if err := num("EXOTEL_CUSTOMER_SIP_PORT", &c.SIP.CustomerPort); err != nil {
		return err
	}
	if err := port("RTP_PORT_MIN", &c.RTP.PortMin); err != nil {
		return err
	}
	return port("RTP_PORT_MAX", &c.RTP.PortMax)
}

// Validate проверяет конфигурацию
func (c *Config) Validate() error {
	if c.SIP.Host == "" {
		return errors.New("sip.host is required")
	}
	if c.SIP.Port <= 0 || c.SIP.Port > 65535 {
		return errors.Errorf("sip.port %d out of range", c.SIP.Port)
	}
	if c.SIP.CustomerPort <= 0 || c.SIP.CustomerPort > 65535 {
		return errors.Errorf("sip.customer_port %d out of range", c.SIP.CustomerPort)
	}
	if c.SIP.CustomerIP == "" || net.ParseIP(c.SIP.CustomerIP) == nil {
		return errors.Errorf("sip.customer_ip %q is not an IP address", c.SIP.CustomerIP)
	}
	if (c.SIP.Username == "") != (c.SIP.Password == "") {
		return errors.New("sip.username and sip.password must be set together")
	}
	if ip := net.ParseIP(c.RTP.MediaIP); ip == nil || ip.To4() == nil {
		return errors.Errorf("rtp.media_ip %q is not an IPv4 address", c.RTP.MediaIP)
	}
	if c.HTTPAddr == "" {
		return errors.New("http_addr is required")
	}

	relay, err := c.Relay()
	if err != nil {
		return err
	}
	return errors.Wrap(relay.Validate(), "rtp")
}

// Settings converts the SIP section to bridge defaults
func (c *Config) Settings() bridge.Settings {
	return bridge.Settings{
		ProxyHost:  c.SIP.Host,
		ProxyPort:  c.SIP.Port,
		FromDomain: c.SIP.FromDomain,
		Credentials: digest.Credentials{
			Username: c.SIP.Username,
			Password: c.SIP.Password,
		},
		LocalIP:   c.SIP.CustomerIP,
		LocalPort: c.SIP.CustomerPort,
		MediaIP:   c.RTP.MediaIP,
		Timeouts: dialog.Timeouts{
			Connect:  c.SIP.ConnectTimeout,
			Response: c.SIP.ResponseTimeout,
			Silence:  c.SIP.SilenceTimeout,
		},
	}
}

// DefaultCallerID is used when a call request carries no exotel_number
func (c *Config) DefaultCallerID() string {
	return c.SIP.CallerID
}

// Relay converts the RTP section to a relay configuration
func (c *Config) Relay() (rtprelay.Config, error) {
	strategy, err := rtprelay.ParseStrategy(c.RTP.Strategy)
	if err != nil {
		return rtprelay.Config{}, errors.Wrap(err, "rtp.strategy")
	}
	return rtprelay.Config{
		ListenIP:      c.RTP.ListenIP,
		PortMin:       c.RTP.PortMin,
		PortMax:       c.RTP.PortMax,
		Strategy:      strategy,
		RoomMediaAddr: c.RTP.RoomMediaAddr,
		DSCP:          c.RTP.DSCP,
		BufferSize:    c.RTP.BufferSize,
	}, nil
}
