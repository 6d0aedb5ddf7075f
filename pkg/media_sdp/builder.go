package media_sdp

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/pion/sdp/v3"
)

// Offer describes the local media endpoint advertised in the SDP offer
type Offer struct {
	// MediaIP is the public media address, not the signalling one
	MediaIP string
	Port    int
	Codecs  []Codec

	DTMFEnabled     bool
	DTMFPayloadType uint8

	Ptime time.Duration

	// SessionID is both the session id and version in o=
	SessionID uint64
}

// NewOffer returns an offer of PCMA, PCMU and telephone-event/101
func NewOffer(mediaIP string, port int) Offer {
	return Offer{
		MediaIP:         mediaIP,
		Port:            port,
		Codecs:          []Codec{PCMA, PCMU},
		DTMFEnabled:     true,
		DTMFPayloadType: 101,
		Ptime:           20 * time.Millisecond,
		SessionID:       uint64(time.Now().Unix()),
	}
}

// Validate checks the offer parameters
func (o Offer) Validate() error {
	if ip := net.ParseIP(o.MediaIP); ip == nil || ip.To4() == nil {
		return NewSDPError(ErrorCodeInvalidOffer, "MediaIP должен быть IPv4 адресом: %q", o.MediaIP)
	}
	if o.Port <= 0 || o.Port > 65535 {
		return NewSDPError(ErrorCodeInvalidOffer, "некорректный порт: %d", o.Port)
	}
	if len(o.Codecs) == 0 {
		return NewSDPError(ErrorCodeInvalidOffer, "список кодеков пуст")
	}
	return nil
}

// SessionDescription builds the SDP offer
func (o Offer) SessionDescription() (*sdp.SessionDescription, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}

	connection := &sdp.ConnectionInformation{
		NetworkType: "IN",
		AddressType: "IP4",
		Address:     &sdp.Address{Address: o.MediaIP},
	}

	offer := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      o.SessionID,
			SessionVersion: o.SessionID,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: o.MediaIP,
		},
		SessionName:           sdp.SessionName("-"),
		ConnectionInformation: connection,
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
	}

	mediaDesc := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:  "audio",
			Port:   sdp.RangedPort{Value: o.Port},
			Protos: []string{"RTP", "AVP"},
		},
	}

	for _, codec := range o.Codecs {
		mediaDesc.MediaName.Formats = append(mediaDesc.MediaName.Formats, strconv.Itoa(int(codec.PayloadType)))
		mediaDesc.Attributes = append(mediaDesc.Attributes,
			sdp.NewAttribute("rtpmap", fmt.Sprintf("%d %s/%d", codec.PayloadType, codec.Name, codec.ClockRate)))
	}

	// DTMF (RFC 4733), события 0-15
	if o.DTMFEnabled {
		pt := strconv.Itoa(int(o.DTMFPayloadType))
		mediaDesc.MediaName.Formats = append(mediaDesc.MediaName.Formats, pt)
		mediaDesc.Attributes = append(mediaDesc.Attributes,
			sdp.NewAttribute("rtpmap", pt+" telephone-event/8000"),
			sdp.NewAttribute("fmtp", pt+" 0-15"))
	}

	if o.Ptime > 0 {
		mediaDesc.Attributes = append(mediaDesc.Attributes,
			sdp.NewAttribute("ptime", strconv.Itoa(int(o.Ptime.Milliseconds()))))
	}
	mediaDesc.Attributes = append(mediaDesc.Attributes, sdp.NewPropertyAttribute("sendrecv"))

	offer.MediaDescriptions = []*sdp.MediaDescription{mediaDesc}

	return offer, nil
}

// Marshal returns the SDP offer body
func (o Offer) Marshal() ([]byte, error) {
	desc, err := o.SessionDescription()
	if err != nil {
		return nil, err
	}

	body, err := desc.Marshal()
	if err != nil {
		return nil, WrapSDPError(ErrorCodeSDPGeneration, err, "не удалось сериализовать SDP offer")
	}
	return body, nil
}
