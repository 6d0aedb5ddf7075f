package media_sdp

import (
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
)

// ParseAnswer extracts the remote RTP endpoint from an SDP answer.
//
// The first m=audio line is used. A media-level c= line takes precedence
// over the session-level one. The first format on m=audio becomes the
// payload type, or defaultPT when the line lists none.
//
// The body goes through pion/sdp first. Carriers sometimes send SDP that
// pion rejects (line order, extra fields), and then only the c= and m=
// lines are scanned.
func ParseAnswer(body []byte, defaultPT uint8) (*Answer, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, NewSDPError(ErrorCodeSDPParsing, "пустое тело SDP answer")
	}

	var desc sdp.SessionDescription
	if err := desc.Unmarshal(body); err == nil {
		return answerFromDescription(&desc, defaultPT)
	}

	return scanAnswer(string(body), defaultPT)
}

func answerFromDescription(desc *sdp.SessionDescription, defaultPT uint8) (*Answer, error) {
	var audio *sdp.MediaDescription
	for _, media := range desc.MediaDescriptions {
		if media.MediaName.Media == "audio" {
			audio = media
			break
		}
	}
	if audio == nil {
		return nil, NewSDPError(ErrorCodeNoAudio, "аудио медиа описание не найдено в SDP answer")
	}

	var connection *sdp.ConnectionInformation
	switch {
	case audio.ConnectionInformation != nil:
		connection = audio.ConnectionInformation
	case desc.ConnectionInformation != nil:
		connection = desc.ConnectionInformation
	}
	if connection == nil || connection.Address == nil {
		return nil, NewSDPError(ErrorCodeNoConnection, "информация о соединении не найдена в SDP answer")
	}

	return newAnswer(connection.Address.Address, audio.MediaName.Port.Value, audio.MediaName.Formats, defaultPT)
}

// scanAnswer reads c= and m= lines from SDP that pion does not accept
func scanAnswer(body string, defaultPT uint8) (*Answer, error) {
	var (
		sessionIP string
		mediaIP   string
		port      int
		formats   []string
		found     bool
		inAudio   bool
	)

	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "m="):
			inAudio = false
			fields := strings.Fields(line[2:])
			if found || len(fields) < 2 || fields[0] != "audio" {
				continue
			}
			p, err := strconv.Atoi(strings.SplitN(fields[1], "/", 2)[0])
			if err != nil {
				return nil, WrapSDPError(ErrorCodeSDPParsing, err, "некорректный порт в %q", line)
			}
			port = p
			if len(fields) > 3 {
				formats = fields[3:]
			}
			found = true
			inAudio = true

		case strings.HasPrefix(line, "c="):
			fields := strings.Fields(line[2:])
			if len(fields) < 3 {
				continue
			}
			// адрес может содержать /ttl
			addr := strings.SplitN(fields[2], "/", 2)[0]
			if inAudio {
				mediaIP = addr
			} else if !found {
				sessionIP = addr
			}
		}
	}

	if !found {
		return nil, NewSDPError(ErrorCodeNoAudio, "аудио медиа описание не найдено в SDP answer")
	}

	ip := mediaIP
	if ip == "" {
		ip = sessionIP
	}
	return newAnswer(ip, port, formats, defaultPT)
}

func newAnswer(ip string, port int, formats []string, defaultPT uint8) (*Answer, error) {
	if ip == "" {
		return nil, NewSDPError(ErrorCodeNoConnection, "информация о соединении не найдена в SDP answer")
	}
	if port <= 0 || port > 65535 {
		// порт 0 означает отклоненный поток
		return nil, NewSDPError(ErrorCodeSDPParsing, "некорректный порт аудио: %d", port)
	}

	pt := defaultPT
	if len(formats) > 0 {
		v, err := strconv.ParseUint(formats[0], 10, 8)
		if err != nil || v > 127 {
			return nil, NewSDPError(ErrorCodeSDPParsing, "некорректный payload type: %q", formats[0])
		}
		pt = uint8(v)
	}

	return &Answer{RemoteIP: ip, RemotePort: port, PayloadType: pt}, nil
}
