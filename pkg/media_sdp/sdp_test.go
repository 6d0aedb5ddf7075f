package media_sdp

import (
	"testing"
	"time"

	"github.com/pion/sdp/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOffer_Marshal(t *testing.T) {
	offer := NewOffer("203.0.113.7", 30000)
	offer.SessionID = 1700000000

	body, err := offer.Marshal()
	require.NoError(t, err)

	want := "v=0\r\n" +
		"o=- 1700000000 1700000000 IN IP4 203.0.113.7\r\n" +
		"s=-\r\n" +
		"c=IN IP4 203.0.113.7\r\n" +
		"t=0 0\r\n" +
		"m=audio 30000 RTP/AVP 8 0 101\r\n" +
		"a=rtpmap:8 PCMA/8000\r\n" +
		"a=rtpmap:0 PCMU/8000\r\n" +
		"a=rtpmap:101 telephone-event/8000\r\n" +
		"a=fmtp:101 0-15\r\n" +
		"a=ptime:20\r\n" +
		"a=sendrecv\r\n"
	assert.Equal(t, want, string(body))
}

func TestOffer_RoundTripThroughPion(t *testing.T) {
	offer := NewOffer("198.51.100.20", 40002)
	offer.DTMFEnabled = false
	offer.Ptime = 30 * time.Millisecond
	offer.Codecs = []Codec{PCMU}

	body, err := offer.Marshal()
	require.NoError(t, err)

	var desc sdp.SessionDescription
	require.NoError(t, desc.Unmarshal(body))
	require.Len(t, desc.MediaDescriptions, 1)

	media := desc.MediaDescriptions[0]
	assert.Equal(t, []string{"0"}, media.MediaName.Formats)
	ptime, ok := media.Attribute("ptime")
	require.True(t, ok)
	assert.Equal(t, "30", ptime)
	_, ok = media.Attribute("fmtp")
	assert.False(t, ok)
}

func TestOffer_Validate(t *testing.T) {
	tests := []struct {
		name  string
		offer Offer
	}{
		{"empty ip", NewOffer("", 30000)},
		{"hostname", NewOffer("media.example.com", 30000)},
		{"ipv6", NewOffer("2001:db8::1", 30000)},
		{"zero port", NewOffer("203.0.113.7", 0)},
		{"port too large", NewOffer("203.0.113.7", 70000)},
		{"no codecs", func() Offer { o := NewOffer("203.0.113.7", 30000); o.Codecs = nil; return o }()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.offer.Marshal()
			require.Error(t, err)
			assert.True(t, IsSDPError(err, ErrorCodeInvalidOffer))
		})
	}
}

func TestParseAnswer(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Answer
	}{
		{
			name: "minimal carrier answer",
			body: "c=IN IP4 10.1.2.3\r\nm=audio 40000 RTP/AVP 8\r\n",
			want: Answer{RemoteIP: "10.1.2.3", RemotePort: 40000, PayloadType: 8},
		},
		{
			name: "full answer",
			body: "v=0\r\n" +
				"o=- 123 456 IN IP4 10.9.9.9\r\n" +
				"s=Exotel\r\n" +
				"c=IN IP4 10.1.2.3\r\n" +
				"t=0 0\r\n" +
				"m=audio 40000 RTP/AVP 0 101\r\n" +
				"a=rtpmap:0 PCMU/8000\r\n" +
				"a=rtpmap:101 telephone-event/8000\r\n" +
				"a=sendrecv\r\n",
			want: Answer{RemoteIP: "10.1.2.3", RemotePort: 40000, PayloadType: 0},
		},
		{
			name: "media level connection wins",
			body: "v=0\r\n" +
				"o=- 1 1 IN IP4 10.9.9.9\r\n" +
				"s=-\r\n" +
				"c=IN IP4 10.1.2.3\r\n" +
				"t=0 0\r\n" +
				"m=audio 41000 RTP/AVP 8\r\n" +
				"c=IN IP4 10.4.5.6\r\n",
			want: Answer{RemoteIP: "10.4.5.6", RemotePort: 41000, PayloadType: 8},
		},
		{
			name: "lenient media level connection",
			body: "c=IN IP4 10.1.2.3\nm=video 5000 RTP/AVP 96\nc=IN IP4 10.7.7.7\nm=audio 42000 RTP/AVP 8\nc=IN IP4 10.4.5.6/127\n",
			want: Answer{RemoteIP: "10.4.5.6", RemotePort: 42000, PayloadType: 8},
		},
		{
			name: "missing payload type uses default",
			body: "c=IN IP4 10.1.2.3\r\nm=audio 40000 RTP/AVP\r\n",
			want: Answer{RemoteIP: "10.1.2.3", RemotePort: 40000, PayloadType: DefaultPayloadType},
		},
		{
			name: "first audio line only",
			body: "c=IN IP4 10.1.2.3\r\nm=audio 40000 RTP/AVP 0\r\nm=audio 50000 RTP/AVP 8\r\n",
			want: Answer{RemoteIP: "10.1.2.3", RemotePort: 40000, PayloadType: 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAnswer([]byte(tt.body), DefaultPayloadType)
			require.NoError(t, err)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestParseAnswer_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		code SDPErrorCode
	}{
		{"empty", "", ErrorCodeSDPParsing},
		{"no audio", "c=IN IP4 10.1.2.3\r\nm=video 5000 RTP/AVP 96\r\n", ErrorCodeNoAudio},
		{"no connection", "m=audio 40000 RTP/AVP 8\r\n", ErrorCodeNoConnection},
		{"rejected stream", "c=IN IP4 10.1.2.3\r\nm=audio 0 RTP/AVP 8\r\n", ErrorCodeSDPParsing},
		{"bad port", "c=IN IP4 10.1.2.3\r\nm=audio abc RTP/AVP 8\r\n", ErrorCodeSDPParsing},
		{"bad payload type", "c=IN IP4 10.1.2.3\r\nm=audio 40000 RTP/AVP xyz\r\n", ErrorCodeSDPParsing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAnswer([]byte(tt.body), DefaultPayloadType)
			require.Error(t, err)
			assert.True(t, IsSDPError(err, tt.code), "got %v", err)
		})
	}
}

func TestAnswer_Addr(t *testing.T) {
	assert.Equal(t, "10.1.2.3:40000", Answer{RemoteIP: "10.1.2.3", RemotePort: 40000}.Addr())
}
