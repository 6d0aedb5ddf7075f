package message

import (
	"strconv"
	"strings"
	"testing"

	"github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSDP = "v=0\r\n" +
	"o=- 1 1 IN IP4 203.0.113.7\r\n" +
	"s=-\r\n" +
	"c=IN IP4 203.0.113.7\r\n" +
	"t=0 0\r\n" +
	"m=audio 30000 RTP/AVP 8 0 101\r\n"

func inviteBuilder() *RequestBuilder {
	callee := NewURI("08044319240", "pstn.in2.exotel.com", 5070)
	return NewRequest("INVITE", callee).
		Via("TCP", "198.51.100.10", 5070, "z9hG4bK-abc").
		From("1234", NewURI("1234", "bridge.example", 0), "trunk1").
		To(callee, "").
		CallID("call-1").
		CSeq(1).
		Contact(NewURI("1234", "198.51.100.10", 5070).WithParam("transport", "tcp")).
		Supported(DefaultSupported).
		Allow(DefaultAllow).
		Body(ContentTypeSDP, []byte(testSDP))
}

func TestRequestBuilder_Invite(t *testing.T) {
	req, err := inviteBuilder().Build()
	require.NoError(t, err)

	want := "INVITE sip:08044319240@pstn.in2.exotel.com:5070 SIP/2.0\r\n" +
		"Via: SIP/2.0/TCP 198.51.100.10:5070;branch=z9hG4bK-abc;rport\r\n" +
		"Max-Forwards: 70\r\n" +
		"From: \"1234\" <sip:1234@bridge.example>;tag=trunk1\r\n" +
		"To: <sip:08044319240@pstn.in2.exotel.com:5070>\r\n" +
		"Call-ID: call-1\r\n" +
		"CSeq: 1 INVITE\r\n" +
		"Contact: <sip:1234@198.51.100.10:5070;transport=tcp>\r\n" +
		"Supported: 100rel, timer\r\n" +
		"Allow: INVITE, ACK, CANCEL, BYE, OPTIONS, UPDATE\r\n" +
		"Content-Type: application/sdp\r\n" +
		"Content-Length: " + strconv.Itoa(len(testSDP)) + "\r\n" +
		"\r\n" + testSDP

	assert.Equal(t, want, req.String())
}

func TestRequestBuilder_OrderIndependentOfCalls(t *testing.T) {
	callee := NewURI("08044319240", "pstn.in2.exotel.com", 5070)
	reordered, err := NewRequest("invite", callee).
		Body(ContentTypeSDP, []byte(testSDP)).
		Allow(DefaultAllow).
		Supported(DefaultSupported).
		Contact(NewURI("1234", "198.51.100.10", 5070).WithParam("transport", "tcp")).
		CSeq(1).
		CallID("call-1").
		To(callee, "").
		From("1234", NewURI("1234", "bridge.example", 0), "trunk1").
		Via("tcp", "198.51.100.10", 5070, "z9hG4bK-abc").
		Build()
	require.NoError(t, err)

	canonical, err := inviteBuilder().Build()
	require.NoError(t, err)

	assert.Equal(t, canonical.String(), reordered.String())
}

func TestRequestBuilder_AuthorizationAfterCSeq(t *testing.T) {
	tests := []struct {
		proxy bool
		name  string
	}{
		{false, "Authorization"},
		{true, "Proxy-Authorization"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := inviteBuilder().
				CSeq(2).
				Authorization(`Digest username="u"`, tt.proxy).
				Build()
			require.NoError(t, err)

			lines := strings.Split(req.String(), "\r\n")
			assert.Equal(t, "CSeq: 2 INVITE", lines[6])
			assert.Equal(t, tt.name+`: Digest username="u"`, lines[7])
			assert.True(t, strings.HasPrefix(lines[8], "Contact: "))
		})
	}
}

func TestRequestBuilder_AckAndBye(t *testing.T) {
	callee := NewURI("08044319240", "pstn.in2.exotel.com", 5070)

	ack, err := NewRequest("ACK", callee).
		Via("TCP", "198.51.100.10", 5070, "z9hG4bK-abc").
		From("1234", NewURI("1234", "bridge.example", 0), "trunk1").
		To(callee, "as58f4").
		CallID("call-1").
		CSeq(2).
		Build()
	require.NoError(t, err)

	assert.Equal(t, "ACK sip:08044319240@pstn.in2.exotel.com:5070 SIP/2.0\r\n"+
		"Via: SIP/2.0/TCP 198.51.100.10:5070;branch=z9hG4bK-abc;rport\r\n"+
		"Max-Forwards: 70\r\n"+
		"From: \"1234\" <sip:1234@bridge.example>;tag=trunk1\r\n"+
		"To: <sip:08044319240@pstn.in2.exotel.com:5070>;tag=as58f4\r\n"+
		"Call-ID: call-1\r\n"+
		"CSeq: 2 ACK\r\n"+
		"Content-Length: 0\r\n"+
		"\r\n", ack.String())

	bye, err := NewRequest("BYE", callee).
		Via("TCP", "198.51.100.10", 5070, "z9hG4bK-new").
		From("1234", NewURI("1234", "bridge.example", 0), "trunk1").
		To(callee, "as58f4").
		CallID("call-1").
		CSeq(3).
		Build()
	require.NoError(t, err)
	assert.Equal(t, "3 BYE", bye.GetHeader("CSeq"))
	assert.Equal(t, "0", bye.GetHeader("Content-Length"))
	assert.Empty(t, bye.Body())
}

func TestRequestBuilder_Validation(t *testing.T) {
	callee := NewURI("1", "h", 0)

	tests := []struct {
		name    string
		builder *RequestBuilder
		missing string
	}{
		{"no Via", NewRequest("BYE", callee).From("", callee, "t").To(callee, "").CallID("c").CSeq(1), "Via"},
		{"no Call-ID", NewRequest("BYE", callee).Via("TCP", "h", 1, "b").From("", callee, "t").To(callee, "").CSeq(1), "Call-ID"},
		{"no CSeq", NewRequest("BYE", callee).Via("TCP", "h", 1, "b").From("", callee, "t").To(callee, "").CallID("c"), "CSeq"},
		{"INVITE without Contact", NewRequest("INVITE", callee).Via("TCP", "h", 1, "b").From("", callee, "t").To(callee, "").CallID("c").CSeq(1), "Contact"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.builder.Build()
			require.ErrorIs(t, err, ErrMissingHeader)
			assert.Contains(t, err.Error(), tt.missing)
		})
	}

	_, err := NewRequest("BYE", nil).Build()
	assert.ErrorIs(t, err, ErrInvalidRequestLine)
}

func TestResponseBuilder_OKToBye(t *testing.T) {
	bye := "BYE sip:1234@198.51.100.10:5070;transport=tcp SIP/2.0\r\n" +
		"Via: SIP/2.0/TCP 10.0.0.1:5070;branch=z9hG4bK-p1;received=1.2.3.4\r\n" +
		"Via: SIP/2.0/TCP 10.0.0.2:5070;branch=z9hG4bK-p2\r\n" +
		"Max-Forwards: 69\r\n" +
		"From: <sip:08044319240@pstn.in2.exotel.com>;tag=as58f4\r\n" +
		"To: \"1234\" <sip:1234@bridge.example>;tag=trunk1\r\n" +
		"Call-ID: call-1\r\n" +
		"CSeq: 102 BYE\r\n" +
		"Content-Length: 0\r\n\r\n"

	msg, err := NewParser().ParseMessage([]byte(bye))
	require.NoError(t, err)

	resp := NewResponse(msg.(*Request), 200, "").Build()

	assert.Equal(t, "SIP/2.0 200 OK\r\n"+
		"Via: SIP/2.0/TCP 10.0.0.1:5070;branch=z9hG4bK-p1;received=1.2.3.4\r\n"+
		"Via: SIP/2.0/TCP 10.0.0.2:5070;branch=z9hG4bK-p2\r\n"+
		"From: <sip:08044319240@pstn.in2.exotel.com>;tag=as58f4\r\n"+
		"To: \"1234\" <sip:1234@bridge.example>;tag=trunk1\r\n"+
		"Call-ID: call-1\r\n"+
		"CSeq: 102 BYE\r\n"+
		"Content-Length: 0\r\n"+
		"\r\n", resp.String())
}

func TestResponseBuilder_MissingHeadersAreSkipped(t *testing.T) {
	msg, err := NewParser().ParseMessage([]byte("BYE sip:a@b SIP/2.0\r\nCall-ID: x\r\n\r\n"))
	require.NoError(t, err)

	resp := NewResponse(msg.(*Request), 200, "OK").Build()
	assert.Equal(t, "SIP/2.0 200 OK\r\nCall-ID: x\r\nContent-Length: 0\r\n\r\n", resp.String())
}

func TestResponseBuilder_ToTag(t *testing.T) {
	msg, err := NewParser().ParseMessage([]byte("BYE sip:a@b SIP/2.0\r\nTo: <sip:a@b>\r\n\r\n"))
	require.NoError(t, err)

	resp := NewResponse(msg.(*Request), 481, "").ToTag("xyz").Build()
	assert.Equal(t, "Call/Transaction Does Not Exist", resp.ReasonPhrase)
	assert.Equal(t, "<sip:a@b>;tag=xyz", resp.GetHeader("To"))
}

// Messages produced by the builder must be accepted by an independent
// SIP parser with identical dialog identifiers.
func TestBuilder_SipgoParsesOutput(t *testing.T) {
	req, err := inviteBuilder().Authorization(`Digest username="u", realm="r", nonce="n", uri="sip:x", response="0"`, true).Build()
	require.NoError(t, err)

	parsed, err := sip.NewParser().ParseSIP(req.Bytes())
	require.NoError(t, err)

	sreq, ok := parsed.(*sip.Request)
	require.True(t, ok)
	assert.Equal(t, sip.INVITE, sreq.Method)
	assert.Equal(t, "call-1", sreq.CallID().Value())
	assert.Equal(t, uint32(1), sreq.CSeq().SeqNo)
	assert.Equal(t, testSDP, string(sreq.Body()))

	branch, ok := sreq.Via().Params.Get("branch")
	require.True(t, ok)
	assert.Equal(t, "z9hG4bK-abc", branch)

	fromTag, ok := sreq.From().Params.Get("tag")
	require.True(t, ok)
	assert.Equal(t, "trunk1", fromTag)
}

func TestGenerators(t *testing.T) {
	b1, b2 := GenerateBranch(), GenerateBranch()
	assert.True(t, strings.HasPrefix(b1, BranchMagicCookie+"-"))
	assert.NotEqual(t, b1, b2)

	tag := GenerateTag()
	assert.True(t, strings.HasPrefix(tag, "trunk"))
	assert.Len(t, tag, len("trunk")+10)

	assert.NotEqual(t, GenerateCallID(), GenerateCallID())
}
