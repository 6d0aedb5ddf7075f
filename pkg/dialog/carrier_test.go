package dialog

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/arzzra/sip_bridge/pkg/media_sdp"
	"github.com/arzzra/sip_bridge/pkg/sip/digest"
	"github.com/arzzra/sip_bridge/pkg/sip/message"
	"github.com/stretchr/testify/require"
)

const (
	carrierTag = "as58f4"

	answerSDP = "v=0\r\n" +
		"o=- 7 7 IN IP4 10.1.2.3\r\n" +
		"s=-\r\n" +
		"c=IN IP4 10.1.2.3\r\n" +
		"t=0 0\r\n" +
		"m=audio 40000 RTP/AVP 8 101\r\n" +
		"a=rtpmap:8 PCMA/8000\r\n"
)

// fakeCarrier accepts one TCP connection and speaks SIP through it
type fakeCarrier struct {
	t      *testing.T
	ln     net.Listener
	conn   net.Conn
	framer *message.Framer
	parser *message.Parser
}

func newFakeCarrier(t *testing.T) *fakeCarrier {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	c := &fakeCarrier{
		t:      t,
		ln:     ln,
		framer: message.NewFramer(),
		parser: message.NewParser(),
	}
	t.Cleanup(func() {
		_ = ln.Close()
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
	return c
}

func (c *fakeCarrier) target() Target {
	return Target{
		Number:      "08044319240",
		ProxyHost:   "127.0.0.1",
		ProxyPort:   c.ln.Addr().(*net.TCPAddr).Port,
		CallerID:    "1234",
		FromDomain:  "bridge.example",
		Credentials: digest.Credentials{Username: "trunk-user", Password: "secret"},
		LocalIP:     "127.0.0.1",
		LocalPort:   5070,
	}
}

func (c *fakeCarrier) accept() {
	c.t.Helper()
	_ = c.ln.(*net.TCPListener).SetDeadline(time.Now().Add(3 * time.Second))
	conn, err := c.ln.Accept()
	require.NoError(c.t, err)
	c.conn = conn
}

// next returns the next message, nil on timeout and io.EOF once the client
// has closed the connection.
func (c *fakeCarrier) next(timeout time.Duration) (message.Message, error) {
	buf := make([]byte, 4096)
	deadline := time.Now().Add(timeout)
	for {
		data, ok, err := c.framer.Next()
		if err != nil {
			return nil, err
		}
		if ok {
			return c.parser.ParseMessage(data)
		}

		_ = c.conn.SetReadDeadline(deadline)
		n, err := c.conn.Read(buf)
		c.framer.Feed(buf[:n])
		if err != nil && n == 0 {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return nil, nil
			}
			return nil, io.EOF
		}
	}
}

func (c *fakeCarrier) readRequest(method string) *message.Request {
	c.t.Helper()
	msg, err := c.next(3 * time.Second)
	require.NoError(c.t, err)
	require.NotNil(c.t, msg, "no %s received", method)
	req, ok := msg.(*message.Request)
	require.True(c.t, ok, "expected %s, got %s", method, msg.String())
	require.Equal(c.t, method, req.Method)
	return req
}

func (c *fakeCarrier) readResponse() *message.Response {
	c.t.Helper()
	msg, err := c.next(3 * time.Second)
	require.NoError(c.t, err)
	require.NotNil(c.t, msg, "no response received")
	resp, ok := msg.(*message.Response)
	require.True(c.t, ok, "expected response, got %s", msg.String())
	return resp
}

// expectSilence fails if anything arrives within d
func (c *fakeCarrier) expectSilence(d time.Duration) {
	c.t.Helper()
	msg, err := c.next(d)
	require.NoError(c.t, err)
	require.Nil(c.t, msg, "unexpected message")
}

// expectClosed fails if anything but EOF arrives
func (c *fakeCarrier) expectClosed() {
	c.t.Helper()
	msg, err := c.next(3 * time.Second)
	require.Nil(c.t, msg, "unexpected message before close")
	require.ErrorIs(c.t, err, io.EOF)
}

func (c *fakeCarrier) respond(req *message.Request, code int, headers map[string]string, body string) {
	c.t.Helper()
	b := message.NewResponse(req, code, "").ToTag(carrierTag)
	for name, value := range headers {
		b.Header(name, value)
	}
	if body != "" {
		b.Body(message.ContentTypeSDP, []byte(body))
	}
	c.write(b.Build())
}

func (c *fakeCarrier) write(msg message.Message) {
	c.t.Helper()
	_, err := c.conn.Write(msg.Bytes())
	require.NoError(c.t, err)
}

// sendBye sends a BYE inside the client's dialog and returns it
func (c *fakeCarrier) sendBye(client *Client, cseq uint32) *message.Request {
	c.t.Helper()
	id := client.Identity()
	carrierURI := message.NewURI("08044319240", "127.0.0.1", c.target().ProxyPort)

	bye, err := message.NewRequest("BYE", message.NewURI("1234", "127.0.0.1", 5070)).
		Via("TCP", "127.0.0.1", c.target().ProxyPort, "z9hG4bK-carrier1").
		From("", carrierURI, carrierTag).
		To(c.target().FromURI(), id.FromTag).
		CallID(id.CallID).
		CSeq(cseq).
		Build()
	require.NoError(c.t, err)
	c.write(bye)
	return bye
}

type inviteResult struct {
	answer *media_sdp.Answer
	err    error
}

func newTestClient(t *testing.T, target Target, opts ...Option) *Client {
	t.Helper()
	client, err := NewClient(target, media_sdp.NewOffer("203.0.113.7", 30000), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// startCall connects the client and runs SendInvite in the background
func startCall(t *testing.T, carrier *fakeCarrier, client *Client) <-chan inviteResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	require.NoError(t, client.Connect(ctx))
	carrier.accept()

	result := make(chan inviteResult, 1)
	go func() {
		answer, err := client.SendInvite(ctx)
		result <- inviteResult{answer, err}
	}()
	return result
}

func waitResult(t *testing.T, result <-chan inviteResult) inviteResult {
	t.Helper()
	select {
	case r := <-result:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("SendInvite did not return")
		return inviteResult{}
	}
}

// answerCall drives a call to the connected state
func answerCall(t *testing.T, carrier *fakeCarrier, client *Client) {
	t.Helper()
	result := startCall(t, carrier, client)
	invite := carrier.readRequest("INVITE")
	carrier.respond(invite, 200, nil, answerSDP)
	carrier.readRequest("ACK")
	r := waitResult(t, result)
	require.NoError(t, r.err)
	require.Equal(t, StateConnectedActive, client.State())
}
