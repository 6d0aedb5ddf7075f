package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/arzzra/sip_bridge/pkg/dialog"
	"github.com/arzzra/sip_bridge/pkg/media_sdp"
	"github.com/arzzra/sip_bridge/pkg/sip/message"
	"github.com/stretchr/testify/require"
)

const answerSDP = "v=0\r\n" +
	"o=- 7 7 IN IP4 10.1.2.3\r\n" +
	"s=-\r\n" +
	"c=IN IP4 10.1.2.3\r\n" +
	"t=0 0\r\n" +
	"m=audio 40000 RTP/AVP 8\r\n"

// scriptedCarrier accepts one connection and runs a script against it.
// The script's error is delivered on done.
type scriptedCarrier struct {
	ln   net.Listener
	done chan error
}

func newScriptedCarrier(t *testing.T, script func(*carrierConn) error) *scriptedCarrier {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	c := &scriptedCarrier{ln: ln, done: make(chan error, 1)}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			c.done <- err
			return
		}
		defer conn.Close()
		c.done <- script(&carrierConn{
			conn:   conn,
			framer: message.NewFramer(),
			parser: message.NewParser(),
		})
	}()
	return c
}

func (c *scriptedCarrier) port() int {
	return c.ln.Addr().(*net.TCPAddr).Port
}

func (c *scriptedCarrier) wait(t *testing.T) {
	t.Helper()
	select {
	case err := <-c.done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("carrier script did not finish")
	}
}

type carrierConn struct {
	conn   net.Conn
	framer *message.Framer
	parser *message.Parser
}

// next returns io.EOF once the client closed the connection
func (c *carrierConn) next() (message.Message, error) {
	buf := make([]byte, 4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		data, ok, err := c.framer.Next()
		if err != nil {
			return nil, err
		}
		if ok {
			return c.parser.ParseMessage(data)
		}
		n, err := c.conn.Read(buf)
		c.framer.Feed(buf[:n])
		if err != nil && n == 0 {
			return nil, err
		}
	}
}

func (c *carrierConn) expect(method string) (*message.Request, error) {
	msg, err := c.next()
	if err != nil {
		return nil, fmt.Errorf("waiting for %s: %w", method, err)
	}
	req, ok := msg.(*message.Request)
	if !ok || req.Method != method {
		return nil, fmt.Errorf("expected %s, got %q", method, msg.String())
	}
	return req, nil
}

func (c *carrierConn) expectClosed() error {
	msg, err := c.next()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if msg != nil {
		return fmt.Errorf("unexpected message %q", msg.String())
	}
	return err
}

func (c *carrierConn) respond(req *message.Request, code int, body string) error {
	b := message.NewResponse(req, code, "").ToTag("as58f4")
	if body != "" {
		b.Body(message.ContentTypeSDP, []byte(body))
	}
	_, err := c.conn.Write(b.Build().Bytes())
	return err
}

// answer takes the call and returns the INVITE
func (c *carrierConn) answer() (*message.Request, error) {
	invite, err := c.expect("INVITE")
	if err != nil {
		return nil, err
	}
	if err := c.respond(invite, 200, answerSDP); err != nil {
		return nil, err
	}
	if _, err := c.expect("ACK"); err != nil {
		return nil, err
	}
	return invite, nil
}

func (c *carrierConn) sendBye(invite *message.Request) error {
	bye, err := message.NewRequest("BYE", message.NewURI("1234", "127.0.0.1", 5070)).
		Via("TCP", "127.0.0.1", 5070, "z9hG4bK-carrier").
		From("", message.NewURI("08044319240", "127.0.0.1", 0), "as58f4").
		To(message.NewURI("1234", "bridge.example", 0), message.ExtractTag(invite.GetHeader("From"))).
		CallID(invite.GetHeader("Call-ID")).
		CSeq(1).
		Build()
	if err != nil {
		return err
	}
	_, err = c.conn.Write(bye.Bytes())
	return err
}

type fakeRelay struct {
	mu         sync.Mutex
	port       int
	allocErr   error
	connectErr error

	allocated []string
	connected map[string]media_sdp.Answer
	aborted   []string
	released  []string
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{port: 30000, connected: make(map[string]media_sdp.Answer)}
}

func (r *fakeRelay) AllocatePort(_ context.Context, room string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.allocErr != nil {
		return 0, r.allocErr
	}
	r.allocated = append(r.allocated, room)
	return r.port, nil
}

func (r *fakeRelay) Connect(_ context.Context, room string, remote media_sdp.Answer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.connectErr != nil {
		return r.connectErr
	}
	r.connected[room] = remote
	return nil
}

func (r *fakeRelay) Abort(room string, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aborted = append(r.aborted, room)
}

func (r *fakeRelay) Release(room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released = append(r.released, room)
}

func (r *fakeRelay) snapshot() (connected map[string]media_sdp.Answer, aborted, released []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	connected = make(map[string]media_sdp.Answer, len(r.connected))
	for k, v := range r.connected {
		connected[k] = v
	}
	return connected, append([]string(nil), r.aborted...), append([]string(nil), r.released...)
}

func testSettings(port int) Settings {
	return Settings{
		ProxyHost:  "127.0.0.1",
		ProxyPort:  port,
		FromDomain: "bridge.example",
		LocalIP:    "127.0.0.1",
		LocalPort:  5070,
		MediaIP:    "203.0.113.7",
		Timeouts:   dialog.Timeouts{Connect: time.Second, Response: 2 * time.Second},
	}
}

func testRequest(room string) CallRequest {
	return CallRequest{
		ToNumber:  "08044319240",
		RoomName:  room,
		SIPConfig: SIPConfig{ExotelNumber: "1234"},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitTask(t *testing.T, task *Task) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := task.Wait(ctx)
	require.NoError(t, err, "call did not finish")
	return r
}
