package dialog

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/arzzra/sip_bridge/pkg/media_sdp"
	"github.com/arzzra/sip_bridge/pkg/sip/digest"
	"github.com/arzzra/sip_bridge/pkg/sip/message"
	"github.com/arzzra/sip_bridge/pkg/sip/transport"
	"github.com/emiago/sipgo/sip"
	"github.com/looplab/fsm"
	"github.com/pkg/errors"
)

// Client drives one outbound call over its own TCP connection.
//
// Connect, SendInvite and WaitForDisconnection are called in sequence from
// one goroutine. Hangup and Close may be called from any goroutine at any
// time, but not from a state observer.
type Client struct {
	target Target
	sdp    []byte

	timeouts     Timeouts
	transportCfg transport.Config
	observer     transport.Observer
	onState      func(from, to State)
	defaultPT    uint8
	logger       *slog.Logger

	id  *Identity
	fsm *fsm.FSM

	mu           sync.Mutex
	conn         *transport.Conn
	viaHost      string
	viaPort      int
	answer       *media_sdp.Answer
	inviteCSeq   uint32
	inviteBranch string

	// only touched by the negotiating goroutine
	authAttempted bool

	// hangupMu orders a negotiating Hangup against the answer transition
	hangupMu  sync.Mutex
	cancelled atomic.Bool
	// aborted ends Connect and SendInvite when Hangup runs while negotiating
	aborted context.Context
	abort   context.CancelFunc
}

// NewClient prepares a call to target offering the given media. Nothing is
// sent until Connect.
func NewClient(target Target, offer media_sdp.Offer, opts ...Option) (*Client, error) {
	c := &Client{
		target: target,
		id:     newIdentity(),
	}
	defaultOptions(c)
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("callID", c.id.callID))

	if err := target.Validate(); err != nil {
		return nil, newError(KindConfig, c.id.callID, err, "invalid call target")
	}
	if err := offer.Validate(); err != nil {
		return nil, newError(KindConfig, c.id.callID, err, "invalid media offer")
	}
	body, err := offer.Marshal()
	if err != nil {
		return nil, newError(KindConfig, c.id.callID, err, "invalid media offer")
	}
	c.sdp = body
	c.fsm = newStateMachine(c.logger, c.onState)
	c.aborted, c.abort = context.WithCancel(context.Background())

	return c, nil
}

// CallID returns the Call-ID of the dialog
func (c *Client) CallID() string {
	return c.id.callID
}

// State returns the current dialog state
func (c *Client) State() State {
	return State(c.fsm.Current())
}

// Identity returns a copy of the dialog identifiers
func (c *Client) Identity() IdentitySnapshot {
	return c.id.Snapshot()
}

// Answer returns the negotiated remote media, nil before the call is answered
func (c *Client) Answer() *media_sdp.Answer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.answer == nil {
		return nil
	}
	answer := *c.answer
	return &answer
}

// TransportStats returns the signalling connection counters
func (c *Client) TransportStats() transport.Stats {
	if conn := c.connection(); conn != nil {
		return conn.Stats()
	}
	return transport.Stats{}
}

// Connect opens the TCP connection to the carrier proxy
func (c *Client) Connect(ctx context.Context) error {
	if err := c.event(eventConnect); err != nil {
		return newError(KindState, c.id.callID, err, "connect in state %s", c.State())
	}

	cfg := c.transportCfg
	cfg.DialTimeout = c.timeouts.Connect
	if c.observer != nil {
		cfg.Observer = c.observer
	}

	ctx, done := c.negotiation(ctx)
	defer done()

	addr := c.target.ProxyAddr()
	c.logger.Info("connecting to carrier", slog.String("proxy", addr))

	conn, err := transport.Dial(ctx, addr, cfg)
	if err != nil {
		if c.cancelled.Load() || ctx.Err() != nil {
			return c.fail(KindCancelled, err, "connect cancelled")
		}
		return c.fail(KindConnect, err, "connect to %s", addr)
	}

	c.mu.Lock()
	c.conn = conn
	c.viaHost, c.viaPort = c.target.LocalIP, c.target.LocalPort
	if local, ok := conn.LocalAddr().(*net.TCPAddr); ok {
		if c.viaHost == "" {
			c.viaHost = local.IP.String()
		}
		if c.viaPort == 0 {
			c.viaPort = local.Port
		}
	}
	c.mu.Unlock()

	if c.cancelled.Load() {
		return c.fail(KindCancelled, nil, "hangup during connect")
	}

	c.logger.Info("connected to carrier", slog.String("local", conn.LocalAddr().String()))
	return nil
}

// SendInvite sends the INVITE and blocks until the call is answered or
// fails. A single digest challenge is answered with the configured
// credentials. Provisional responses are logged and skipped.
func (c *Client) SendInvite(ctx context.Context) (*media_sdp.Answer, error) {
	if st := c.State(); st != StateConnecting {
		return nil, newError(KindState, c.id.callID, nil, "send INVITE in state %s", st)
	}
	if c.cancelled.Load() {
		return nil, c.fail(KindCancelled, nil, "hangup before INVITE")
	}

	ctx, done := c.negotiation(ctx)
	defer done()

	cseq, branch := c.id.current()
	if err := c.sendInvite(cseq, branch, "", false); err != nil {
		return nil, c.failSend(ctx, err, "send INVITE")
	}
	if err := c.event(eventInvite); err != nil {
		return nil, c.fail(KindCancelled, err, "INVITE aborted")
	}
	c.logger.Info("INVITE sent", slog.String("to", c.target.RequestURI().String()))

	return c.awaitAnswer(ctx)
}

func (c *Client) awaitAnswer(ctx context.Context) (*media_sdp.Answer, error) {
	conn := c.connection()
	if conn == nil {
		return nil, c.fail(KindCancelled, nil, "connection closed")
	}

	for {
		msg, err := conn.ReadMessage(ctx, c.timeouts.Response)
		if err != nil {
			return nil, c.failRead(ctx, err)
		}

		resp, ok := msg.(*message.Response)
		if !ok {
			c.logger.Debug("ignoring request while negotiating",
				slog.String("method", msg.(*message.Request).Method))
			continue
		}

		inviteCSeq, _ := c.inviteTransaction()
		seq, method, err := resp.CSeq()
		if err != nil || method != string(sip.INVITE) || seq != inviteCSeq {
			c.logger.Debug("ignoring unrelated response",
				slog.Int("status", resp.StatusCode),
				slog.String("cseq", resp.GetHeader("CSeq")))
			continue
		}

		switch {
		case resp.IsProvisional():
			c.logger.Info("provisional response",
				slog.Int("status", resp.StatusCode),
				slog.String("reason", resp.ReasonPhrase))
		case resp.IsSuccess():
			return c.handleAnswer(ctx, resp)
		case resp.IsChallenge():
			if err := c.handleChallenge(ctx, resp); err != nil {
				return nil, err
			}
		default:
			return nil, c.reject(resp)
		}
	}
}

func (c *Client) handleChallenge(ctx context.Context, resp *message.Response) error {
	cseq, branch := c.inviteTransaction()
	if err := c.sendAck(cseq, branch, message.ExtractTag(resp.GetHeader("To"))); err != nil {
		return c.failSend(ctx, err, "ACK challenge")
	}

	if c.authAttempted {
		return c.fail(KindAuth, nil, "credentials rejected with %d %s", resp.StatusCode, resp.ReasonPhrase)
	}

	proxy := resp.StatusCode == int(sip.StatusProxyAuthRequired)
	header := digest.HeaderWWWAuthenticate
	if proxy {
		header = digest.HeaderProxyAuthenticate
	}
	challenge := resp.GetHeader(header)
	if challenge == "" {
		return c.fail(KindAuth, nil, "%d without %s", resp.StatusCode, header)
	}

	authorization, err := digest.Authorize(string(sip.INVITE), c.target.RequestURI().String(), c.target.Credentials, challenge)
	if err != nil {
		return c.fail(KindAuth, err, "answer %s", header)
	}
	c.authAttempted = true

	cseq, branch = c.id.next()
	if err := c.sendInvite(cseq, branch, authorization, proxy); err != nil {
		return c.failSend(ctx, err, "send authenticated INVITE")
	}
	if err := c.event(eventChallenge); err != nil {
		return c.fail(KindCancelled, err, "INVITE aborted")
	}

	c.logger.Info("INVITE resent with credentials",
		slog.Int("challenge", resp.StatusCode),
		slog.Uint64("cseq", uint64(cseq)))
	return nil
}

func (c *Client) handleAnswer(ctx context.Context, resp *message.Response) (*media_sdp.Answer, error) {
	c.id.learnToTag(message.ExtractTag(resp.GetHeader("To")))

	cseq, branch := c.inviteTransaction()
	if err := c.sendAck(cseq, branch, c.id.remoteTag()); err != nil {
		return nil, c.failSend(ctx, err, "ACK 2xx")
	}

	answer, err := media_sdp.ParseAnswer(resp.Body(), c.defaultPT)
	if err != nil {
		c.byeConfirmed("unusable answer")
		return nil, c.fail(KindProtocol, err, "unusable SDP answer")
	}

	c.hangupMu.Lock()
	if c.cancelled.Load() {
		c.hangupMu.Unlock()
		c.byeConfirmed("hangup before answer")
		return nil, c.fail(KindCancelled, nil, "call answered after hangup")
	}
	c.mu.Lock()
	c.answer = answer
	c.mu.Unlock()
	err = c.event(eventAnswer)
	c.hangupMu.Unlock()
	if err != nil {
		return nil, c.fail(KindCancelled, err, "call answered after hangup")
	}

	c.logger.Info("call answered",
		slog.Int("status", resp.StatusCode),
		slog.String("remoteMedia", answer.Addr()),
		slog.Int("payloadType", int(answer.PayloadType)))
	return answer, nil
}

// byeConfirmed ends a dialog the carrier has confirmed with 2xx but that
// will not go active
func (c *Client) byeConfirmed(why string) {
	if err := c.sendBye(); err != nil {
		c.logger.Warn("BYE failed", slog.String("cause", why), slog.String("error", err.Error()))
	}
}

// reject ends negotiation on a final response the carrier will not retry
func (c *Client) reject(resp *message.Response) error {
	cseq, branch := c.inviteTransaction()
	if err := c.sendAck(cseq, branch, message.ExtractTag(resp.GetHeader("To"))); err != nil {
		c.logger.Warn("failed to ACK final response", slog.String("error", err.Error()))
	}

	return c.failWith(&Error{
		Kind:       KindCarrierRejected,
		CallID:     c.id.callID,
		StatusCode: resp.StatusCode,
		Reason:     resp.ReasonPhrase,
		Message:    "carrier rejected call",
	})
}

// WaitForDisconnection blocks while the call is up and reports why it
// ended. An inbound BYE is answered with 200 OK and closes the dialog.
// Silence and a lost connection leave the state for Hangup to finish.
func (c *Client) WaitForDisconnection(ctx context.Context) (DisconnectReason, error) {
	if st := c.State(); st != StateConnectedActive {
		return "", newError(KindState, c.id.callID, nil, "monitor in state %s", st)
	}
	conn := c.connection()

	for {
		msg, err := conn.ReadMessage(ctx, c.timeouts.Silence)
		if err != nil {
			return c.disconnectReason(ctx, err)
		}

		switch m := msg.(type) {
		case *message.Request:
			if reason, done := c.handleInDialogRequest(m); done {
				return reason, nil
			}
		case *message.Response:
			c.handleInDialogResponse(m)
		}
	}
}

func (c *Client) disconnectReason(ctx context.Context, err error) (DisconnectReason, error) {
	switch {
	case c.State() != StateConnectedActive:
		return ReasonLocalHangup, nil
	case ctx.Err() != nil:
		return ReasonCancelled, nil
	case errors.Is(err, transport.ErrReadTimeout):
		c.logger.Info("no signalling within silence timeout", slog.Duration("timeout", c.timeouts.Silence))
		return ReasonSilence, nil
	case errors.Is(err, transport.ErrMalformedMessage):
		return ReasonConnectionLost, newError(KindProtocol, c.id.callID, err, "malformed message from carrier")
	default:
		c.logger.Info("signalling connection lost", slog.String("error", err.Error()))
		return ReasonConnectionLost, nil
	}
}

func (c *Client) handleInDialogRequest(req *message.Request) (DisconnectReason, bool) {
	if req.GetHeader("Call-ID") != c.id.callID {
		c.respond(req, int(sip.StatusCallTransactionDoesNotExists))
		return "", false
	}

	switch req.Method {
	case string(sip.BYE):
		if err := c.event(eventTerminate); err != nil {
			return ReasonLocalHangup, true
		}
		c.respond(req, int(sip.StatusOK))
		c.logger.Info("remote BYE")
		_ = c.Close()
		return ReasonRemoteBye, true
	case string(sip.ACK):
	case string(sip.OPTIONS):
		c.respond(req, int(sip.StatusOK))
	default:
		c.logger.Debug("rejecting in-dialog request", slog.String("method", req.Method))
		c.respond(req, int(sip.StatusMethodNotAllowed))
	}
	return "", false
}

func (c *Client) handleInDialogResponse(resp *message.Response) {
	cseq, branch := c.inviteTransaction()
	seq, method, err := resp.CSeq()
	if err == nil && resp.IsSuccess() && method == string(sip.INVITE) && seq == cseq {
		// 2xx retransmission, ACK it again
		if err := c.sendAck(cseq, branch, c.id.remoteTag()); err != nil {
			c.logger.Warn("failed to re-ACK 2xx", slog.String("error", err.Error()))
		}
		return
	}
	c.logger.Debug("ignoring in-dialog response",
		slog.Int("status", resp.StatusCode),
		slog.String("cseq", resp.GetHeader("CSeq")))
}

// Hangup ends the call. An answered call gets exactly one BYE. While
// negotiating the pending INVITE is abandoned and SendInvite returns a
// cancelled error; a 2xx that is already in flight is still ACKed and then
// ended with BYE. In any other state Hangup does nothing.
func (c *Client) Hangup() error {
	c.hangupMu.Lock()
	st := c.State()
	if st.Negotiating() {
		c.cancelled.Store(true)
		c.abort()
		c.hangupMu.Unlock()
		c.logger.Info("hangup while negotiating", slog.String("state", st.String()))
		return nil
	}
	c.hangupMu.Unlock()

	switch st {
	case StateConnectedActive:
		if err := c.event(eventTerminate); err != nil {
			// remote BYE or a concurrent Hangup got there first
			return nil
		}
		err := c.sendBye()
		_ = c.Close()
		if err != nil {
			c.logger.Warn("hangup without BYE", slog.String("error", err.Error()))
		}
	case StateIdle:
		return c.Close()
	}
	return nil
}

// Close releases the connection and moves the dialog to closed. It never
// sends anything and is safe to call repeatedly.
func (c *Client) Close() error {
	c.abort()
	c.closeConn()
	if c.State() != StateClosed {
		_ = c.event(eventClose)
	}
	return nil
}

func (c *Client) sendInvite(cseq uint32, branch, authorization string, proxy bool) error {
	b := c.newRequest(string(sip.INVITE), cseq, branch, "").
		Contact(c.contactURI()).
		Supported(message.DefaultSupported).
		Allow(message.DefaultAllow).
		Body(message.ContentTypeSDP, c.sdp)
	if authorization != "" {
		b.Authorization(authorization, proxy)
	}

	req, err := b.Build()
	if err != nil {
		return errors.Wrap(err, "build INVITE")
	}

	c.mu.Lock()
	c.inviteCSeq, c.inviteBranch = cseq, branch
	c.mu.Unlock()

	return c.send(req)
}

// sendAck acknowledges a final INVITE response. It reuses the INVITE's CSeq
// number and branch.
func (c *Client) sendAck(cseq uint32, branch, toTag string) error {
	req, err := c.newRequest(string(sip.ACK), cseq, branch, toTag).Build()
	if err != nil {
		return errors.Wrap(err, "build ACK")
	}
	return c.send(req)
}

func (c *Client) sendBye() error {
	cseq, branch := c.id.next()
	req, err := c.newRequest(string(sip.BYE), cseq, branch, c.id.remoteTag()).Build()
	if err != nil {
		return errors.Wrap(err, "build BYE")
	}
	if err := c.send(req); err != nil {
		return errors.Wrap(err, "failed to send BYE request")
	}
	c.logger.Info("BYE sent", slog.Uint64("cseq", uint64(cseq)))
	return nil
}

func (c *Client) respond(req *message.Request, code int) {
	resp := message.NewResponse(req, code, "").Build()
	if err := c.send(resp); err != nil {
		c.logger.Warn("failed to send response",
			slog.Int("status", code),
			slog.String("method", req.Method),
			slog.String("error", err.Error()))
	}
}

func (c *Client) newRequest(method string, cseq uint32, branch, toTag string) *message.RequestBuilder {
	c.mu.Lock()
	host, port := c.viaHost, c.viaPort
	c.mu.Unlock()

	uri := c.target.RequestURI()
	return message.NewRequest(method, uri).
		Via("TCP", host, port, branch).
		From(c.target.CallerID, c.target.FromURI(), c.id.fromTag).
		To(uri, toTag).
		CallID(c.id.callID).
		CSeq(cseq)
}

func (c *Client) contactURI() *message.URI {
	c.mu.Lock()
	defer c.mu.Unlock()
	return message.NewURI(c.target.CallerID, c.viaHost, c.viaPort).WithParam("transport", "tcp")
}

func (c *Client) send(msg message.Message) error {
	conn := c.connection()
	if conn == nil {
		return transport.ErrConnectionClosed
	}
	return conn.Send(msg)
}

func (c *Client) connection() *transport.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Client) inviteTransaction() (uint32, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inviteCSeq, c.inviteBranch
}

func (c *Client) closeConn() {
	if conn := c.connection(); conn != nil {
		if err := conn.Close(); err != nil {
			c.logger.Debug("close signalling connection", slog.String("error", err.Error()))
		}
	}
}

// negotiation derives the context of a negotiating step. It ends with ctx or
// with a Hangup.
func (c *Client) negotiation(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.aborted, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// event fires a transition. The caller's context is not used so that a
// cancelled call can still reach failed or closed.
func (c *Client) event(name string) error {
	return c.fsm.Event(context.Background(), name)
}

func (c *Client) fail(kind Kind, cause error, format string, args ...interface{}) *Error {
	return c.failWith(newError(kind, c.id.callID, cause, format, args...))
}

func (c *Client) failWith(err *Error) *Error {
	c.closeConn()
	_ = c.event(eventFail)
	c.logger.Warn("call failed",
		slog.String("kind", err.Kind.String()),
		slog.String("error", err.Error()))
	return err
}

func (c *Client) failSend(ctx context.Context, err error, op string) *Error {
	if c.cancelled.Load() || ctx.Err() != nil {
		return c.fail(KindCancelled, err, "%s", op)
	}
	return c.fail(KindConnect, err, "%s", op)
}

func (c *Client) failRead(ctx context.Context, err error) *Error {
	switch {
	case c.cancelled.Load() || ctx.Err() != nil:
		return c.fail(KindCancelled, err, "INVITE cancelled")
	case errors.Is(err, transport.ErrReadTimeout):
		return c.fail(KindTimeout, err, "no final response within %s", c.timeouts.Response)
	case errors.Is(err, transport.ErrMalformedMessage):
		return c.fail(KindProtocol, err, "malformed message from carrier")
	default:
		return c.fail(KindConnect, err, "connection lost while negotiating")
	}
}
