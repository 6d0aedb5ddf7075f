package dialog

import (
	"context"
	"log/slog"

	"github.com/looplab/fsm"
)

// State состояние диалога
type State string

const (
	StateIdle            State = "idle"
	StateConnecting      State = "connecting"
	StateInviteSent      State = "invite_sent"
	StateAuthChallenged  State = "auth_challenged"
	StateConnectedActive State = "connected_active"
	StateTerminating     State = "terminating"
	StateClosed          State = "closed"
	StateFailed          State = "failed"
)

// String возвращает строковое представление состояния
func (s State) String() string {
	return string(s)
}

// Negotiating reports whether the INVITE transaction is still open
func (s State) Negotiating() bool {
	return s == StateConnecting || s == StateInviteSent || s == StateAuthChallenged
}

// Terminal reports whether no further transitions except close are possible
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

const (
	eventConnect   = "connect"
	eventInvite    = "invite"
	eventChallenge = "challenge"
	eventAnswer    = "answer"
	eventTerminate = "terminate"
	eventFail      = "fail"
	eventClose     = "close"
)

// DisconnectReason tells why an established call ended
type DisconnectReason string

const (
	ReasonRemoteBye      DisconnectReason = "remote_bye"
	ReasonLocalHangup    DisconnectReason = "local_hangup"
	ReasonSilence        DisconnectReason = "silence"
	ReasonConnectionLost DisconnectReason = "connection_lost"
	ReasonCancelled      DisconnectReason = "cancelled"
)

// newStateMachine builds the dialog lifecycle. Every transition is logged
// and reported to onChange.
func newStateMachine(logger *slog.Logger, onChange func(from, to State)) *fsm.FSM {
	return fsm.NewFSM(
		string(StateIdle),
		fsm.Events{
			{Name: eventConnect, Src: []string{string(StateIdle)}, Dst: string(StateConnecting)},
			{Name: eventInvite, Src: []string{string(StateConnecting)}, Dst: string(StateInviteSent)},
			{Name: eventChallenge, Src: []string{string(StateInviteSent)}, Dst: string(StateAuthChallenged)},
			{Name: eventAnswer, Src: []string{string(StateInviteSent), string(StateAuthChallenged)}, Dst: string(StateConnectedActive)},
			{Name: eventTerminate, Src: []string{string(StateConnectedActive)}, Dst: string(StateTerminating)},
			{Name: eventFail, Src: []string{
				string(StateIdle),
				string(StateConnecting),
				string(StateInviteSent),
				string(StateAuthChallenged),
				string(StateConnectedActive),
				string(StateTerminating),
			}, Dst: string(StateFailed)},
			{Name: eventClose, Src: []string{
				string(StateIdle),
				string(StateConnecting),
				string(StateInviteSent),
				string(StateAuthChallenged),
				string(StateConnectedActive),
				string(StateTerminating),
				string(StateFailed),
			}, Dst: string(StateClosed)},
		},
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				logger.Debug("dialog state changed",
					slog.String("event", e.Event),
					slog.String("from", e.Src),
					slog.String("to", e.Dst))
				if onChange != nil {
					onChange(State(e.Src), State(e.Dst))
				}
			},
		},
	)
}
