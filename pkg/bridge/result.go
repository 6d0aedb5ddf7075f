package bridge

import (
	"time"

	"github.com/arzzra/sip_bridge/pkg/dialog"
	"github.com/arzzra/sip_bridge/pkg/media_sdp"
)

// Outcome итог звонка
type Outcome string

const (
	OutcomeCompleted     Outcome = "completed"
	OutcomeUnreachable   Outcome = "unreachable"
	OutcomeRejected      Outcome = "rejected"
	OutcomeMisconfigured Outcome = "misconfigured"
	OutcomeProtocol      Outcome = "protocol"
	OutcomeCancelled     Outcome = "cancelled"
	OutcomeMediaFailed   Outcome = "media_failed"
)

// Result is the final outcome of a call task
type Result struct {
	Room    string  `json:"room_name"`
	CallID  string  `json:"call_id,omitempty"`
	Outcome Outcome `json:"outcome"`

	// Reason is set for completed calls
	Reason dialog.DisconnectReason `json:"reason,omitempty"`
	// StatusCode is the carrier's final response when it rejected the call
	StatusCode int `json:"status_code,omitempty"`

	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`

	Answer *media_sdp.Answer `json:"answer,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	AnsweredAt time.Time `json:"answered_at"`
	EndedAt    time.Time `json:"ended_at"`
}

// Duration is the answered time, zero for calls that never connected
func (r Result) Duration() time.Duration {
	if r.AnsweredAt.IsZero() || r.EndedAt.Before(r.AnsweredAt) {
		return 0
	}
	return r.EndedAt.Sub(r.AnsweredAt)
}

func (r *Result) fail(outcome Outcome, err error) {
	r.Outcome = outcome
	r.Err = err
	if err != nil {
		r.Error = err.Error()
	}
}

// OutcomeFor maps a dialog error to a call outcome
func OutcomeFor(err error) Outcome {
	switch dialog.KindOf(err) {
	case dialog.KindConnect, dialog.KindTimeout:
		return OutcomeUnreachable
	case dialog.KindCarrierRejected, dialog.KindAuth:
		return OutcomeRejected
	case dialog.KindConfig:
		return OutcomeMisconfigured
	case dialog.KindProtocol:
		return OutcomeProtocol
	case dialog.KindCancelled:
		return OutcomeCancelled
	}
	return OutcomeProtocol
}
