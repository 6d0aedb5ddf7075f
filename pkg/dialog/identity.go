package dialog

import (
	"sync"

	"github.com/arzzra/sip_bridge/pkg/sip/message"
)

// Identity holds the identifiers of one dialog. It is owned by a single
// Client and never shared.
//
// CSeq only grows. INVITE and BYE each take a new number and branch, ACK
// reuses the INVITE's. The To tag is learned once from a 2xx and never
// changes afterwards.
type Identity struct {
	mu      sync.Mutex
	callID  string
	fromTag string
	toTag   string
	branch  string
	cseq    uint32
}

// IdentitySnapshot is a copy of the identifiers at one point in time
type IdentitySnapshot struct {
	CallID  string `json:"call_id"`
	FromTag string `json:"from_tag"`
	ToTag   string `json:"to_tag,omitempty"`
	Branch  string `json:"branch"`
	CSeq    uint32 `json:"cseq"`
}

func newIdentity() *Identity {
	return &Identity{
		callID:  message.GenerateCallID(),
		fromTag: message.GenerateTag(),
		branch:  message.GenerateBranch(),
		cseq:    1,
	}
}

// current returns the CSeq and branch of the transaction in progress
func (i *Identity) current() (uint32, string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.cseq, i.branch
}

// next starts a new transaction
func (i *Identity) next() (uint32, string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.cseq++
	i.branch = message.GenerateBranch()
	return i.cseq, i.branch
}

// learnToTag stores the remote tag unless one is already known.
// It reports whether tag is now the dialog's To tag.
func (i *Identity) learnToTag(tag string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.toTag == "" {
		i.toTag = tag
	}
	return i.toTag == tag
}

func (i *Identity) remoteTag() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.toTag
}

// Snapshot returns a copy of the current identifiers
func (i *Identity) Snapshot() IdentitySnapshot {
	i.mu.Lock()
	defer i.mu.Unlock()
	return IdentitySnapshot{
		CallID:  i.callID,
		FromTag: i.fromTag,
		ToTag:   i.toTag,
		Branch:  i.branch,
		CSeq:    i.cseq,
	}
}
