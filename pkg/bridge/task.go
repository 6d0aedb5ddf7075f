package bridge

import (
	"context"
	"sync"

	"github.com/arzzra/sip_bridge/pkg/dialog"
	"github.com/arzzra/sip_bridge/pkg/sip/message"
)

// Task is one running call. Its Result is available once Done is closed.
type Task struct {
	room   string
	callID string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	client *dialog.Client
	result Result
}

func newTask(ctx context.Context, room string) *Task {
	ctx, cancel := context.WithCancel(ctx)
	return &Task{
		room:   room,
		callID: message.GenerateCallID(),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Room returns the room the call is bridged into
func (t *Task) Room() string {
	return t.room
}

// Done is closed when the call has ended and its resources are released
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Result returns the final outcome. ok is false while the call is running.
func (t *Task) Result() (Result, bool) {
	select {
	case <-t.done:
	default:
		return Result{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result, true
}

// Wait blocks until the call ends or ctx is done
func (t *Task) Wait(ctx context.Context) (Result, error) {
	select {
	case <-t.done:
		r, _ := t.Result()
		return r, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Hangup asks the call to end. It returns immediately and is idempotent.
func (t *Task) Hangup() {
	t.cancel()
}

// State returns the dialog state, idle until the dialog is created
func (t *Task) State() dialog.State {
	if c := t.dialog(); c != nil {
		return c.State()
	}
	select {
	case <-t.done:
		return dialog.StateClosed
	default:
		return dialog.StateIdle
	}
}

// CallID returns the Call-ID the call's INVITE carries. It is fixed when
// the task is created.
func (t *Task) CallID() string {
	return t.callID
}

func (t *Task) dialog() *dialog.Client {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client
}

func (t *Task) setDialog(c *dialog.Client) {
	t.mu.Lock()
	t.client = c
	t.mu.Unlock()
}

func (t *Task) finish(r Result) {
	t.mu.Lock()
	t.result = r
	t.mu.Unlock()
	t.cancel()
	close(t.done)
}
