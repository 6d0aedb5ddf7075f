// Package bridge runs outbound carrier calls as background tasks and hands
// the negotiated media endpoint to a MediaRelay.
package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/arzzra/sip_bridge/pkg/dialog"
	"github.com/arzzra/sip_bridge/pkg/media_sdp"
	"github.com/pkg/errors"
)

var (
	ErrRoomBusy     = errors.New("room already has an active call")
	ErrUnknownRoom  = errors.New("no call for room")
	ErrShuttingDown = errors.New("bridge is shutting down")
)

// MediaRelay moves audio between the carrier and the room
type MediaRelay interface {
	// AllocatePort reserves the local RTP port offered in SDP
	AllocatePort(ctx context.Context, room string) (int, error)
	// Connect hands over the carrier's negotiated endpoint
	Connect(ctx context.Context, room string, remote media_sdp.Answer) error
	// Abort releases a room whose call was never established
	Abort(room string, cause error)
	// Release ends media for a call that was established
	Release(room string)
}

// ManagerOption настраивает Manager
type ManagerOption func(*Manager)

// WithLogger sets the base logger
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics enables Prometheus metrics
func WithMetrics(metrics *Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithDialogOptions are applied to every dialog after the manager's own
func WithDialogOptions(opts ...dialog.Option) ManagerOption {
	return func(m *Manager) {
		m.dialogOpts = append(m.dialogOpts, opts...)
	}
}

// WithRetention keeps finished tasks visible to Lookup for d
func WithRetention(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.retention = d
	}
}

// Manager owns the call tasks, at most one running task per room
type Manager struct {
	settings   Settings
	relay      MediaRelay
	metrics    *Metrics
	logger     *slog.Logger
	dialogOpts []dialog.Option
	retention  time.Duration

	mu     sync.Mutex
	tasks  map[string]*Task
	closed bool
	wg     sync.WaitGroup
}

// NewManager создает менеджер звонков
func NewManager(settings Settings, relay MediaRelay, opts ...ManagerOption) *Manager {
	m := &Manager{
		settings:  settings,
		relay:     relay,
		logger:    slog.Default(),
		retention: 10 * time.Minute,
		tasks:     make(map[string]*Task),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches a call and returns at once. ctx bounds the whole call:
// cancelling it hangs up.
func (m *Manager) Start(ctx context.Context, req CallRequest) (*Task, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrShuttingDown
	}
	if t, ok := m.tasks[req.RoomName]; ok && !isDone(t) {
		m.mu.Unlock()
		return nil, errors.Wrapf(ErrRoomBusy, "room %s", req.RoomName)
	}
	m.pruneLocked()

	task := newTask(ctx, req.RoomName)
	m.tasks[req.RoomName] = task
	m.wg.Add(1)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.callStarted()
	}
	go m.run(task, req)

	return task, nil
}

// Lookup returns the running or recently finished task of a room
func (m *Manager) Lookup(room string) (*Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[room]
	return t, ok
}

// Hangup asks the call in room to end
func (m *Manager) Hangup(room string) error {
	t, ok := m.Lookup(room)
	if !ok {
		return errors.Wrapf(ErrUnknownRoom, "room %s", room)
	}
	t.Hangup()
	return nil
}

// Active returns the number of running tasks
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tasks {
		if !isDone(t) {
			n++
		}
	}
	return n
}

// Shutdown rejects new calls, hangs up running ones and waits for them to
// finish or for ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	for _, t := range m.tasks {
		t.Hangup()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for calls to end")
	}
}

func (m *Manager) run(t *Task, req CallRequest) {
	defer m.wg.Done()

	result := m.call(t, req)

	if m.metrics != nil {
		m.metrics.callFinished(result)
	}
	attrs := []any{
		slog.String("room", result.Room),
		slog.String("callID", result.CallID),
		slog.String("outcome", string(result.Outcome)),
		slog.Duration("duration", result.Duration()),
	}
	if result.Reason != "" {
		attrs = append(attrs, slog.String("reason", string(result.Reason)))
	}
	if result.Err != nil {
		attrs = append(attrs, slog.String("error", result.Error))
	}
	m.logger.Info("call finished", attrs...)

	t.finish(result)
}

func (m *Manager) call(t *Task, req CallRequest) (result Result) {
	ctx := t.ctx
	logger := m.logger.With(slog.String("room", t.room))

	result = Result{Room: t.room, CallID: t.callID, StartedAt: time.Now()}
	defer func() { result.EndedAt = time.Now() }()

	port, err := m.relay.AllocatePort(ctx, t.room)
	if err != nil {
		outcome := OutcomeMediaFailed
		if ctx.Err() != nil {
			outcome = OutcomeCancelled
		}
		result.fail(outcome, errors.Wrap(err, "allocate RTP port"))
		return result
	}

	opts := []dialog.Option{
		dialog.WithLogger(logger),
		dialog.WithTimeouts(m.settings.Timeouts),
	}
	if m.metrics != nil {
		opts = append(opts, dialog.WithMessageObserver(m.metrics.ObserveMessage))
	}
	opts = append(opts, m.dialogOpts...)
	opts = append(opts, dialog.WithCallID(t.callID))

	client, err := dialog.NewClient(m.settings.Target(req), media_sdp.NewOffer(m.settings.MediaIP, port), opts...)
	if err != nil {
		m.abort(ctx, t.room, &result, err)
		return result
	}
	t.setDialog(client)
	defer client.Close()

	stop := context.AfterFunc(ctx, func() { _ = client.Hangup() })
	defer stop()

	answer, err := establish(ctx, client)
	if err != nil {
		m.abort(ctx, t.room, &result, err)
		return result
	}
	result.Answer = answer
	result.AnsweredAt = time.Now()

	if err := m.relay.Connect(ctx, t.room, *answer); err != nil {
		_ = client.Hangup()
		m.relay.Abort(t.room, err)
		result.fail(OutcomeMediaFailed, errors.Wrap(err, "connect media relay"))
		return result
	}

	reason, err := client.WaitForDisconnection(ctx)
	// no-op when the carrier already hung up
	_ = client.Hangup()
	m.relay.Release(t.room)

	result.Outcome = OutcomeCompleted
	result.Reason = reason
	if err != nil {
		result.Err = err
		result.Error = err.Error()
	}
	return result
}

func (m *Manager) abort(ctx context.Context, room string, result *Result, err error) {
	m.relay.Abort(room, err)

	outcome := OutcomeFor(err)
	if ctx.Err() != nil {
		outcome = OutcomeCancelled
	}
	result.fail(outcome, err)

	var dErr *dialog.Error
	if errors.As(err, &dErr) {
		result.StatusCode = dErr.StatusCode
	}
}

func establish(ctx context.Context, client *dialog.Client) (*media_sdp.Answer, error) {
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return client.SendInvite(ctx)
}

// pruneLocked forgets tasks that finished more than retention ago
func (m *Manager) pruneLocked() {
	now := time.Now()
	for room, t := range m.tasks {
		if r, ok := t.Result(); ok && now.Sub(r.EndedAt) > m.retention {
			delete(m.tasks, room)
		}
	}
}

func isDone(t *Task) bool {
	select {
	case <-t.Done():
		return true
	default:
		return false
	}
}
