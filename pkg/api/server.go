// Package api exposes the call trigger over HTTP.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/arzzra/sip_bridge/pkg/bridge"
	"github.com/arzzra/sip_bridge/pkg/dialog"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxBodySize = 64 << 10

// Calls is the part of bridge.Manager the API drives
type Calls interface {
	Start(ctx context.Context, req bridge.CallRequest) (*bridge.Task, error)
	Lookup(room string) (*bridge.Task, bool)
	Hangup(room string) error
	Active() int
}

// Response is the envelope of every reply
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// CallData is returned when a call is triggered
type CallData struct {
	RoomName string `json:"room_name"`
	CallID   string `json:"call_id,omitempty"`
}

// CallStatus describes a running or finished call
type CallStatus struct {
	RoomName string         `json:"room_name"`
	CallID   string         `json:"call_id,omitempty"`
	State    dialog.State   `json:"state"`
	Done     bool           `json:"done"`
	Result   *bridge.Result `json:"result,omitempty"`
}

// Option настраивает Server
type Option func(*Server)

// WithLogger sets the request logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDefaultCallerID fills sip_config.exotel_number when a request omits it
func WithDefaultCallerID(callerID string) Option {
	return func(s *Server) {
		s.callerID = callerID
	}
}

// WithMetrics serves /metrics from gatherer
func WithMetrics(gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = gatherer
	}
}

// Server routes HTTP requests to the call manager
type Server struct {
	calls    Calls
	logger   *slog.Logger
	callerID string
	gatherer prometheus.Gatherer

	// ctx outlives single requests and bounds every call started here
	ctx        context.Context
	mux        *http.ServeMux
	httpServer *http.Server
}

// NewServer creates the API. Calls it starts are hung up when ctx ends.
func NewServer(ctx context.Context, calls Calls, opts ...Option) *Server {
	s := &Server{
		calls:  calls,
		logger: slog.Default(),
		ctx:    ctx,
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mux.HandleFunc("POST /v1/calls", s.handleStartCall)
	s.mux.HandleFunc("GET /v1/calls/{room}", s.handleGetCall)
	s.mux.HandleFunc("DELETE /v1/calls/{room}", s.handleHangup)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return s
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Serve accepts connections on ln until Shutdown
func (s *Server) Serve(ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("HTTP API listening", slog.String("addr", ln.Addr().String()))

	err := s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests. Running calls are not touched.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleStartCall(w http.ResponseWriter, r *http.Request) {
	var req bridge.CallRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		s.fail(w, http.StatusBadRequest, errors.Wrap(err, "invalid JSON body"))
		return
	}
	if req.SIPConfig.ExotelNumber == "" {
		req.SIPConfig.ExotelNumber = s.callerID
	}

	task, err := s.calls.Start(s.ctx, req)
	switch {
	case errors.Is(err, bridge.ErrInvalidRequest):
		s.fail(w, http.StatusBadRequest, err)
		return
	case errors.Is(err, bridge.ErrRoomBusy):
		s.fail(w, http.StatusConflict, err)
		return
	case errors.Is(err, bridge.ErrShuttingDown):
		s.fail(w, http.StatusServiceUnavailable, err)
		return
	case err != nil:
		s.fail(w, http.StatusInternalServerError, err)
		return
	}

	s.logger.Info("call triggered",
		slog.String("room", req.RoomName),
		slog.String("to", req.ToNumber))

	s.reply(w, http.StatusAccepted, Response{
		Success: true,
		Message: "Outbound call triggered successfully via Exotel bridge",
		Data:    CallData{RoomName: task.Room(), CallID: task.CallID()},
	})
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("room")
	task, ok := s.calls.Lookup(room)
	if !ok {
		s.fail(w, http.StatusNotFound, errors.Wrapf(bridge.ErrUnknownRoom, "room %s", room))
		return
	}

	status := CallStatus{
		RoomName: task.Room(),
		CallID:   task.CallID(),
		State:    task.State(),
	}
	if result, done := task.Result(); done {
		status.Done = true
		status.Result = &result
	}

	s.reply(w, http.StatusOK, Response{Success: true, Message: "call status", Data: status})
}

func (s *Server) handleHangup(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("room")
	if err := s.calls.Hangup(room); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, bridge.ErrUnknownRoom) {
			code = http.StatusNotFound
		}
		s.fail(w, code, err)
		return
	}

	s.reply(w, http.StatusAccepted, Response{
		Success: true,
		Message: "hangup requested",
		Data:    CallData{RoomName: room},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.reply(w, http.StatusOK, Response{
		Success: true,
		Message: "ok",
		Data:    map[string]int{"active_calls": s.calls.Active()},
	})
}

func (s *Server) fail(w http.ResponseWriter, code int, err error) {
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", slog.String("error", err.Error()))
	}
	s.reply(w, code, Response{Success: false, Message: err.Error()})
}

func (s *Server) reply(w http.ResponseWriter, code int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Debug("write response", slog.String("error", err.Error()))
	}
}
