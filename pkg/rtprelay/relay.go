// Package rtprelay relays RTP between the carrier and the room side over UDP
package rtprelay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/arzzra/sip_bridge/pkg/media_sdp"
)

var (
	ErrUnknownRoom = errors.New("no RTP session for room")
	ErrRoomExists  = errors.New("RTP session already allocated for room")
	ErrRelayClosed = errors.New("relay closed")
)

// Config конфигурация RTP релея
type Config struct {
	// ListenIP is the local address RTP sockets bind to
	ListenIP string
	PortMin  uint16
	PortMax  uint16
	Strategy PortAllocationStrategy

	// RoomMediaAddr receives audio from the carrier and is the only accepted
	// room-side source. Empty means carrier audio is counted and dropped.
	RoomMediaAddr string

	DSCP       int
	BufferSize int
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		ListenIP:   "0.0.0.0",
		PortMin:    10000,
		PortMax:    20000,
		Strategy:   PortAllocationSequential,
		DSCP:       DSCPExpeditedForwarding,
		BufferSize: 256 * 1024,
	}
}

// Validate проверяет конфигурацию
func (c Config) Validate() error {
	if net.ParseIP(c.ListenIP) == nil {
		return fmt.Errorf("invalid RTP listen ip %q", c.ListenIP)
	}
	if err := ValidatePortRange(c.PortMin, c.PortMax); err != nil {
		return err
	}
	if c.RoomMediaAddr != "" {
		if _, err := net.ResolveUDPAddr("udp", c.RoomMediaAddr); err != nil {
			return fmt.Errorf("invalid room media address: %w", err)
		}
	}
	if c.DSCP < 0 || c.DSCP > 63 {
		return fmt.Errorf("invalid DSCP %d", c.DSCP)
	}
	return nil
}

// Relay allocates one UDP port per room and forwards RTP once the carrier
// endpoint is known. All methods are safe for concurrent use.
type Relay struct {
	cfg      Config
	pool     *PortPool
	roomAddr *net.UDPAddr
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

// New создает релей
func New(cfg Config, logger *slog.Logger) (*Relay, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pool, err := NewPortPool(cfg.PortMin, cfg.PortMax, cfg.Strategy)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Relay{
		cfg:      cfg,
		pool:     pool,
		logger:   logger.With(slog.String("component", "rtprelay")),
		sessions: make(map[string]*session),
	}
	if cfg.RoomMediaAddr != "" {
		r.roomAddr, _ = net.ResolveUDPAddr("udp", cfg.RoomMediaAddr)
	}
	return r, nil
}

// AllocatePort binds an even port for room. Ports that cannot be bound are
// skipped until the pool runs out.
func (r *Relay) AllocatePort(ctx context.Context, room string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, ErrRelayClosed
	}
	if _, ok := r.sessions[room]; ok {
		return 0, fmt.Errorf("%w: %s", ErrRoomExists, room)
	}

	var busy []uint16
	defer func() {
		for _, port := range busy {
			_ = r.pool.Release(port)
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		port, err := r.pool.Allocate()
		if err != nil {
			return 0, err
		}

		conn, err := listenUDP(r.cfg.ListenIP, int(port), socketOptions{DSCP: r.cfg.DSCP, BufferSize: r.cfg.BufferSize})
		if err != nil {
			r.logger.Debug("RTP port busy", slog.Int("port", int(port)), slog.String("error", err.Error()))
			busy = append(busy, port)
			continue
		}

		r.sessions[room] = newSession(room, int(port), conn, r.roomAddr, r.logger)
		r.logger.Info("RTP port allocated", slog.String("room", room), slog.Int("port", int(port)))
		return int(port), nil
	}
}

// Connect starts relaying to the negotiated carrier endpoint
func (r *Relay) Connect(ctx context.Context, room string, remote media_sdp.Answer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	addr, err := net.ResolveUDPAddr("udp", remote.Addr())
	if err != nil {
		return fmt.Errorf("resolve carrier media address: %w", err)
	}

	s, err := r.session(room)
	if err != nil {
		return err
	}
	s.connect(addr, remote.PayloadType)

	r.logger.Info("RTP relay connected",
		slog.String("room", room),
		slog.Int("port", s.port),
		slog.String("carrier", addr.String()),
		slog.Int("payloadType", int(remote.PayloadType)))
	return nil
}

// Abort tears down a room whose call never got established
func (r *Relay) Abort(room string, cause error) {
	if r.remove(room) {
		attrs := []any{slog.String("room", room)}
		if cause != nil {
			attrs = append(attrs, slog.String("cause", cause.Error()))
		}
		r.logger.Info("RTP session aborted", attrs...)
	}
}

// Release tears down a room after its call ended
func (r *Relay) Release(room string) {
	if r.remove(room) {
		r.logger.Info("RTP session released", slog.String("room", room))
	}
}

// Stats returns the counters of a room's session
func (r *Relay) Stats(room string) (Stats, bool) {
	s, err := r.session(room)
	if err != nil {
		return Stats{}, false
	}
	return s.stats(), true
}

// Available returns the number of free ports
func (r *Relay) Available() int {
	return r.pool.Available()
}

// Close releases every session and rejects further allocations
func (r *Relay) Close() {
	r.mu.Lock()
	r.closed = true
	rooms := make([]string, 0, len(r.sessions))
	for room := range r.sessions {
		rooms = append(rooms, room)
	}
	r.mu.Unlock()

	for _, room := range rooms {
		r.Release(room)
	}
}

func (r *Relay) session(room string) (*session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[room]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRoom, room)
	}
	return s, nil
}

func (r *Relay) remove(room string) bool {
	r.mu.Lock()
	s, ok := r.sessions[room]
	delete(r.sessions, room)
	r.mu.Unlock()

	if !ok {
		return false
	}
	s.close()
	if err := r.pool.Release(uint16(s.port)); err != nil {
		r.logger.Warn("RTP port release failed", slog.Int("port", s.port), slog.String("error", err.Error()))
	}
	return true
}
