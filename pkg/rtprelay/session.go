package rtprelay

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
)

const maxPacketSize = 1500

// Stats счетчики одной сессии
type Stats struct {
	PacketsFromCarrier uint64 `json:"packets_from_carrier"`
	BytesFromCarrier   uint64 `json:"bytes_from_carrier"`
	PacketsToCarrier   uint64 `json:"packets_to_carrier"`
	BytesToCarrier     uint64 `json:"bytes_to_carrier"`
	Dropped            uint64 `json:"dropped"`
	Invalid            uint64 `json:"invalid"`
}

// session relays RTP between the carrier and the room side over one socket
type session struct {
	room   string
	port   int
	conn   *net.UDPConn
	logger *slog.Logger

	// roomAddr is fixed for the session, nil when no room side is configured
	roomAddr *net.UDPAddr

	mu          sync.RWMutex
	carrier     *net.UDPAddr
	payloadType uint8

	packetsFromCarrier atomic.Uint64
	bytesFromCarrier   atomic.Uint64
	packetsToCarrier   atomic.Uint64
	bytesToCarrier     atomic.Uint64
	dropped            atomic.Uint64
	invalid            atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
}

func newSession(room string, port int, conn *net.UDPConn, roomAddr *net.UDPAddr, logger *slog.Logger) *session {
	s := &session{
		room:     room,
		port:     port,
		conn:     conn,
		roomAddr: roomAddr,
		logger:   logger,
		done:     make(chan struct{}),
	}
	go s.loop()
	return s
}

// connect sets the carrier endpoint. Packets are dropped until then.
func (s *session) connect(carrier *net.UDPAddr, payloadType uint8) {
	s.mu.Lock()
	s.carrier = carrier
	s.payloadType = payloadType
	s.mu.Unlock()
}

func (s *session) loop() {
	defer close(s.done)

	buf := make([]byte, maxPacketSize)
	for {
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Warn("RTP read failed", slog.String("room", s.room), slog.String("error", err.Error()))
			}
			return
		}
		s.handle(buf[:n], from)
	}
}

func (s *session) handle(packet []byte, from *net.UDPAddr) {
	s.mu.RLock()
	carrier, pt := s.carrier, s.payloadType
	s.mu.RUnlock()

	switch {
	case carrier == nil:
		s.dropped.Add(1)
	case s.roomAddr != nil && sameAddr(from, s.roomAddr):
		s.toCarrier(packet, carrier, pt)
	case from.IP.Equal(carrier.IP):
		if from.Port != carrier.Port {
			// symmetric RTP: the carrier's real source port wins
			s.latch(from)
		}
		s.fromCarrier(packet)
	default:
		s.dropped.Add(1)
	}
}

func (s *session) fromCarrier(packet []byte) {
	s.packetsFromCarrier.Add(1)
	s.bytesFromCarrier.Add(uint64(len(packet)))

	if s.roomAddr == nil {
		return
	}
	if _, err := s.conn.WriteToUDP(packet, s.roomAddr); err != nil {
		s.dropped.Add(1)
	}
}

func (s *session) toCarrier(packet []byte, carrier *net.UDPAddr, pt uint8) {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(packet); err != nil {
		s.invalid.Add(1)
		return
	}

	// telephone-event and other dynamic types pass through
	out := packet
	if pkt.PayloadType < 96 && pkt.PayloadType != pt {
		pkt.PayloadType = pt
		raw, err := pkt.Marshal()
		if err != nil {
			s.invalid.Add(1)
			return
		}
		out = raw
	}

	if _, err := s.conn.WriteToUDP(out, carrier); err != nil {
		s.dropped.Add(1)
		return
	}
	s.packetsToCarrier.Add(1)
	s.bytesToCarrier.Add(uint64(len(out)))
}

func (s *session) latch(from *net.UDPAddr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.carrier != nil && s.carrier.Port != from.Port {
		s.logger.Debug("RTP source latched",
			slog.String("room", s.room),
			slog.String("from", s.carrier.String()),
			slog.String("to", from.String()))
		s.carrier = &net.UDPAddr{IP: from.IP, Port: from.Port}
	}
}

func (s *session) stats() Stats {
	return Stats{
		PacketsFromCarrier: s.packetsFromCarrier.Load(),
		BytesFromCarrier:   s.bytesFromCarrier.Load(),
		PacketsToCarrier:   s.packetsToCarrier.Load(),
		BytesToCarrier:     s.bytesToCarrier.Load(),
		Dropped:            s.dropped.Load(),
		Invalid:            s.invalid.Load(),
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
		<-s.done
	})
}

func sameAddr(a, b *net.UDPAddr) bool {
	return a.Port == b.Port && a.IP.Equal(b.IP)
}
