package rtprelay

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

var (
	ErrNoPorts          = errors.New("no free RTP ports")
	ErrPortNotAllocated = errors.New("port was not allocated")
)

// PortAllocationStrategy определяет стратегию выделения портов из пула
type PortAllocationStrategy int

const (
	// PortAllocationSequential - последовательное выделение портов
	PortAllocationSequential PortAllocationStrategy = iota
	// PortAllocationRandom - случайное выделение портов
	PortAllocationRandom
)

// String возвращает строковое представление стратегии
func (s PortAllocationStrategy) String() string {
	switch s {
	case PortAllocationSequential:
		return "sequential"
	case PortAllocationRandom:
		return "random"
	default:
		return "unknown"
	}
}

// ParseStrategy принимает "sequential" или "random"
func ParseStrategy(s string) (PortAllocationStrategy, error) {
	switch s {
	case "", "sequential":
		return PortAllocationSequential, nil
	case "random":
		return PortAllocationRandom, nil
	}
	return 0, fmt.Errorf("unknown port allocation strategy %q", s)
}

// PortPool управляет пулом четных RTP портов. Нечетный порт над каждым
// выделенным остается свободным для RTCP.
type PortPool struct {
	minPort   uint16
	maxPort   uint16
	strategy  PortAllocationStrategy
	allocated map[uint16]bool
	available []uint16
	rnd       *rand.Rand
	mutex     sync.Mutex
}

// ValidatePortRange проверяет диапазон:
//   - minPort < maxPort
//   - оба порта четные
func ValidatePortRange(minPort, maxPort uint16) error {
	if minPort == 0 || minPort >= maxPort {
		return fmt.Errorf("invalid RTP port range %d-%d", minPort, maxPort)
	}
	if minPort%2 != 0 || maxPort%2 != 0 {
		return fmt.Errorf("RTP port range %d-%d must start and end on even ports", minPort, maxPort)
	}
	return nil
}

// NewPortPool создает пул портов [minPort, maxPort] с шагом 2
func NewPortPool(minPort, maxPort uint16, strategy PortAllocationStrategy) (*PortPool, error) {
	if err := ValidatePortRange(minPort, maxPort); err != nil {
		return nil, err
	}

	pool := &PortPool{
		minPort:   minPort,
		maxPort:   maxPort,
		strategy:  strategy,
		allocated: make(map[uint16]bool),
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for port := uint32(minPort); port <= uint32(maxPort); port += 2 {
		pool.available = append(pool.available, uint16(port))
	}

	if strategy == PortAllocationRandom {
		pool.rnd.Shuffle(len(pool.available), func(i, j int) {
			pool.available[i], pool.available[j] = pool.available[j], pool.available[i]
		})
	}
	return pool, nil
}

// Allocate выделяет свободный порт
func (p *PortPool) Allocate() (uint16, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if len(p.available) == 0 {
		return 0, ErrNoPorts
	}

	idx := 0
	if p.strategy == PortAllocationRandom {
		idx = p.rnd.Intn(len(p.available))
	}
	port := p.available[idx]
	p.available = append(p.available[:idx], p.available[idx+1:]...)

	p.allocated[port] = true
	return port, nil
}

// Release возвращает порт в пул. Sequential пул остается отсортированным.
func (p *PortPool) Release(port uint16) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if !p.allocated[port] {
		return fmt.Errorf("%w: %d", ErrPortNotAllocated, port)
	}
	delete(p.allocated, port)

	if p.strategy == PortAllocationRandom {
		p.available = append(p.available, port)
		return nil
	}

	i := 0
	for i < len(p.available) && p.available[i] < port {
		i++
	}
	p.available = append(p.available, 0)
	copy(p.available[i+1:], p.available[i:])
	p.available[i] = port
	return nil
}

// Available возвращает количество свободных портов
func (p *PortPool) Available() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.available)
}
