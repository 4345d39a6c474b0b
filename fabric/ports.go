package fabric

import (
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/opd-ai/headlink/config"
	"github.com/sirupsen/logrus"
)

// PortPool leases UDP listen ports from a fixed range. Leases are handed out
// round robin so a released port is not reused straight away.
type PortPool struct {
	start int
	end   int
	host  string

	mu    sync.Mutex
	next  int
	inUse map[int]bool
}

// NewPortPool creates a pool over [start, end]. Ports are test-bound on host
// before being leased.
func NewPortPool(start, end int, host string) (*PortPool, error) {
	if !config.ValidatePortRange(start, end) {
		return nil, fmt.Errorf("%w: %d-%d", ErrInvalidPortRange, start, end)
	}
	return &PortPool{
		start: start,
		end:   end,
		host:  host,
		next:  start,
		inUse: make(map[int]bool),
	}, nil
}

// Acquire leases the next port that is neither leased nor bound by another
// socket.
func (p *PortPool) Acquire() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	size := p.end - p.start + 1
	for i := 0; i < size; i++ {
		port := p.next
		p.next++
		if p.next > p.end {
			p.next = p.start
		}

		if p.inUse[port] || !p.available(port) {
			continue
		}
		p.inUse[port] = true
		return port, nil
	}

	logrus.WithFields(logrus.Fields{
		"function": "Acquire",
		"package":  "fabric",
		"start":    p.start,
		"end":      p.end,
		"leased":   len(p.inUse),
	}).Warn("UDP port pool exhausted")
	return 0, ErrNoFreePorts
}

// Release returns port to the pool. Releasing a port that is not leased does
// nothing.
func (p *PortPool) Release(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inUse, port)
}

// InUse returns the number of leased ports.
func (p *PortPool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inUse)
}

// Size returns the number of ports in the range.
func (p *PortPool) Size() int {
	return p.end - p.start + 1
}

func (p *PortPool) available(port int) bool {
	conn, err := net.ListenPacket("udp", net.JoinHostPort(p.host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
