// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/toeirei/pairmaster/internal/logging"
	"github.com/toeirei/pairmaster/internal/model"
	"github.com/toeirei/pairmaster/internal/protocol"
)

// LANScanner collects UDP beacons from companion devices. Listen receives
// in the background; each Scan drains what arrived since the previous one.
type LANScanner struct {
	ports  []int
	selfID []byte
	limit  rate.Limit
	burst  int
	now    func() time.Time

	limiters sync.Map // source IP -> *rate.Limiter

	mu    sync.Mutex
	seen  map[string]model.DeviceCandidate
	bound int
}

// NewLANScanner listens on the first free port of ports. Beacons carrying
// selfID are our own and are ignored. perSource caps beacons accepted per
// source address.
func NewLANScanner(ports []int, selfID []byte, perSource rate.Limit) *LANScanner {
	if len(ports) == 0 {
		ports = []int{protocol.BeaconPort, protocol.BeaconAlternatePort}
	}
	return &LANScanner{
		ports:  ports,
		selfID: selfID,
		limit:  perSource,
		burst:  4,
		now:    time.Now,
		seen:   make(map[string]model.DeviceCandidate),
	}
}

func (s *LANScanner) Transport() model.TransportKind { return model.TransportTCP }

// Port reports the UDP port in use, or 0 before Listen has bound.
func (s *LANScanner) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound
}

// Listen receives beacons until ctx is done.
func (s *LANScanner) Listen(ctx context.Context) error {
	var conn *net.UDPConn
	var errs []error
	for _, p := range s.ports {
		c, err := net.ListenUDP("udp4", &net.UDPAddr{Port: p})
		if err == nil {
			conn = c
			break
		}
		errs = append(errs, err)
	}
	if conn == nil {
		return fmt.Errorf("no beacon port available: %w", errors.Join(errs...))
	}
	s.mu.Lock()
	s.bound = conn.LocalAddr().(*net.UDPAddr).Port
	s.mu.Unlock()
	logging.Debugf("discovery: listening for beacons on udp/%d", s.Port())

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	buf := make([]byte, 2048)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("beacon receive: %w", err)
		}
		s.observe(from, buf[:n])
	}
}

func (s *LANScanner) allow(ip string) bool {
	if s.limit == 0 {
		return true
	}
	v, _ := s.limiters.LoadOrStore(ip, rate.NewLimiter(s.limit, s.burst))
	return v.(*rate.Limiter).Allow()
}

func (s *LANScanner) observe(from *net.UDPAddr, data []byte) {
	if from == nil {
		return
	}
	ip := from.IP.String()
	if !s.allow(ip) {
		return
	}
	b, err := protocol.ParseBeacon(data)
	if err != nil {
		logging.Debugf("discovery: dropping datagram from %s: %v", ip, err)
		return
	}
	if len(s.selfID) > 0 && bytes.Equal(b.PublicID, s.selfID) {
		return
	}
	c := model.DeviceCandidate{
		Transport: model.TransportTCP,
		Address:   net.JoinHostPort(ip, strconv.Itoa(int(b.TCPPort))),
		PublicID:  b.PublicID,
		SeenAt:    s.now(),
	}
	s.mu.Lock()
	s.seen[c.Key()] = c
	s.mu.Unlock()
}

func (s *LANScanner) Scan(ctx context.Context) ([]model.DeviceCandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.DeviceCandidate, 0, len(s.seen))
	for _, c := range s.seen {
		out = append(out, c)
	}
	s.seen = make(map[string]model.DeviceCandidate)
	return out, nil
}

// Broadcaster announces this host so companion apps answer with their own
// beacons. The first DiscoveryCount beacons carry the discovery flag.
type Broadcaster struct {
	Beacon         protocol.Beacon
	Ports          []int
	Target         net.IP
	Period         time.Duration
	DiscoveryCount int
}

// Run broadcasts until ctx is done.
func (b *Broadcaster) Run(ctx context.Context) error {
	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return fmt.Errorf("beacon socket: %w", err)
	}
	defer conn.Close()

	target := b.Target
	if target == nil {
		target = net.IPv4bcast
	}
	period := b.Period
	if period <= 0 {
		period = time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for sent := 0; ; sent++ {
		beacon := b.Beacon
		beacon.IsDiscovery = sent < b.DiscoveryCount
		data, err := beacon.MarshalBinary()
		if err != nil {
			return err
		}
		for _, p := range b.Ports {
			if _, err := conn.WriteToUDP(data, &net.UDPAddr{IP: target, Port: p}); err != nil {
				logging.Debugf("discovery: beacon to %s:%d failed: %v", target, p, err)
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
