package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/banshee-data/umrr-bridge/internal/monitoring"
	"github.com/banshee-data/umrr-bridge/internal/radar"
	"github.com/banshee-data/umrr-bridge/internal/radar/registry"
)

const linkUDP = "udp"

// UDPConfig configures a UDP session.
type UDPConfig struct {
	// Address is the local listen address, e.g. ":55555".
	Address string
	// RcvBuf sets the socket receive buffer when non-zero.
	RcvBuf    int
	QueueSize int
	Registry  *registry.Registry
	Metrics   *monitoring.Metrics
}

type datagram struct {
	to  netip.AddrPort
	buf []byte
}

// UDP is one bound socket shared by every Ethernet-attached sensor. It reads
// frames until its context ends and writes requests from a queue.
type UDP struct {
	cfg   UDPConfig
	out   *outbox[datagram]
	ready chan struct{}

	mu   sync.Mutex
	conn *net.UDPConn
}

// NewUDP returns an unbound session; Listen binds it.
func NewUDP(cfg UDPConfig) *UDP {
	return &UDP{
		cfg:   cfg,
		out:   newOutbox[datagram](linkUDP, cfg.QueueSize, cfg.Metrics),
		ready: make(chan struct{}),
	}
}

// Ready is closed once the socket is bound.
func (u *UDP) Ready() <-chan struct{} { return u.ready }

// LocalAddr returns the bound address, or nil before Ready.
func (u *UDP) LocalAddr() net.Addr {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn == nil {
		return nil
	}
	return u.conn.LocalAddr()
}

// Listen binds the socket and serves until ctx is done.
func (u *UDP) Listen(ctx context.Context, h Handler) error {
	addr, err := net.ResolveUDPAddr("udp", u.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	defer conn.Close()
	if u.cfg.RcvBuf > 0 {
		if err := conn.SetReadBuffer(u.cfg.RcvBuf); err != nil {
			monitoring.Logf("udp: failed to set receive buffer to %d: %v", u.cfg.RcvBuf, err)
		}
	}
	u.mu.Lock()
	u.conn = conn
	u.mu.Unlock()
	close(u.ready)
	monitoring.Logf("udp session listening on %s", conn.LocalAddr())

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		u.write(ctx, conn)
	}()
	defer func() { <-writerDone }()

	buf := make([]byte, MaxFrameSize)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// A deadline lets the loop notice cancellation.
		_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, from, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			monitoring.Logf("udp read error: %v", err)
			continue
		}
		u.cfg.Metrics.Frame(linkUDP, "rx", n)
		f, err := ParseFrame(buf[:n])
		if err != nil {
			u.cfg.Metrics.FrameDropped(linkUDP, "malformed")
			monitoring.Logf("udp: dropping frame from %s: %v", from, err)
			continue
		}
		if err := deliver(linkUDP, f, u.cfg.Registry, h, u.cfg.Metrics); err != nil {
			monitoring.Logf("udp: %s from sensor %d (%s): %v", f.Type, f.SensorID, from, err)
		}
	}
}

func (u *UDP) write(ctx context.Context, conn *net.UDPConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-u.out.ch:
			n, err := conn.WriteToUDPAddrPort(d.buf, d.to)
			if err != nil {
				u.cfg.Metrics.FrameDropped(linkUDP, "write_error")
				monitoring.Logf("udp: write to %s failed: %v", d.to, err)
				continue
			}
			u.cfg.Metrics.Frame(linkUDP, "tx", n)
		}
	}
}

// NewClientID returns a fresh correlation token.
func (u *UDP) NewClientID() radar.ClientID { return NewClientID() }

// Send queues req for the sensor's configured address. It never blocks.
func (u *UDP) Send(id radar.ClientID, sensor registry.SensorConfig, req radar.Request) error {
	to, err := sensor.AddrPort()
	if err != nil {
		return err
	}
	f, err := RequestFrame(sensor.SensorID, id, req)
	if err != nil {
		return err
	}
	buf, err := f.MarshalBinary()
	if err != nil {
		return err
	}
	return u.out.push(datagram{to: to, buf: buf})
}
