package transport

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/umrr-bridge/internal/monitoring"
	"github.com/banshee-data/umrr-bridge/internal/radar"
	"github.com/banshee-data/umrr-bridge/internal/radar/variant"
)

// SyntheticSensor stands in for a physical sensor: it sends telemetry
// batches to the bridge and answers its requests. It is used for bench
// runs without hardware and by the tests.
type SyntheticSensor struct {
	SensorID uint32
	Variant  variant.Tag
	// Listen is the sensor's own address, which must match the registry.
	Listen string
	// Bridge is the bridge's UDP session address.
	Bridge   string
	Interval time.Duration
	// Targets returns the targets for a cycle. Defaults to a slowly
	// rotating ring of eight targets.
	Targets func(cycle uint32) []radar.Target
	// Answer decides each request's status. Defaults to accepting
	// everything.
	Answer func(req radar.Request) radar.Response

	once  sync.Once
	ready chan struct{}
}

func ringTargets(cycle uint32) []radar.Target {
	out := make([]radar.Target, 8)
	for i := range out {
		az := -math.Pi/3 + float64(i)*math.Pi/12 + float64(cycle%20)*0.01
		out[i] = radar.Target{
			ID:          uint32(i + 1),
			Range:       10 + 2*float64(i),
			SpeedRadial: float64(i%3) - 1,
			Azimuth:     az,
			Elevation:   0.02,
			Power:       60 + float64(i),
			RCS:         5,
			Noise:       20,
		}
	}
	return out
}

// Ready is closed once the sensor's socket is bound.
func (s *SyntheticSensor) Ready() <-chan struct{} {
	s.once.Do(func() { s.ready = make(chan struct{}) })
	return s.ready
}

// Run sends a batch every Interval and answers requests until ctx is done.
func (s *SyntheticSensor) Run(ctx context.Context) error {
	s.Ready() // ensure s.ready is initialised
	targets := s.Targets
	if targets == nil {
		targets = ringTargets
	}
	interval := s.Interval
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	laddr, err := net.ResolveUDPAddr("udp", s.Listen)
	if err != nil {
		return fmt.Errorf("synthetic sensor %d: %w", s.SensorID, err)
	}
	raddr, err := net.ResolveUDPAddr("udp", s.Bridge)
	if err != nil {
		return fmt.Errorf("synthetic sensor %d: %w", s.SensorID, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return fmt.Errorf("synthetic sensor %d: %w", s.SensorID, err)
	}
	defer conn.Close()
	close(s.ready)

	go s.answer(ctx, conn, raddr)

	tk := time.NewTicker(interval)
	defer tk.Stop()
	var cycle uint32
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-tk.C:
			cycle++
			raw, err := variant.Encode(s.Variant, variant.Batch{
				Kind:      radar.KindTargetList,
				Cycle:     cycle,
				Timestamp: now,
				Targets:   targets(cycle),
			})
			if err != nil {
				return fmt.Errorf("synthetic sensor %d: %w", s.SensorID, err)
			}
			if err := s.send(conn, raddr, Frame{SensorID: s.SensorID, Type: MsgTelemetry, Payload: raw}); err != nil {
				monitoring.Logf("synthetic sensor %d: %v", s.SensorID, err)
			}
		}
	}
}

func (s *SyntheticSensor) send(conn *net.UDPConn, to *net.UDPAddr, f Frame) error {
	b, err := f.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = conn.WriteToUDP(b, to)
	return err
}

func (s *SyntheticSensor) answer(ctx context.Context, conn *net.UDPConn, bridge *net.UDPAddr) {
	buf := make([]byte, MaxFrameSize)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, _, err := conn.ReadFromUDP(buf)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return
		}
		f, err := ParseFrame(buf[:n])
		if err != nil || f.Type != MsgRequest || f.SensorID != s.SensorID {
			continue
		}
		id, req, err := ParseRequest(f)
		if err != nil {
			continue
		}
		resp := radar.Response{Status: radar.StatusOK}
		if s.Answer != nil {
			resp = s.Answer(req)
		}
		resp.ClientID = id
		rf, err := ResponseFrame(s.SensorID, resp)
		if err != nil {
			continue
		}
		if err := s.send(conn, bridge, rf); err != nil {
			monitoring.Logf("synthetic sensor %d: %v", s.SensorID, err)
		}
	}
}
