package transport

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/banshee-data/umrr-bridge/internal/monitoring"
	"github.com/banshee-data/umrr-bridge/internal/radar"
	"github.com/banshee-data/umrr-bridge/internal/radar/registry"
)

// LineMux is the part of serialmux.SerialMux a serial link uses.
type LineMux interface {
	Subscribe(buffer int) (string, <-chan string)
	Unsubscribe(id string)
	SendLine(line string) error
	Monitor(ctx context.Context) error
}

// SerialLink carries frames over a serial-attached hardware adapter, one
// base64-encoded frame per line.
type SerialLink struct {
	adapter registry.HWConfig
	mux     LineMux
	reg     *registry.Registry
	metrics *monitoring.Metrics
	out     *outbox[string]
	link    string
}

// NewSerialLink returns a link over mux for adapter.
func NewSerialLink(adapter registry.HWConfig, mux LineMux, reg *registry.Registry, m *monitoring.Metrics, queueSize int) *SerialLink {
	link := fmt.Sprintf("serial_%d", adapter.HWDevID)
	return &SerialLink{
		adapter: adapter,
		mux:     mux,
		reg:     reg,
		metrics: m,
		out:     newOutbox[string](link, queueSize, m),
		link:    link,
	}
}

// Adapter returns the adapter configuration the link serves.
func (s *SerialLink) Adapter() registry.HWConfig { return s.adapter }

// EncodeLine renders f as one adapter line.
func EncodeLine(f Frame) (string, error) {
	b, err := f.MarshalBinary()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// DecodeLine parses one adapter line.
func DecodeLine(line string) (Frame, error) {
	b, err := base64.StdEncoding.DecodeString(line)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return ParseFrame(b)
}

// Run monitors the adapter and writes queued frames until ctx is done.
func (s *SerialLink) Run(ctx context.Context, h Handler) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	id, lines := s.mux.Subscribe(DefaultQueueSize)
	defer s.mux.Unsubscribe(id)

	monErr := make(chan error, 1)
	go func() { monErr <- s.mux.Monitor(ctx) }()

	monitoring.Logf("%s: adapter %s (%s) up", s.link, s.adapter.IfaceName, s.adapter.Type)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-monErr:
			return err
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			s.metrics.Frame(s.link, "rx", len(line))
			f, err := DecodeLine(line)
			if err != nil {
				s.metrics.FrameDropped(s.link, "malformed")
				monitoring.Logf("%s: dropping line: %v", s.link, err)
				continue
			}
			if err := deliver(s.link, f, s.reg, h, s.metrics); err != nil {
				monitoring.Logf("%s: %s from sensor %d: %v", s.link, f.Type, f.SensorID, err)
			}
		case line := <-s.out.ch:
			if err := s.mux.SendLine(line); err != nil {
				s.metrics.FrameDropped(s.link, "write_error")
				monitoring.Logf("%s: write failed: %v", s.link, err)
				continue
			}
			s.metrics.Frame(s.link, "tx", len(line))
		}
	}
}

// NewClientID returns a fresh correlation token.
func (s *SerialLink) NewClientID() radar.ClientID { return NewClientID() }

// Send queues req for a sensor behind this adapter. It never blocks.
func (s *SerialLink) Send(id radar.ClientID, sensor registry.SensorConfig, req radar.Request) error {
	f, err := RequestFrame(sensor.SensorID, id, req)
	if err != nil {
		return err
	}
	line, err := EncodeLine(f)
	if err != nil {
		return err
	}
	return s.out.push(line)
}
