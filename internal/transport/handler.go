package transport

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/banshee-data/umrr-bridge/internal/monitoring"
	"github.com/banshee-data/umrr-bridge/internal/radar"
	"github.com/banshee-data/umrr-bridge/internal/radar/registry"
	"github.com/banshee-data/umrr-bridge/internal/radar/variant"
)

// ErrQueueFull is returned by Send when a link's outbound queue is full.
var ErrQueueFull = errors.New("transport queue full")

// DefaultQueueSize is the outbound frame queue length per link.
const DefaultQueueSize = 256

// Handler receives decoded inbound traffic. The Dispatcher satisfies it.
type Handler interface {
	OnSensorBatch(sensorID uint32, tag variant.Tag, raw []byte) (radar.PointSet, error)
	OnResponse(resp radar.Response)
}

// NewClientID returns a fresh correlation token.
func NewClientID() radar.ClientID {
	return radar.ClientID(uuid.NewString())
}

// deliver routes one inbound frame to h. Telemetry is decoded with the
// variant the sending sensor's slot is bound to.
func deliver(link string, f Frame, reg *registry.Registry, h Handler, m *monitoring.Metrics) error {
	switch f.Type {
	case MsgTelemetry:
		slot, ok := reg.SlotForSensor(f.SensorID)
		if !ok {
			m.FrameDropped(link, "unknown_sensor")
			return fmt.Errorf("%w: sensor id %d", radar.ErrUnknownSlot, f.SensorID)
		}
		cfg, err := reg.Lookup(slot)
		if err != nil {
			return err
		}
		_, err = h.OnSensorBatch(f.SensorID, cfg.Variant, f.Payload)
		return err
	case MsgResponse:
		resp, err := ParseResponse(f)
		if err != nil {
			m.FrameDropped(link, "malformed")
			return err
		}
		h.OnResponse(resp)
		return nil
	default:
		m.FrameDropped(link, "unexpected_type")
		return fmt.Errorf("%w: unexpected %s from sensor %d", ErrMalformedFrame, f.Type, f.SensorID)
	}
}

// outbox is a link's bounded send queue. push never blocks.
type outbox[T any] struct {
	link    string
	ch      chan T
	metrics *monitoring.Metrics
}

func newOutbox[T any](link string, size int, m *monitoring.Metrics) *outbox[T] {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &outbox[T]{link: link, ch: make(chan T, size), metrics: m}
}

func (o *outbox[T]) push(v T) error {
	select {
	case o.ch <- v:
		return nil
	default:
		o.metrics.FrameDropped(o.link, "queue_full")
		return fmt.Errorf("%w: %s", ErrQueueFull, o.link)
	}
}
