package transport

import (
	"fmt"

	"github.com/banshee-data/umrr-bridge/internal/radar"
	"github.com/banshee-data/umrr-bridge/internal/radar/registry"
)

// Link is anything that can carry a request to a sensor.
type Link interface {
	Send(id radar.ClientID, sensor registry.SensorConfig, req radar.Request) error
}

// Router picks the link for each request: the serial link of the sensor's
// adapter when there is one, otherwise the UDP session.
type Router struct {
	UDP    Link
	Serial map[uint32]Link
}

// NewClientID returns a fresh correlation token.
func (r *Router) NewClientID() radar.ClientID { return NewClientID() }

// Send forwards req on the sensor's link.
func (r *Router) Send(id radar.ClientID, sensor registry.SensorConfig, req radar.Request) error {
	if l, ok := r.Serial[sensor.DevID]; ok {
		return l.Send(id, sensor, req)
	}
	if r.UDP == nil {
		return fmt.Errorf("no link for sensor %d (adapter %d)", sensor.SensorID, sensor.DevID)
	}
	return r.UDP.Send(id, sensor, req)
}
