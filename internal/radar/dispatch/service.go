package dispatch

import (
	"fmt"
	"net/netip"

	"github.com/banshee-data/umrr-bridge/internal/monitoring"
	"github.com/banshee-data/umrr-bridge/internal/radar"
	"github.com/banshee-data/umrr-bridge/internal/radar/correlator"
)

// SetMode asks a sensor to set an instruction parameter. The Ack only says
// whether the request was issued; the device's answer is logged when it
// arrives.
func (d *Dispatcher) SetMode(slot int, instruction string, value int64) (radar.Ack, error) {
	return d.request(radar.Request{Slot: slot, Category: radar.CategoryMode, Name: instruction, Value: value})
}

// SetIP asks a sensor to move to a new address. The registry is updated
// once the sensor confirms.
func (d *Dispatcher) SetIP(slot int, address string) (radar.Ack, error) {
	return d.request(radar.Request{Slot: slot, Category: radar.CategoryIP, Address: address})
}

// SendCommand asks a sensor to run a named command.
func (d *Dispatcher) SendCommand(slot int, command string, value int64) (radar.Ack, error) {
	return d.request(radar.Request{Slot: slot, Category: radar.CategoryCommand, Name: command, Value: value})
}

func (d *Dispatcher) request(req radar.Request) (radar.Ack, error) {
	d.intake.RLock()
	defer d.intake.RUnlock()
	if d.closed {
		return radar.Ack{Reason: radar.ErrShuttingDown.Error()}, radar.ErrShuttingDown
	}
	if d.cfg.Transport == nil {
		err := fmt.Errorf("%w: no transport configured", radar.ErrConfiguration)
		return radar.Ack{Reason: err.Error()}, err
	}
	id := d.cfg.Transport.NewClientID()
	if err := d.issue(id, req, nil); err != nil {
		return radar.Ack{Reason: err.Error()}, err
	}
	return radar.Ack{Accepted: true, ClientID: id}, nil
}

func (d *Dispatcher) validate(req radar.Request) error {
	switch req.Category {
	case radar.CategoryMode:
		return d.cfg.Instructions.Check(req.Name)
	case radar.CategoryCommand:
		return d.cfg.Commands.Check(req.Name)
	case radar.CategoryIP:
		if _, err := netip.ParseAddr(req.Address); err != nil {
			return fmt.Errorf("%w: invalid address %q", radar.ErrConfiguration, req.Address)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown request category %d", radar.ErrConfiguration, int(req.Category))
}

// continuation wraps cont with the handling the request's category needs.
func (d *Dispatcher) continuation(cont correlator.Continuation) correlator.Continuation {
	return func(req radar.Request, resp radar.Response, err error) {
		switch {
		case err != nil:
			monitoring.Slotf(req.Slot, "%s request %s: %v", req.Category, resp.ClientID, err)
		case req.Category == radar.CategoryIP:
			d.ipResponse(req, resp)
		default:
			monitoring.Slotf(req.Slot, "%s %s=%d: %s %s", req.Category, req.Name, req.Value, resp.Status, resp.Detail)
		}
		if cont != nil {
			cont(req, resp, err)
		}
	}
}

func (d *Dispatcher) ipResponse(req radar.Request, resp radar.Response) {
	if !resp.OK() {
		monitoring.Slotf(req.Slot, "ip change to %s refused: %s %s", req.Address, resp.Status, resp.Detail)
		return
	}
	if err := d.cfg.Registry.UpdateIP(req.Slot, req.Address); err != nil {
		monitoring.Slotf(req.Slot, "ip change to %s confirmed but not recorded: %v", req.Address, err)
		return
	}
	monitoring.Slotf(req.Slot, "ip changed to %s", req.Address)
}
