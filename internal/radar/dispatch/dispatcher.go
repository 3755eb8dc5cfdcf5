// Package dispatch routes sensor telemetry into point sets and service
// requests out to sensors.
//
// The Dispatcher is the context object every transport session and service
// handler shares. It owns no goroutines of its own apart from the
// correlator sweep started by Start.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/umrr-bridge/internal/monitoring"
	"github.com/banshee-data/umrr-bridge/internal/radar"
	"github.com/banshee-data/umrr-bridge/internal/radar/correlator"
	"github.com/banshee-data/umrr-bridge/internal/radar/pointcloud"
	"github.com/banshee-data/umrr-bridge/internal/radar/registry"
	"github.com/banshee-data/umrr-bridge/internal/radar/variant"
)

// Transport carries requests to sensors. NewClientID must return a token
// not currently in use; Send must queue without blocking.
type Transport interface {
	NewClientID() radar.ClientID
	Send(id radar.ClientID, sensor registry.SensorConfig, req radar.Request) error
}

// BootstrapWriter persists the flattened configuration at startup.
type BootstrapWriter interface {
	WriteParams(ctx context.Context, params []registry.Param) error
}

// Config wires a Dispatcher. Registry, Assembler and Correlator are
// required.
type Config struct {
	Registry   *registry.Registry
	Assembler  *pointcloud.Assembler
	Correlator *correlator.Correlator
	Transport  Transport
	Bootstrap  BootstrapWriter
	Metrics    *monitoring.Metrics

	MasterClientID uint32
	// Instructions and Commands restrict the names SetMode and SendCommand
	// accept. Nil allows any well-formed name.
	Instructions *Allowlist
	Commands     *Allowlist
}

// Dispatcher routes telemetry and commands.
type Dispatcher struct {
	cfg Config

	startOnce sync.Once
	startErr  error
	sweepDone chan struct{}
	stopSweep context.CancelFunc

	// intake is held shared by every inbound call and exclusively by Close,
	// so Close waits for in-flight calls before releasing state.
	intake sync.RWMutex
	closed bool
}

// New validates cfg and returns a Dispatcher. Call Start once the registry
// has been populated.
func New(cfg Config) (*Dispatcher, error) {
	switch {
	case cfg.Registry == nil:
		return nil, errors.New("dispatch: registry is required")
	case cfg.Assembler == nil:
		return nil, errors.New("dispatch: assembler is required")
	case cfg.Correlator == nil:
		return nil, errors.New("dispatch: correlator is required")
	}
	return &Dispatcher{cfg: cfg}, nil
}

// Start runs the one-time post-construction step: it freezes the registry,
// hands the bootstrap parameters to the writer and starts the correlator
// sweep. Later calls return the first call's result.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.startOnce.Do(func() {
		d.startErr = d.start(ctx)
	})
	return d.startErr
}

func (d *Dispatcher) start(ctx context.Context) error {
	d.intake.RLock()
	defer d.intake.RUnlock()
	if d.closed {
		return radar.ErrShuttingDown
	}
	if err := d.cfg.Registry.Freeze(); err != nil {
		return err
	}
	if d.cfg.Bootstrap != nil {
		params := d.cfg.Registry.Params(d.cfg.MasterClientID)
		if err := d.cfg.Bootstrap.WriteParams(ctx, params); err != nil {
			return fmt.Errorf("write bootstrap parameters: %w", err)
		}
	}
	sweepCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.stopSweep = cancel
	d.sweepDone = make(chan struct{})
	go func() {
		defer close(d.sweepDone)
		_ = d.cfg.Correlator.Run(sweepCtx)
	}()
	for _, s := range d.cfg.Registry.Sensors() {
		monitoring.Slotf(s.Slot, "%s sensor %d at %s:%d publishing %s", s.Variant, s.SensorID, s.IP, s.Port,
			radar.PointSet{Slot: s.Slot}.Topic())
	}
	return nil
}

// OnBatch decodes one raw batch for slot and publishes the resulting point
// set. The batch's variant must match the slot's binding. On any error the
// slot's previous output is left untouched.
func (d *Dispatcher) OnBatch(slot int, tag variant.Tag, raw []byte) (radar.PointSet, error) {
	d.intake.RLock()
	defer d.intake.RUnlock()
	if d.closed {
		d.cfg.Metrics.BatchDone(slot, monitoring.BatchRefused)
		return radar.PointSet{}, radar.ErrShuttingDown
	}

	sensor, err := d.cfg.Registry.Lookup(slot)
	if err != nil {
		d.cfg.Metrics.BatchDone(slot, monitoring.BatchUnknownSlot)
		return radar.PointSet{}, err
	}
	if tag != sensor.Variant {
		d.cfg.Metrics.BatchDone(slot, monitoring.BatchMismatch)
		return radar.PointSet{}, fmt.Errorf("%w: slot %d is bound to %s, batch is %s",
			radar.ErrConfiguration, slot, sensor.Variant, tag)
	}

	began := time.Now()
	res, err := variant.Decode(sensor.Variant, raw)
	d.cfg.Metrics.ObserveDecode(string(sensor.Variant), time.Since(began))
	if err != nil {
		d.cfg.Metrics.BatchDone(slot, monitoring.BatchDecodeError)
		return radar.PointSet{}, fmt.Errorf("slot %d: %w", slot, err)
	}
	if res.Dropped > 0 {
		d.cfg.Metrics.RecordsDropped(slot, res.Dropped)
	}

	set, err := d.cfg.Assembler.Assemble(slot, pointcloud.Frame{
		FrameID:     sensor.FrameID,
		HistorySize: sensor.HistorySize,
		Kind:        res.Kind,
		Cycle:       res.Cycle,
		Timestamp:   res.Timestamp,
		Targets:     res.Targets,
	})
	if err != nil {
		return radar.PointSet{}, err
	}
	d.cfg.Metrics.BatchDone(slot, monitoring.BatchOK)
	d.cfg.Metrics.PointsPublished(slot, len(set.Points))
	return set, nil
}

// OnSensorBatch is OnBatch keyed by the transport-level sensor id.
func (d *Dispatcher) OnSensorBatch(sensorID uint32, tag variant.Tag, raw []byte) (radar.PointSet, error) {
	slot, ok := d.cfg.Registry.SlotForSensor(sensorID)
	if !ok {
		d.cfg.Metrics.BatchDone(-1, monitoring.BatchUnknownSlot)
		return radar.PointSet{}, fmt.Errorf("%w: no slot for sensor id %d", radar.ErrUnknownSlot, sensorID)
	}
	return d.OnBatch(slot, tag, raw)
}

// Issue registers req under id and forwards it to the transport. cont, if
// not nil, runs exactly once after the category's own handling. If the
// transport refuses the request the registration is withdrawn.
func (d *Dispatcher) Issue(id radar.ClientID, req radar.Request, cont correlator.Continuation) error {
	d.intake.RLock()
	defer d.intake.RUnlock()
	if d.closed {
		return radar.ErrShuttingDown
	}
	return d.issue(id, req, cont)
}

func (d *Dispatcher) issue(id radar.ClientID, req radar.Request, cont correlator.Continuation) error {
	sensor, err := d.cfg.Registry.Lookup(req.Slot)
	if err != nil {
		d.cfg.Metrics.Command(req.Category.String(), monitoring.CommandRejected)
		return err
	}
	if err := d.validate(req); err != nil {
		d.cfg.Metrics.Command(req.Category.String(), monitoring.CommandRejected)
		return err
	}
	if d.cfg.Transport == nil {
		return fmt.Errorf("%w: no transport configured", radar.ErrConfiguration)
	}
	if err := d.cfg.Correlator.Register(id, req, d.continuation(cont)); err != nil {
		return err
	}
	if err := d.cfg.Transport.Send(id, sensor, req); err != nil {
		d.cfg.Correlator.Cancel(id, err.Error())
		d.cfg.Metrics.Command(req.Category.String(), monitoring.CommandSendFailed)
		return fmt.Errorf("send %s to slot %d: %w", req.Category, req.Slot, err)
	}
	return nil
}

// OnResponse hands a device response to the correlator. Responses with no
// outstanding request are logged and counted there and otherwise dropped.
func (d *Dispatcher) OnResponse(resp radar.Response) {
	_ = d.cfg.Correlator.Resolve(resp.ClientID, resp)
}

// Latest returns the most recent point set for slot.
func (d *Dispatcher) Latest(slot int) (radar.PointSet, bool) {
	return d.cfg.Assembler.Latest(slot)
}

// Registry exposes the sensor registry for read-only status reporting.
func (d *Dispatcher) Registry() *registry.Registry { return d.cfg.Registry }

// Outstanding reports how many requests await a response.
func (d *Dispatcher) Outstanding() int { return d.cfg.Correlator.Outstanding() }

// Close stops intake, waits for in-flight calls, then orphans every
// outstanding request and stops the sweep. It is safe to call more than
// once.
func (d *Dispatcher) Close() {
	d.intake.Lock()
	if d.closed {
		d.intake.Unlock()
		return
	}
	d.closed = true
	d.intake.Unlock()

	d.cfg.Correlator.Close()
	if d.stopSweep != nil {
		d.stopSweep()
		<-d.sweepDone
	}
}
