// Package registry holds the configuration of every sensor and hardware
// adapter slot.
//
// Entries are written during startup and read concurrently afterwards. The
// only post-startup write is an address update, which never changes a
// slot's protocol variant.
package registry

import (
	"fmt"
	"math"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/umrr-bridge/internal/radar"
	"github.com/banshee-data/umrr-bridge/internal/radar/variant"
)

// Defaults applied to sensor fields left unset.
const (
	DefaultIP          = "127.0.0.1"
	DefaultPort        = 55555
	DefaultIfaceName   = "lo"
	DefaultFrameID     = "umrr"
	DefaultHistorySize = 10
	DefaultLinkType    = "eth"
)

// SensorConfig describes one sensor slot.
type SensorConfig struct {
	Slot int `json:"slot"`
	// SensorID is the sensor's transport-level client id. Zero marks an
	// unconfigured slot.
	SensorID    uint32      `json:"id"`
	DevID       uint32      `json:"dev_id"`
	FrameID     string      `json:"frame_id"`
	HistorySize uint32      `json:"history_size"`
	IP          string      `json:"ip"`
	Port        uint32      `json:"port"`
	IfaceName   string      `json:"iface_name"`
	LinkType    string      `json:"link_type"`
	Model       string      `json:"model"`
	Variant     variant.Tag `json:"variant"`
}

// WithDefaults fills unset fields.
func (c SensorConfig) WithDefaults() SensorConfig {
	if c.IP == "" {
		c.IP = DefaultIP
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.IfaceName == "" {
		c.IfaceName = DefaultIfaceName
	}
	if c.FrameID == "" {
		c.FrameID = DefaultFrameID
	}
	if c.HistorySize == 0 {
		c.HistorySize = DefaultHistorySize
	}
	if c.LinkType == "" {
		c.LinkType = DefaultLinkType
	}
	return c
}

// AddrPort returns the sensor's network endpoint.
func (c SensorConfig) AddrPort() (netip.AddrPort, error) {
	addr, err := netip.ParseAddr(c.IP)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("sensor %d address: %w", c.Slot, err)
	}
	if c.Port > math.MaxUint16 {
		return netip.AddrPort{}, fmt.Errorf("sensor %d port %d out of range", c.Slot, c.Port)
	}
	return netip.AddrPortFrom(addr, uint16(c.Port)), nil
}

// HWConfig describes one hardware adapter slot.
type HWConfig struct {
	Index     int    `json:"index"`
	HWDevID   uint32 `json:"hw_dev_id"`
	IfaceName string `json:"hw_iface_name"`
	Type      string `json:"hw_type"`
	BaudRate  uint32 `json:"baudrate"`
	Port      uint32 `json:"port"`
	// Path is the device node for serial-attached adapters.
	Path string `json:"path,omitempty"`
}

type sensorEntry struct {
	mu  sync.RWMutex
	cfg SensorConfig
	set bool
}

// Registry holds sensor and adapter slots. The zero value is not usable;
// call New.
type Registry struct {
	sensors  [radar.MaxSensorCount]sensorEntry
	adapters [radar.MaxHwCount]struct {
		mu  sync.RWMutex
		cfg HWConfig
		set bool
	}
	// writeMu serialises configuration writes so cross-slot uniqueness
	// checks see a stable view.
	writeMu sync.Mutex
	frozen  atomic.Bool
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{}
}

// Configure sets a sensor slot. Reconfiguring a slot with the same variant
// is allowed until Freeze; a different variant is always rejected.
func (r *Registry) Configure(slot int, cfg SensorConfig) error {
	if !radar.ValidSlot(slot) {
		return fmt.Errorf("%w: sensor slot %d outside [0, %d)", radar.ErrConfiguration, slot, radar.MaxSensorCount)
	}
	if cfg.SensorID == 0 {
		return fmt.Errorf("%w: sensor slot %d has no id", radar.ErrConfiguration, slot)
	}
	if _, err := variant.Parse(string(cfg.Variant)); err != nil {
		return fmt.Errorf("%w: sensor slot %d: %v", radar.ErrConfiguration, slot, err)
	}
	cfg.Slot = slot
	cfg = cfg.WithDefaults()
	if _, err := cfg.AddrPort(); err != nil {
		return fmt.Errorf("%w: %v", radar.ErrConfiguration, err)
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if cur, ok := r.peek(slot); ok && cur.Variant != cfg.Variant {
		return fmt.Errorf("%w: sensor slot %d is bound to %s, cannot rebind to %s",
			radar.ErrConfiguration, slot, cur.Variant, cfg.Variant)
	}
	if r.frozen.Load() {
		return fmt.Errorf("%w: sensor slot %d: registry is frozen", radar.ErrConfiguration, slot)
	}
	for i := range r.sensors {
		if i == slot {
			continue
		}
		if other, ok := r.peek(i); ok && other.SensorID == cfg.SensorID {
			return fmt.Errorf("%w: sensor id %d already used by slot %d", radar.ErrConfiguration, cfg.SensorID, i)
		}
	}
	e := &r.sensors[slot]
	e.mu.Lock()
	e.cfg, e.set = cfg, true
	e.mu.Unlock()
	return nil
}

func (r *Registry) peek(slot int) (SensorConfig, bool) {
	e := &r.sensors[slot]
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg, e.set
}

// Lookup returns a configured sensor slot.
func (r *Registry) Lookup(slot int) (SensorConfig, error) {
	if !radar.ValidSlot(slot) {
		return SensorConfig{}, fmt.Errorf("%w: %d", radar.ErrUnknownSlot, slot)
	}
	cfg, ok := r.peek(slot)
	if !ok {
		return SensorConfig{}, fmt.Errorf("%w: %d", radar.ErrUnknownSlot, slot)
	}
	return cfg, nil
}

// SlotForSensor maps a transport-level sensor id back to its slot.
func (r *Registry) SlotForSensor(sensorID uint32) (int, bool) {
	for i := range r.sensors {
		if cfg, ok := r.peek(i); ok && cfg.SensorID == sensorID {
			return i, true
		}
	}
	return 0, false
}

// UpdateIP changes a configured slot's address. It is the one write
// permitted after Freeze and leaves the variant binding untouched.
func (r *Registry) UpdateIP(slot int, ip string) error {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return fmt.Errorf("%w: slot %d: %v", radar.ErrConfiguration, slot, err)
	}
	if !radar.ValidSlot(slot) {
		return fmt.Errorf("%w: %d", radar.ErrUnknownSlot, slot)
	}
	e := &r.sensors[slot]
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.set {
		return fmt.Errorf("%w: %d", radar.ErrUnknownSlot, slot)
	}
	e.cfg.IP = addr.String()
	return nil
}

// Sensors returns every configured sensor in slot order.
func (r *Registry) Sensors() []SensorConfig {
	var out []SensorConfig
	for i := range r.sensors {
		if cfg, ok := r.peek(i); ok {
			out = append(out, cfg)
		}
	}
	return out
}

// ConfigureAdapter sets a hardware adapter slot.
func (r *Registry) ConfigureAdapter(index int, cfg HWConfig) error {
	if index < 0 || index >= radar.MaxHwCount {
		return fmt.Errorf("%w: adapter slot %d outside [0, %d)", radar.ErrConfiguration, index, radar.MaxHwCount)
	}
	if cfg.HWDevID == 0 {
		return fmt.Errorf("%w: adapter slot %d has no hw_dev_id", radar.ErrConfiguration, index)
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if r.frozen.Load() {
		return fmt.Errorf("%w: adapter slot %d: registry is frozen", radar.ErrConfiguration, index)
	}
	for _, other := range r.Adapters() {
		if other.Index != index && other.HWDevID == cfg.HWDevID {
			return fmt.Errorf("%w: hw_dev_id %d already used by adapter %d", radar.ErrConfiguration, cfg.HWDevID, other.Index)
		}
	}
	cfg.Index = index
	a := &r.adapters[index]
	a.mu.Lock()
	a.cfg, a.set = cfg, true
	a.mu.Unlock()
	return nil
}

// Adapters returns every configured adapter in slot order.
func (r *Registry) Adapters() []HWConfig {
	var out []HWConfig
	for i := range r.adapters {
		a := &r.adapters[i]
		a.mu.RLock()
		if a.set {
			out = append(out, a.cfg)
		}
		a.mu.RUnlock()
	}
	return out
}

// Adapter returns the adapter a sensor is attached to.
func (r *Registry) Adapter(devID uint32) (HWConfig, bool) {
	for _, a := range r.Adapters() {
		if a.HWDevID == devID {
			return a, true
		}
	}
	return HWConfig{}, false
}

// Freeze ends the startup phase. It checks that at least one sensor is
// configured and, when adapters are declared, that every sensor references
// one of them.
func (r *Registry) Freeze() error {
	sensors := r.Sensors()
	if len(sensors) == 0 {
		return fmt.Errorf("%w: at least one sensor must be configured", radar.ErrConfiguration)
	}
	if adapters := r.Adapters(); len(adapters) > 0 {
		for _, s := range sensors {
			if _, ok := r.Adapter(s.DevID); !ok {
				return fmt.Errorf("%w: sensor slot %d references unknown adapter %d",
					radar.ErrConfiguration, s.Slot, s.DevID)
			}
		}
	}
	r.writeMu.Lock()
	r.frozen.Store(true)
	r.writeMu.Unlock()
	return nil
}

// Frozen reports whether Freeze has completed.
func (r *Registry) Frozen() bool { return r.frozen.Load() }
