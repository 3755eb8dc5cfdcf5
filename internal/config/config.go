package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/umrr-bridge/internal/radar"
	"github.com/banshee-data/umrr-bridge/internal/radar/correlator"
	"github.com/banshee-data/umrr-bridge/internal/radar/registry"
	"github.com/banshee-data/umrr-bridge/internal/radar/variant"
)

// DefaultConfigPath is where the bridge looks for its configuration when
// no -config flag is given.
const DefaultConfigPath = "config/umrr-bridge.json"

// BridgeConfig is the driver configuration file. Optional scalars are
// pointers so an omitted field falls back to its Get* default.
//
// Sensors and adapters are positional: entry i configures slot i, and
// scanning stops at the first sensor whose id (or adapter whose hw_dev_id)
// is zero.
type BridgeConfig struct {
	MasterClientID *uint32 `json:"master_client_id,omitempty"`

	Sensors  []registry.SensorConfig `json:"sensors"`
	Adapters []registry.HWConfig     `json:"adapters,omitempty"`

	// Orphan policy
	OrphanTTL      *string `json:"orphan_ttl,omitempty"`     // duration string like "5s"; "0s" disables expiry
	SweepInterval  *string `json:"sweep_interval,omitempty"` // duration string like "1s"
	NotifyOnExpiry *bool   `json:"notify_on_expiry,omitempty"`

	// Listen addresses
	UDPListen  *string `json:"udp_listen,omitempty"`
	HTTPListen *string `json:"http_listen,omitempty"`
	GRPCListen *string `json:"grpc_listen,omitempty"`

	UDPRcvBuf *int `json:"udp_rcvbuf,omitempty"`
	QueueSize *int `json:"queue_size,omitempty"`

	DBPath *string `json:"db_path,omitempty"`

	// Instructions and Commands restrict SetMode and SendCommand names.
	// Omitted lists allow any well-formed name.
	Instructions []string `json:"instructions,omitempty"`
	Commands     []string `json:"commands,omitempty"`
}

// LoadConfig loads and validates a BridgeConfig from a JSON file.
func LoadConfig(path string) (*BridgeConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &BridgeConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration without touching a registry. Slot
// conflicts are left to ApplyTo.
func (c *BridgeConfig) Validate() error {
	if len(c.Sensors) > radar.MaxSensorCount {
		return fmt.Errorf("at most %d sensors, got %d", radar.MaxSensorCount, len(c.Sensors))
	}
	if len(c.Adapters) > radar.MaxHwCount {
		return fmt.Errorf("at most %d adapters, got %d", radar.MaxHwCount, len(c.Adapters))
	}
	sensors := c.ActiveSensors()
	if len(sensors) == 0 {
		return fmt.Errorf("at least one sensor with a non-zero id is required")
	}
	for i, s := range sensors {
		if s.Slot != 0 && s.Slot != i {
			return fmt.Errorf("sensors[%d] declares slot %d; slots are positional", i, s.Slot)
		}
		if _, err := variant.Parse(string(s.Variant)); err != nil {
			return fmt.Errorf("sensors[%d]: %w", i, err)
		}
	}

	for name, d := range map[string]*string{"orphan_ttl": c.OrphanTTL, "sweep_interval": c.SweepInterval} {
		if d == nil || *d == "" {
			continue
		}
		v, err := time.ParseDuration(*d)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *d, err)
		}
		if v < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, *d)
		}
	}

	if c.QueueSize != nil && *c.QueueSize < 0 {
		return fmt.Errorf("queue_size must be non-negative, got %d", *c.QueueSize)
	}
	return nil
}

// ActiveSensors returns the sensor entries up to the first one with id 0.
func (c *BridgeConfig) ActiveSensors() []registry.SensorConfig {
	for i, s := range c.Sensors {
		if s.SensorID == 0 {
			return c.Sensors[:i]
		}
	}
	return c.Sensors
}

// ActiveAdapters returns the adapter entries up to the first one with
// hw_dev_id 0.
func (c *BridgeConfig) ActiveAdapters() []registry.HWConfig {
	for i, a := range c.Adapters {
		if a.HWDevID == 0 {
			return c.Adapters[:i]
		}
	}
	return c.Adapters
}

// ApplyTo configures reg's adapter and sensor slots.
func (c *BridgeConfig) ApplyTo(reg *registry.Registry) error {
	for i, a := range c.ActiveAdapters() {
		if err := reg.ConfigureAdapter(i, a); err != nil {
			return err
		}
	}
	for i, s := range c.ActiveSensors() {
		if err := reg.Configure(i, s); err != nil {
			return err
		}
	}
	return nil
}

// GetMasterClientID returns the master client id or the default.
func (c *BridgeConfig) GetMasterClientID() uint32 {
	if c.MasterClientID == nil {
		return 1
	}
	return *c.MasterClientID
}

func duration(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}

// GetOrphanTTL returns the orphan TTL. Zero disables expiry.
func (c *BridgeConfig) GetOrphanTTL() time.Duration {
	return duration(c.OrphanTTL, 5*time.Second)
}

// GetSweepInterval returns the sweep interval, or zero to let the
// correlator derive it from the TTL.
func (c *BridgeConfig) GetSweepInterval() time.Duration {
	return duration(c.SweepInterval, 0)
}

// GetNotifyOnExpiry returns the notify_on_expiry value or the default.
func (c *BridgeConfig) GetNotifyOnExpiry() bool {
	if c.NotifyOnExpiry == nil {
		return true
	}
	return *c.NotifyOnExpiry
}

// Policy returns the correlator orphan policy.
func (c *BridgeConfig) Policy() correlator.Policy {
	return correlator.Policy{
		TTL:            c.GetOrphanTTL(),
		SweepInterval:  c.GetSweepInterval(),
		NotifyOnExpiry: c.GetNotifyOnExpiry(),
	}
}

func str(s *string, def string) string {
	if s == nil || *s == "" {
		return def
	}
	return *s
}

// GetUDPListen returns the UDP session listen address.
func (c *BridgeConfig) GetUDPListen() string { return str(c.UDPListen, ":55555") }

// GetHTTPListen returns the debug/status HTTP listen address.
func (c *BridgeConfig) GetHTTPListen() string { return str(c.HTTPListen, ":8080") }

// GetGRPCListen returns the control service listen address.
func (c *BridgeConfig) GetGRPCListen() string { return str(c.GRPCListen, ":50051") }

// GetDBPath returns the sqlite store path.
func (c *BridgeConfig) GetDBPath() string { return str(c.DBPath, "umrr-bridge.db") }

// GetUDPRcvBuf returns the UDP receive buffer size; 0 keeps the OS default.
func (c *BridgeConfig) GetUDPRcvBuf() int {
	if c.UDPRcvBuf == nil {
		return 4 << 20
	}
	return *c.UDPRcvBuf
}

// GetQueueSize returns the per-link outbound queue size.
func (c *BridgeConfig) GetQueueSize() int {
	if c.QueueSize == nil || *c.QueueSize == 0 {
		return 256
	}
	return *c.QueueSize
}
