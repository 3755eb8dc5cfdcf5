package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/umrr-bridge/internal/radar"
	"github.com/banshee-data/umrr-bridge/internal/radar/variant"
)

func sensor(id uint32, tag variant.Tag) SensorConfig {
	return SensorConfig{SensorID: id, Variant: tag}
}

func TestConfigureAndLookup(t *testing.T) {
	r := New()
	require.NoError(t, r.Configure(3, SensorConfig{SensorID: 100, Variant: variant.UMRR11, IP: "10.0.0.3"}))

	got, err := r.Lookup(3)
	require.NoError(t, err)
	want := SensorConfig{
		Slot:        3,
		SensorID:    100,
		FrameID:     DefaultFrameID,
		HistorySize: DefaultHistorySize,
		IP:          "10.0.0.3",
		Port:        DefaultPort,
		IfaceName:   DefaultIfaceName,
		LinkType:    DefaultLinkType,
		Variant:     variant.UMRR11,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Lookup(3) mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigureRejects(t *testing.T) {
	tests := []struct {
		name string
		slot int
		cfg  SensorConfig
	}{
		{"negative slot", -1, sensor(1, variant.UMRR11)},
		{"slot past max", radar.MaxSensorCount, sensor(1, variant.UMRR11)},
		{"zero id", 0, sensor(0, variant.UMRR11)},
		{"unknown variant", 0, sensor(1, "umrr42")},
		{"bad ip", 0, SensorConfig{SensorID: 1, Variant: variant.UMRR11, IP: "not-an-ip"}},
		{"port out of range", 0, SensorConfig{SensorID: 1, Variant: variant.UMRR11, IP: "10.0.0.1", Port: 70000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New().Configure(tt.slot, tt.cfg)
			if !errors.Is(err, radar.ErrConfiguration) {
				t.Fatalf("Configure() error = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestVariantBindingIsImmutable(t *testing.T) {
	r := New()
	require.NoError(t, r.Configure(0, sensor(1, variant.UMRR96)))
	// Same variant is fine before freeze.
	require.NoError(t, r.Configure(0, SensorConfig{SensorID: 1, Variant: variant.UMRR96, FrameID: "front"}))

	err := r.Configure(0, sensor(1, variant.UMRR11))
	assert.ErrorIs(t, err, radar.ErrConfiguration)

	got, err := r.Lookup(0)
	require.NoError(t, err)
	assert.Equal(t, variant.UMRR96, got.Variant)
	assert.Equal(t, "front", got.FrameID)
}

func TestDuplicateSensorID(t *testing.T) {
	r := New()
	require.NoError(t, r.Configure(0, sensor(7, variant.UMRR11)))
	assert.ErrorIs(t, r.Configure(1, sensor(7, variant.UMRR96)), radar.ErrConfiguration)
}

func TestLookupUnknownSlot(t *testing.T) {
	r := New()
	require.NoError(t, r.Configure(0, sensor(1, variant.UMRR11)))
	for _, slot := range []int{-1, 1, 9, 10, 42} {
		_, err := r.Lookup(slot)
		if !errors.Is(err, radar.ErrUnknownSlot) {
			t.Errorf("Lookup(%d) error = %v, want ErrUnknownSlot", slot, err)
		}
	}
}

func TestFreeze(t *testing.T) {
	t.Run("requires a sensor", func(t *testing.T) {
		assert.ErrorIs(t, New().Freeze(), radar.ErrConfiguration)
	})

	t.Run("blocks configuration but allows ip updates", func(t *testing.T) {
		r := New()
		require.NoError(t, r.Configure(0, sensor(1, variant.UMRR9DV122)))
		require.NoError(t, r.Freeze())
		assert.True(t, r.Frozen())

		assert.ErrorIs(t, r.Configure(1, sensor(2, variant.UMRR11)), radar.ErrConfiguration)
		assert.ErrorIs(t, r.ConfigureAdapter(0, HWConfig{HWDevID: 1}), radar.ErrConfiguration)

		require.NoError(t, r.UpdateIP(0, "192.168.11.11"))
		got, err := r.Lookup(0)
		require.NoError(t, err)
		assert.Equal(t, "192.168.11.11", got.IP)
		assert.Equal(t, variant.UMRR9DV122, got.Variant)
	})

	t.Run("sensors must reference declared adapters", func(t *testing.T) {
		r := New()
		require.NoError(t, r.ConfigureAdapter(0, HWConfig{HWDevID: 1, IfaceName: "eth0", Type: "eth"}))
		require.NoError(t, r.Configure(0, SensorConfig{SensorID: 100, DevID: 2, Variant: variant.UMRR11}))
		assert.ErrorIs(t, r.Freeze(), radar.ErrConfiguration)
		assert.False(t, r.Frozen())
	})
}

func TestUpdateIP(t *testing.T) {
	r := New()
	require.NoError(t, r.Configure(0, sensor(1, variant.UMRR11)))
	assert.ErrorIs(t, r.UpdateIP(0, "999.1.1.1"), radar.ErrConfiguration)
	assert.ErrorIs(t, r.UpdateIP(4, "10.0.0.1"), radar.ErrUnknownSlot)
}

func TestConfigureAdapter(t *testing.T) {
	r := New()
	assert.ErrorIs(t, r.ConfigureAdapter(radar.MaxHwCount, HWConfig{HWDevID: 1}), radar.ErrConfiguration)
	assert.ErrorIs(t, r.ConfigureAdapter(0, HWConfig{}), radar.ErrConfiguration)
	require.NoError(t, r.ConfigureAdapter(2, HWConfig{HWDevID: 5, Type: "can", BaudRate: 500000}))
	assert.ErrorIs(t, r.ConfigureAdapter(3, HWConfig{HWDevID: 5}), radar.ErrConfiguration)

	a, ok := r.Adapter(5)
	require.True(t, ok)
	assert.Equal(t, 2, a.Index)
}

func TestSlotForSensor(t *testing.T) {
	r := New()
	require.NoError(t, r.Configure(4, sensor(44, variant.UMRR11)))
	slot, ok := r.SlotForSensor(44)
	assert.True(t, ok)
	assert.Equal(t, 4, slot)
	_, ok = r.SlotForSensor(45)
	assert.False(t, ok)
}

func TestConcurrentConfigureAndLookup(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for slot := 0; slot < radar.MaxSensorCount; slot++ {
		wg.Add(2)
		go func(slot int) {
			defer wg.Done()
			_ = r.Configure(slot, sensor(uint32(slot+1), variant.UMRR11))
		}(slot)
		go func(slot int) {
			defer wg.Done()
			_, _ = r.Lookup(slot)
		}(slot)
	}
	wg.Wait()
	assert.Len(t, r.Sensors(), radar.MaxSensorCount)
}

func TestParams(t *testing.T) {
	r := New()
	require.NoError(t, r.ConfigureAdapter(0, HWConfig{HWDevID: 1, IfaceName: "lo", Type: "eth", Port: 55555}))
	require.NoError(t, r.Configure(1, SensorConfig{SensorID: 200, DevID: 1, Variant: variant.UMRR96, IP: "10.0.0.2", Port: 55556}))
	require.NoError(t, r.Configure(0, SensorConfig{SensorID: 100, DevID: 1, Variant: variant.UMRR11, IP: "10.0.0.1"}))

	params := r.Params(1)
	assert.Equal(t, Param{ScopeMaster, -1, "client_id", "1"}, params[0])

	var hw int
	for _, p := range params {
		if p.Scope == ScopeAdapter {
			hw++
		}
	}
	assert.Equal(t, 5, hw)

	want := []Route{
		{ClientID: 100, IP: "10.0.0.1", Port: DefaultPort},
		{ClientID: 200, IP: "10.0.0.2", Port: 55556},
	}
	if diff := cmp.Diff(want, RoutingTable(params)); diff != "" {
		t.Errorf("RoutingTable mismatch (-want +got):\n%s", diff)
	}
}

func ExampleRegistry_Lookup() {
	r := New()
	_ = r.Configure(0, SensorConfig{SensorID: 100, Variant: variant.UMRR11})
	cfg, _ := r.Lookup(0)
	fmt.Println(cfg.Variant, cfg.IP, cfg.Port)
	// Output: umrr11 127.0.0.1 55555
}
