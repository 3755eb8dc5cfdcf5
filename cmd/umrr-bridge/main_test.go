package main

import (
	"net"
	"testing"
	"time"

	"github.com/banshee-data/umrr-bridge/internal/config"
	"github.com/banshee-data/umrr-bridge/internal/radar/registry"
)

func TestFlagDefaults(t *testing.T) {
	if *configPath != config.DefaultConfigPath {
		t.Errorf("expected config default %q, got %q", config.DefaultConfigPath, *configPath)
	}
	if *replaySpeed != 1 {
		t.Errorf("expected replay speed 1, got %v", *replaySpeed)
	}
	if *synthRate != 100*time.Millisecond {
		t.Errorf("expected synthetic interval 100ms, got %v", *synthRate)
	}
	if *synthetic {
		t.Error("synthetic sensors should be off by default")
	}
}

func TestApplyFlagOverrides(t *testing.T) {
	orig := *listen
	t.Cleanup(func() { *listen = orig })

	file := ":9000"
	cfg := &config.BridgeConfig{HTTPListen: &file}
	applyFlagOverrides(cfg)
	if got := cfg.GetHTTPListen(); got != ":9000" {
		t.Errorf("empty flag should keep the file value, got %q", got)
	}

	*listen = "127.0.0.1:8081"
	applyFlagOverrides(cfg)
	if got := cfg.GetHTTPListen(); got != "127.0.0.1:8081" {
		t.Errorf("expected flag override, got %q", got)
	}
	if got := cfg.GetUDPListen(); got != ":55555" {
		t.Errorf("UDP listen should keep its default, got %q", got)
	}
}

func TestLocalizeSensors(t *testing.T) {
	cfg := &config.BridgeConfig{Sensors: []registry.SensorConfig{
		{SensorID: 100, IP: "192.168.11.11", Port: 55555, DevID: 1},
		{SensorID: 101, IP: "192.168.11.12"},
		{SensorID: 0},
		{SensorID: 102, IP: "192.168.11.13"},
	}}
	localizeSensors(cfg)

	for i, want := range []uint32{syntheticBasePort, syntheticBasePort + 1} {
		s := cfg.Sensors[i]
		if s.IP != "127.0.0.1" || s.Port != want || s.DevID != 0 {
			t.Errorf("sensor %d not localized: %+v", i, s)
		}
	}
	if cfg.Sensors[3].IP != "192.168.11.13" {
		t.Errorf("sensor after the terminator should be untouched, got %+v", cfg.Sensors[3])
	}
}

func TestAllowlist(t *testing.T) {
	a, err := allowlist(nil)
	if err != nil || a != nil {
		t.Fatalf("empty list should allow everything, got %v, %v", a, err)
	}
	a, err = allowlist([]string{"Reset"})
	if err != nil {
		t.Fatalf("allowlist: %v", err)
	}
	if err := a.Check("Calibrate"); err == nil {
		t.Error("expected Calibrate to be refused")
	}
	if _, err := allowlist([]string{"bad name"}); err == nil {
		t.Error("expected a malformed name to be rejected")
	}
}

func TestLoopbackAddr(t *testing.T) {
	got, err := loopbackAddr(&net.UDPAddr{IP: net.IPv6zero, Port: 55555})
	if err != nil {
		t.Fatalf("loopbackAddr: %v", err)
	}
	if got != "127.0.0.1:55555" {
		t.Errorf("expected 127.0.0.1:55555, got %q", got)
	}
	if _, err := loopbackAddr(nil); err == nil {
		t.Error("expected an error for an unbound session")
	}
}
