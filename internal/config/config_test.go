package config

import "testing"

func TestParseDevicesDefault(t *testing.T) {
	got := parseDevices("Stage:stage,Camera:camera")
	if len(got) != 2 || got[0].Name != "Stage" || got[0].Kind != "stage" {
		t.Fatalf("unexpected devices: %+v", got)
	}
}

func TestParseDevicesSkipsMalformedEntries(t *testing.T) {
	got := parseDevices("Stage:stage,malformed,:empty-name,NoKind:")
	if len(got) != 1 || got[0].Name != "Stage" {
		t.Fatalf("expected only the well-formed entry, got %+v", got)
	}
}

func TestLoadFromEnvDefaults(t *testing.T) {
	cfg := LoadFromEnv()
	if cfg.MQTTBaseTopic != "scope-bus" {
		t.Fatalf("expected default base topic, got %q", cfg.MQTTBaseTopic)
	}
	if len(cfg.Devices) != 2 {
		t.Fatalf("expected 2 default devices, got %+v", cfg.Devices)
	}
	if len(cfg.RequiredDevices) != 2 {
		t.Fatalf("expected 2 default required devices, got %+v", cfg.RequiredDevices)
	}
}
