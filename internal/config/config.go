// Package config collects this instance's environment-driven settings,
// grounded on the teacher's cmd/cam-bus/main.go (godotenv.Load + getenv
// helpers) and supervisor.go's envDurationSeconds, gathered into one
// struct instead of being read ad hoc across main.go.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// DeviceSpec names one simulated device to register on the hub: Name is
// its hub-visible identity ("Stage"), Kind selects the registered driver
// factory ("stage", "camera", "microscope").
type DeviceSpec struct {
	Name string
	Kind string
}

type Config struct {
	MQTTBaseTopic    string
	MQTTEnabled      bool
	CatalogPath      string
	Devices          []DeviceSpec
	CameraDeviceName string
	RequiredDevices  []string

	ExportBin  string
	ExportArgs []string
	ExportTTL  time.Duration

	StorageEnabled bool
	StatusInterval time.Duration
}

// LoadFromEnv reads SCOPEBUS_* environment variables (after main has
// loaded any .env file) into a Config, applying the same defaults the
// teacher's cam-bus binary applies for its MQTT/export equivalents.
func LoadFromEnv() *Config {
	devices := parseDevices(getenv("SCOPEBUS_DEVICES", "Stage:stage,Camera:camera"))
	required := parseCSV(getenv("SCOPEBUS_REQUIRED_DEVICES", "Stage,Camera"))

	return &Config{
		MQTTBaseTopic:    getenv("SCOPEBUS_MQTT_BASE_TOPIC", "scope-bus"),
		MQTTEnabled:      getenv("SCOPEBUS_MQTT_ENABLED", "false") == "true",
		CatalogPath:      getenv("SCOPEBUS_CATALOG_PATH", "catalog.yaml"),
		Devices:          devices,
		CameraDeviceName: getenv("SCOPEBUS_CAMERA_DEVICE", "Camera"),
		RequiredDevices:  required,

		ExportBin:  getenv("SCOPEBUS_EXPORT_BIN", "echo"),
		ExportArgs: parseCSV(os.Getenv("SCOPEBUS_EXPORT_ARGS")),
		ExportTTL:  envDurationSeconds("SCOPEBUS_EXPORT_TTL_SECONDS", 0),

		StorageEnabled: getenv("SCOPEBUS_STORAGE_ENABLED", "false") == "true",
		StatusInterval: envDurationSeconds("SCOPEBUS_STATUS_INTERVAL_SECONDS", 30*time.Second),
	}
}

func parseDevices(raw string) []DeviceSpec {
	var out []DeviceSpec
	for _, entry := range parseCSV(raw) {
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			continue
		}
		out = append(out, DeviceSpec{Name: parts[0], Kind: parts[1]})
	}
	return out
}

func parseCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envDurationSeconds(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	sec, err := strconv.Atoi(v)
	if err != nil || sec < 0 {
		return fallback
	}
	return time.Duration(sec) * time.Second
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
