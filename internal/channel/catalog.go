package channel

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sua-org/scope-bus/internal/core"
)

// catalogFile is the on-disk shape of the preset catalog, loaded once at
// construction and never mutated thereafter (spec.md §4.5). Grounded on
// the teacher's mediamtx.Config yaml-tagged struct + yaml.Unmarshal
// loading pattern, applied to original_source/src/channel.h's
// ChannelPreset fields.
type catalogFile struct {
	Presets []Preset `yaml:"presets"`
}

// LoadCatalog reads a preset catalog from a YAML file on disk.
func LoadCatalog(path string) (map[string]Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, core.Wrap(core.Internal, "channel.LoadCatalog", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses a preset catalog from YAML bytes.
func ParseCatalog(data []byte) (map[string]Preset, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, core.Wrap(core.InvalidArgument, "channel.ParseCatalog", err)
	}
	out := make(map[string]Preset, len(file.Presets))
	for _, p := range file.Presets {
		if p.Name == "" {
			return nil, core.Errorf(core.InvalidArgument, "channel.ParseCatalog", "preset with empty name")
		}
		out[p.Name] = p
	}
	return out, nil
}
