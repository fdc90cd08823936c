// Package channel implements the optical-preset catalog and the diff-based
// multi-device channel switch of spec.md §4.5, grounded on
// original_source/src/channel.h and
// original_source/src/task/channelcontrol.{h,cpp}.
package channel

// Preset is a named optical recipe: the property-value map it commits plus
// the shutter/illumination properties that channel control drives
// explicitly rather than through the map (spec.md §3).
type Preset struct {
	Name                         string            `yaml:"name"`
	PropertyValue                map[string]string `yaml:"property_value"`
	ShutterProperty              string            `yaml:"shutter_property"`
	IlluminationProperty         string            `yaml:"illumination_property"`
	DefaultExposureMs            float64           `yaml:"default_exposure_ms"`
	DefaultIlluminationIntensity float64           `yaml:"default_illumination_intensity"`
}

// Request is the parameters a given acquisition or live-view run asks a
// preset to be applied at (spec.md §3).
type Request struct {
	PresetName            string
	ExposureMs            float64
	IlluminationIntensity float64
}
