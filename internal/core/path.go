// Package core holds the types shared across the property graph, the
// event stream and the acquisition pipeline: property paths, the error
// taxonomy, and event/connection-state enums.
package core

import (
	"encoding/json"
	"strings"
)

// PropertyPath is a "/device/property" pair. The zero value is the empty
// path. Root ("/") enumerates devices; "/device" enumerates that device's
// properties.
type PropertyPath struct {
	root     bool
	device   string
	property string
}

// ParsePropertyPath parses the wire form described in spec.md §6:
// leading "/" means absolute, one segment means a device, two segments
// mean a property.
func ParsePropertyPath(path string) PropertyPath {
	if path == "" {
		return PropertyPath{}
	}
	if path == "/" {
		return PropertyPath{root: true}
	}
	if path[0] != '/' {
		// bare property name, no device segment
		return PropertyPath{property: path}
	}
	rest := path[1:]
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return PropertyPath{device: rest[:i], property: rest[i+1:]}
	}
	return PropertyPath{device: rest}
}

// NewPropertyPath builds a path directly from a device and property name.
func NewPropertyPath(device, property string) PropertyPath {
	return PropertyPath{device: device, property: property}
}

func (p PropertyPath) Empty() bool {
	return !p.root && p.device == "" && p.property == ""
}

func (p PropertyPath) IsRoot() bool { return p.root }

func (p PropertyPath) IsDevice() bool {
	return p.device != "" && p.property == ""
}

func (p PropertyPath) Device() string   { return p.device }
func (p PropertyPath) Property() string { return p.property }

func (p PropertyPath) String() string {
	switch {
	case p.root:
		return "/"
	case p.device == "" && p.property == "":
		return ""
	case p.device == "":
		return p.property
	case p.property == "":
		return "/" + p.device
	default:
		return "/" + p.device + "/" + p.property
	}
}

// MarshalJSON encodes a PropertyPath as its "/device/property" wire form,
// so event payloads (e.g. republished over MQTT by internal/supervisor's
// bridge) keep the path/property identity that the unexported fields would
// otherwise lose to the zero value.
func (p PropertyPath) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON parses the "/device/property" wire form produced by
// MarshalJSON, the inverse of ParsePropertyPath.
func (p *PropertyPath) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*p = ParsePropertyPath(s)
	return nil
}

// Less gives the lexicographic ordering spec.md §3 requires for
// PropertyPath equality/ordering.
func (p PropertyPath) Less(other PropertyPath) bool {
	return p.String() < other.String()
}
