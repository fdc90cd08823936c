package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/sua-org/scope-bus/internal/channel"
	"github.com/sua-org/scope-bus/internal/core"
	"github.com/sua-org/scope-bus/internal/events"
)

// mqttPublisher is the subset of *mqttclient.Client the bridge needs,
// narrowed to an interface so tests can substitute a fake broker.
type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
}

// Bridge republishes every core event onto MQTT and accepts remote
// switch-channel/acquire commands, per SPEC_FULL.md §9's topic shape.
// Adapted from the teacher's MQTT topic-construction style in
// supervisor.go (slash-joined fmt.Sprintf paths) generalized from
// per-camera-info topics to a single-instrument event/command surface.
type Bridge struct {
	client    mqttPublisher
	baseTopic string
	sup       *Supervisor
}

func NewBridge(client mqttPublisher, baseTopic string, sup *Supervisor) *Bridge {
	return &Bridge{client: client, baseTopic: baseTopic, sup: sup}
}

func (b *Bridge) eventsTopic(device string, kind core.EventKind) string {
	if device == "" {
		device = "-"
	}
	return fmt.Sprintf("%s/events/%s/%s", b.baseTopic, device, kind)
}

func (b *Bridge) statusTopic() string { return b.baseTopic + "/status/hub" }
func (b *Bridge) switchChannelTopic() string { return b.baseTopic + "/cmd/switch-channel" }
func (b *Bridge) acquireTopic() string { return b.baseTopic + "/cmd/acquire" }

// Subscribe wires the remote command topics to the supervisor. Call once
// before PublishEvents.
func (b *Bridge) Subscribe() error {
	if err := b.client.Subscribe(b.switchChannelTopic(), 1, b.handleSwitchChannel); err != nil {
		return fmt.Errorf("subscribe switch-channel: %w", err)
	}
	if err := b.client.Subscribe(b.acquireTopic(), 1, b.handleAcquire); err != nil {
		return fmt.Errorf("subscribe acquire: %w", err)
	}
	return nil
}

// PublishEvents drains stream and republishes every event onto MQTT until
// the stream is closed.
func (b *Bridge) PublishEvents(stream *events.Stream) {
	for {
		e, ok := stream.Recv()
		if !ok {
			return
		}
		payload, err := json.Marshal(e)
		if err != nil {
			log.Printf("[bridge] marshal event: %v", err)
			continue
		}
		if err := b.client.Publish(b.eventsTopic(e.Device, e.Type), 0, false, payload); err != nil {
			log.Printf("[bridge] publish event: %v", err)
		}
	}
}

// PublishHubStatus publishes a retained status payload, mirroring the
// teacher's retained camera-status messages.
func (b *Bridge) PublishHubStatus(status string) {
	if err := b.client.Publish(b.statusTopic(), 0, true, []byte(status)); err != nil {
		log.Printf("[bridge] publish hub status: %v", err)
	}
}

type switchChannelCommand struct {
	PresetName            string  `json:"presetName"`
	ExposureMs            float64 `json:"exposureMs"`
	IlluminationIntensity float64 `json:"illuminationIntensity"`
}

func (b *Bridge) handleSwitchChannel(_ string, payload []byte) {
	var cmd switchChannelCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		log.Printf("[bridge] invalid switch-channel command: %v", err)
		return
	}
	req := channel.Request{
		PresetName:            cmd.PresetName,
		ExposureMs:            cmd.ExposureMs,
		IlluminationIntensity: cmd.IlluminationIntensity,
	}
	if err := b.sup.Control().SwitchChannel(context.Background(), req); err != nil {
		log.Printf("[bridge] switch-channel failed: %v", err)
	}
}

type acquireCommand struct {
	ImageName string                 `json:"imageName"`
	Requests  []channel.Request      `json:"requests"`
	Metadata  map[string]interface{} `json:"metadata"`
}

func (b *Bridge) handleAcquire(_ string, payload []byte) {
	var cmd acquireCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		log.Printf("[bridge] invalid acquire command: %v", err)
		return
	}
	if err := b.sup.AcquireMultiChannel(context.Background(), cmd.ImageName, cmd.Requests, cmd.Metadata); err != nil {
		log.Printf("[bridge] acquire failed: %v", err)
	}
}
