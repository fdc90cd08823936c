// Package mqttclient is a thin wrapper around paho.mqtt.golang, adapted
// from the teacher's internal/mqttclient package for scope-bus's single
// connection to the site broker rather than a camera-fleet's.
package mqttclient

import (
	"fmt"
	"os"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type Client struct {
	client mqtt.Client
}

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	ClientID string
}

// NewClientFromEnv reads SCOPEBUS_MQTT_HOST/PORT/USERNAME/PASSWORD/CLIENT_ID,
// mirroring the teacher's NewClientFromEnv.
func NewClientFromEnv(defaultClientID string) (*Client, error) {
	cfg := Config{
		Host:     getenv("SCOPEBUS_MQTT_HOST", "localhost"),
		Port:     getenvInt("SCOPEBUS_MQTT_PORT", 1883),
		Username: os.Getenv("SCOPEBUS_MQTT_USERNAME"),
		Password: os.Getenv("SCOPEBUS_MQTT_PASSWORD"),
		ClientID: getenv("SCOPEBUS_MQTT_CLIENT_ID", defaultClientID),
	}
	return NewClient(cfg)
}

func NewClient(cfg Config) (*Client, error) {
	broker := fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	cli := mqtt.NewClient(opts)
	token := cli.Connect()
	if ok := token.WaitTimeout(10 * time.Second); !ok {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect error: %w", err)
	}

	return &Client{client: cli}, nil
}

func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	token.Wait()
	return token.Error()
}

func (c *Client) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	token := c.client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	token.Wait()
	return token.Error()
}

func (c *Client) Close() {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if x, err := strconv.Atoi(v); err == nil && x > 0 {
			return x
		}
	}
	return def
}
