package telemetry

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// mqttTimeout bounds connect and publish round trips.
const mqttTimeout = 10 * time.Second

// MQTTSink publishes events as JSON on "<topic>/<channel>/<kind>".
type MQTTSink struct {
	client mqtt.Client
	topic  string
}

// NewMQTTSink connects to broker, e.g. "tcp://127.0.0.1:1883".
func NewMQTTSink(broker, topic, session string) (*MQTTSink, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID("pulsesensor-" + session)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(mqttTimeout)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		slog.Warn("MQTT connection lost", "component", "telemetry", "err", err)
	}
	opts.OnReconnecting = func(mqtt.Client, *mqtt.ClientOptions) {
		slog.Info("MQTT reconnecting", "component", "telemetry", "broker", broker)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttTimeout) {
		return nil, errors.New("MQTT connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("MQTT connect failed: %w", err)
	}
	return &MQTTSink{client: client, topic: topic}, nil
}

// Topic returns the topic an event is published on.
func (s *MQTTSink) Topic(e Event) string {
	return fmt.Sprintf("%s/%d/%s", s.topic, e.Channel, e.Kind)
}

// Publish implements Sink.
func (s *MQTTSink) Publish(e Event) error {
	b, err := e.Marshal()
	if err != nil {
		return err
	}
	token := s.client.Publish(s.Topic(e), 0, false, b)
	if !token.WaitTimeout(mqttTimeout) {
		return errors.New("MQTT publish timeout")
	}
	return token.Error()
}

// Close implements Sink.
func (s *MQTTSink) Close() error {
	s.client.Disconnect(1000)
	return nil
}
