package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTMessage represents an outgoing MQTT message.
type MQTTMessage struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// MQTTSender wraps the outgoing channel with helpers for the topics
// the daemon publishes.
type MQTTSender struct {
	ch chan<- MQTTMessage
}

// NewMQTTSender creates a new MQTTSender wrapping the given channel.
func NewMQTTSender(ch chan<- MQTTMessage) *MQTTSender {
	return &MQTTSender{ch: ch}
}

// Send sends a raw MQTTMessage.
func (s *MQTTSender) Send(msg MQTTMessage) {
	s.ch <- msg
}

// DomainStateTopic is where a domain's telemetry JSON is published.
func DomainStateTopic(domainID string) string {
	return "homeassistant/sensor/ecodemand_" + domainID + "/state"
}

// TunablesSetTopic is the per-domain tunables command topic, matching
// the TopicTunablesSet subscription.
func TunablesSetTopic(domainID string) string {
	return "ecodemand/" + domainID + "/tunables/set"
}

// PublishDomainState sends one telemetry document for a domain.
func (s *MQTTSender) PublishDomainState(domainID string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Failed to marshal state for %s: %v\n", domainID, err)
		return
	}
	s.Send(MQTTMessage{
		Topic:   DomainStateTopic(domainID),
		Payload: raw,
		QoS:     0,
		Retain:  false,
	})
}

// PublishEnabledState echoes the actuation gate state to the switch
// state topic so the Home Assistant toggle tracks reality.
func (s *MQTTSender) PublishEnabledState(on bool) {
	state := "OFF"
	if on {
		state = "ON"
	}
	s.Send(MQTTMessage{
		Topic:   TopicEnabledState,
		Payload: []byte(state),
		QoS:     1,
		Retain:  true,
	})
}

type haDeviceConfig struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
}

type haSensorConfig struct {
	Name             string         `json:"name,omitempty"`
	DeviceClass      string         `json:"device_class,omitempty"`
	StateTopic       string         `json:"state_topic"`
	UnitOfMeasure    string         `json:"unit_of_measurement,omitempty"`
	ValueTemplate    string         `json:"value_template"`
	UniqueId         string         `json:"unique_id"`
	ExpireAfter      uint           `json:"expire_after,omitempty"`
	StateClass       string         `json:"state_class,omitempty"`
	DisplayPrecision int            `json:"suggested_display_precision,omitempty"`
	Device           haDeviceConfig `json:"device"`
}

type haSwitchConfig struct {
	Name         string         `json:"name"`
	StateTopic   string         `json:"state_topic"`
	CommandTopic string         `json:"command_topic"`
	UniqueId     string         `json:"unique_id"`
	Icon         string         `json:"icon,omitempty"`
	Optimistic   bool           `json:"optimistic"`
	Device       haDeviceConfig `json:"device"`
}

// domainDevice groups a domain's sensors under one Home Assistant
// device entry.
func domainDevice(domainID string, cpuCount int) haDeviceConfig {
	return haDeviceConfig{
		Identifiers:  []string{"ecodemand_" + domainID},
		Name:         "Ecodemand " + domainID,
		Manufacturer: "ecodemand",
		Model:        fmt.Sprintf("%d CPUs", cpuCount),
	}
}

// CreateDomainSensors publishes MQTT discovery configs for one
// domain: a load sensor in percent and a frequency sensor in MHz, both
// reading from the shared per-domain state topic.
func (s *MQTTSender) CreateDomainSensors(domainID string, cpuCount int) error {
	device := domainDevice(domainID, cpuCount)
	deviceID := "ecodemand_" + domainID

	sensors := []haSensorConfig{
		{
			Name:          "Load",
			StateTopic:    DomainStateTopic(domainID),
			UnitOfMeasure: "%",
			ValueTemplate: "{{ value_json.load }}",
			UniqueId:      deviceID + "_load",
			ExpireAfter:   60 * 5,
			StateClass:    "measurement",
			Device:        device,
		},
		{
			Name:             "Frequency",
			DeviceClass:      "frequency",
			StateTopic:       DomainStateTopic(domainID),
			UnitOfMeasure:    "MHz",
			ValueTemplate:    "{{ value_json.frequency_mhz }}",
			UniqueId:         deviceID + "_frequency",
			ExpireAfter:      60 * 5,
			StateClass:       "measurement",
			DisplayPrecision: 0,
			Device:           device,
		},
	}

	for _, config := range sensors {
		payload, err := json.Marshal(config)
		if err != nil {
			return err
		}
		s.Send(MQTTMessage{
			Topic:   "homeassistant/sensor/" + config.UniqueId + "/config",
			Payload: payload,
			QoS:     2,
			Retain:  true,
		})
	}
	return nil
}

// CreateEnabledSwitch publishes the discovery config for the global
// actuation switch.
func (s *MQTTSender) CreateEnabledSwitch() error {
	config := haSwitchConfig{
		Name:         "Enabled",
		StateTopic:   TopicEnabledState,
		CommandTopic: TopicEnabledSet,
		UniqueId:     "ecodemand_enabled",
		Icon:         "mdi:speedometer",
		Optimistic:   false,
		Device: haDeviceConfig{
			Identifiers:  []string{"ecodemand"},
			Name:         "Ecodemand",
			Manufacturer: "ecodemand",
		},
	}

	payload, err := json.Marshal(config)
	if err != nil {
		return err
	}

	s.Send(MQTTMessage{
		Topic:   "homeassistant/switch/ecodemand_enabled/config",
		Payload: payload,
		QoS:     2,
		Retain:  true,
	})
	return nil
}

// mqttSenderWorker handles outgoing MQTT messages, queuing while no
// client is connected and flushing the queue once one arrives.
func mqttSenderWorker(
	ctx context.Context,
	outgoingChan <-chan MQTTMessage,
	clientChan <-chan mqtt.Client,
) {
	var client mqtt.Client
	var messageQueue []MQTTMessage

	publish := func(msg MQTTMessage) {
		token := client.Publish(msg.Topic, msg.QoS, msg.Retain, msg.Payload)
		token.Wait()
		if token.Error() != nil {
			log.Printf("Failed to publish to %s: %v\n", msg.Topic, token.Error())
		}
	}

	for {
		select {
		case newClient := <-clientChan:
			client = newClient

			if client != nil && client.IsConnected() {
				for _, msg := range messageQueue {
					publish(msg)
				}
				if len(messageQueue) > 0 {
					log.Printf("MQTT sender worker flushed %d queued messages\n", len(messageQueue))
				}
				messageQueue = nil
			}

		case msg := <-outgoingChan:
			if client != nil && client.IsConnected() {
				publish(msg)
			} else {
				messageQueue = append(messageQueue, msg)
				if isDiscoveryTopic(msg.Topic) {
					log.Printf("MQTT sender worker queued %s (total queued: %d)\n", msg.Topic, len(messageQueue))
				}
			}

		case <-ctx.Done():
			log.Println("MQTT sender worker stopped")
			return
		}
	}
}

// isDiscoveryTopic checks if a topic is an MQTT discovery config topic.
func isDiscoveryTopic(topic string) bool {
	return strings.HasSuffix(topic, "/config")
}
