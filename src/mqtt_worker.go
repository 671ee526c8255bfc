package main

import (
	"context"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// CommandMessage is an inbound control message from MQTT.
type CommandMessage struct {
	Topic   string
	Payload string
}

// Control topics. TopicTunablesSet matches one domain per message;
// the wildcard segment carries the domain name or "all".
const (
	TopicTunablesSet  = "ecodemand/+/tunables/set"
	TopicEnabledSet   = "homeassistant/switch/ecodemand_enabled/set"
	TopicEnabledState = "homeassistant/switch/ecodemand_enabled/state"
)

// mqttWorker owns the broker connection: it subscribes to the control
// topics, forwards inbound messages to the command worker, and hands
// each (re)connected client to the sender worker.
func mqttWorker(
	ctx context.Context,
	cfg MQTTConfig,
	cmdChan chan<- CommandMessage,
	clientChan chan<- mqtt.Client,
) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL())
	opts.SetClientID("ecodemand")
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(5 * time.Second)

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Printf("MQTT connection lost: %v\n", err)
	})

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Printf("Connected to MQTT broker at %s\n", cfg.Host)

		// Hand the fresh client to the sender worker so queued
		// messages start flowing.
		select {
		case clientChan <- client:
		case <-ctx.Done():
			return
		}

		for _, topic := range []string{TopicTunablesSet, TopicEnabledSet} {
			token := client.Subscribe(topic, 0, func(client mqtt.Client, msg mqtt.Message) {
				cmd := CommandMessage{
					Topic:   msg.Topic(),
					Payload: string(msg.Payload()),
				}
				select {
				case cmdChan <- cmd:
				case <-ctx.Done():
				}
			})

			if token.Wait() && token.Error() != nil {
				log.Printf("Failed to subscribe to %s: %v\n", topic, token.Error())
			} else {
				log.Printf("Subscribed to topic: %s\n", topic)
			}
		}
	})

	client := mqtt.NewClient(opts)

	log.Printf("Connecting to MQTT broker at %s...\n", cfg.BrokerURL())
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Printf("Failed to connect to MQTT broker: %v\n", token.Error())
		return
	}

	<-ctx.Done()

	if client.IsConnected() {
		client.Disconnect(250)
		log.Println("Disconnected from MQTT broker")
	}
}
