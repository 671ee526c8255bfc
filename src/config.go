package main

import (
	"fmt"
	"os"
	"slices"
	"strconv"

	"github.com/gg582/ecodemand/src/governor"
)

// Config holds everything the daemon needs after flag and environment
// parsing.
type Config struct {
	Governor   string
	Tunables   governor.Tunables
	Domains    []string
	DryRun     bool
	ListenAddr string
	Console    bool
	MQTT       MQTTConfig
}

// WantsDomain reports whether the daemon should manage the named
// frequency domain. An empty selection manages everything discovered.
func (c Config) WantsDomain(id string) bool {
	return len(c.Domains) == 0 || slices.Contains(c.Domains, id)
}

// MQTTConfig holds broker connection settings. An empty Host disables
// MQTT entirely.
type MQTTConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

func (c MQTTConfig) Enabled() bool {
	return c.Host != ""
}

// BrokerURL returns the broker address in the form paho expects.
func (c MQTTConfig) BrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", c.Host, c.Port)
}

// MQTTConfigFromEnv reads broker settings from the environment,
// normally populated from .env by godotenv.
func MQTTConfigFromEnv() MQTTConfig {
	cfg := MQTTConfig{
		Host:     os.Getenv("MQTT_HOST"),
		Port:     1883,
		Username: os.Getenv("MQTT_USERNAME"),
		Password: os.Getenv("MQTT_PASSWORD"),
	}
	if port := os.Getenv("MQTT_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 {
			cfg.Port = p
		}
	}
	return cfg
}
