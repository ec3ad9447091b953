// Package config loads the YAML configuration shared by the modem
// commands.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/jeongseonghan/tonemodem/internal/audio"
	"github.com/jeongseonghan/tonemodem/internal/protocol"
)

// ErrInvalid wraps every validation failure outside the link parameters.
var ErrInvalid = errors.New("invalid configuration")

// Config is the top-level configuration file.
type Config struct {
	Link   protocol.Config `yaml:"link"`
	Log    LogConfig       `yaml:"log"`
	Server ServerConfig    `yaml:"server"`
	Audio  AudioConfig     `yaml:"audio"`
	MQTT   MQTTConfig      `yaml:"mqtt"`
}

// LogConfig selects the logrus level and formatter.
type LogConfig struct {
	Level  string `yaml:"level"`  // panic, fatal, error, warn, info, debug, trace
	Format string `yaml:"format"` // text or json
}

// ServerConfig holds the HTTP front end settings.
type ServerConfig struct {
	Addr           string `yaml:"addr"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
	Metrics        bool   `yaml:"metrics"`
}

// AudioConfig holds the sound device settings.
type AudioConfig struct {
	FramesPerBuffer int `yaml:"frames_per_buffer"`
}

// MQTTConfig holds the broker settings for publishing decoded messages.
type MQTTConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Broker          string `yaml:"broker"` // e.g. tcp://localhost:1883
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	TopicPrefix     string `yaml:"topic_prefix"`
	QoS             byte   `yaml:"qos"`
	Retain          bool   `yaml:"retain"`
	PublishInterval int    `yaml:"publish_interval"` // seconds between status updates, 0 disables
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Link: protocol.DefaultConfig(),
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr:           ":8080",
			MaxUploadBytes: 32 << 20,
			Metrics:        true,
		},
		Audio: AudioConfig{
			FramesPerBuffer: audio.DefaultFramesPerBuffer,
		},
		MQTT: MQTTConfig{
			Broker:          "tcp://localhost:1883",
			TopicPrefix:     "tonemodem",
			PublishInterval: 60,
		},
	}
}

// Load reads path and overlays it onto Default.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse overlays YAML data onto Default and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := c.Link.Validate(); err != nil {
		return fmt.Errorf("link: %w", err)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalid, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log.format %q", ErrInvalid, c.Log.Format)
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("%w: server.max_upload_bytes must be positive", ErrInvalid)
	}
	if c.Audio.FramesPerBuffer < 0 {
		return fmt.Errorf("%w: audio.frames_per_buffer must not be negative", ErrInvalid)
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return fmt.Errorf("%w: mqtt.broker is required", ErrInvalid)
		}
		if c.MQTT.QoS > 2 {
			return fmt.Errorf("%w: mqtt.qos %d", ErrInvalid, c.MQTT.QoS)
		}
		if c.MQTT.PublishInterval < 0 {
			return fmt.Errorf("%w: mqtt.publish_interval must not be negative", ErrInvalid)
		}
	}
	return nil
}

// NewLogger builds a logrus logger writing to w.
func NewLogger(c LogConfig, w io.Writer) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("%w: log.level: %v", ErrInvalid, err)
	}
	log := logrus.New()
	log.SetOutput(w)
	log.SetLevel(level)
	if strings.EqualFold(c.Format, "json") {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}
