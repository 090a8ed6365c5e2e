package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"drawsync-server/domain"
)

type Config struct {
	Port           string        `mapstructure:"port"`
	LogLevel       string        `mapstructure:"log_level"`
	RoomGrace      time.Duration `mapstructure:"room_grace"`
	Palette        []string      `mapstructure:"palette"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`

	Events    EventsConfig    `mapstructure:"events"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Export    ExportConfig    `mapstructure:"export"`
}

type EventsConfig struct {
	Backend string      `mapstructure:"backend"` // none, kafka, mqtt
	Buffer  int         `mapstructure:"buffer"`
	Kafka   KafkaConfig `mapstructure:"kafka"`
	MQTT    MQTTConfig  `mapstructure:"mqtt"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type MQTTConfig struct {
	Broker   string `mapstructure:"broker"`
	Topic    string `mapstructure:"topic"`
	ClientID string `mapstructure:"client_id"`
}

type DiscoveryConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Instance string `mapstructure:"instance"`
}

// ExportConfig is the PDF page size in points.
type ExportConfig struct {
	Width  float64 `mapstructure:"width"`
	Height float64 `mapstructure:"height"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("room_grace", 60*time.Second)
	v.SetDefault("palette", domain.DefaultPalette)
	v.SetDefault("max_message_size", 16384)

	v.SetDefault("events.backend", "none")
	v.SetDefault("events.buffer", 1024)
	v.SetDefault("events.kafka.brokers", []string{})
	v.SetDefault("events.kafka.topic", "drawsync.events")
	v.SetDefault("events.mqtt.broker", "")
	v.SetDefault("events.mqtt.topic", "drawsync/rooms")
	v.SetDefault("events.mqtt.client_id", "drawsync-server")

	v.SetDefault("discovery.enabled", false)
	v.SetDefault("discovery.instance", "")

	v.SetDefault("export.width", 1600)
	v.SetDefault("export.height", 900)
}

// Load reads an optional drawsync.{yaml,json,toml} from the given directories
// (default "." and "config") and overlays environment variables such as PORT,
// ROOM_GRACE or EVENTS_KAFKA_BROKERS.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	name := "drawsync"
	if env := os.Getenv("DRAWSYNC_CONFIG_NAME"); env != "" {
		name = env
	}
	v.SetConfigName(name)
	if len(paths) == 0 {
		paths = []string{".", "config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func Validate(cfg *Config) error {
	if cfg.Port == "" {
		return errors.New("port is required")
	}
	if cfg.RoomGrace <= 0 {
		return fmt.Errorf("room_grace must be positive, got %s", cfg.RoomGrace)
	}
	if len(cfg.Palette) == 0 {
		return errors.New("palette must contain at least one color")
	}
	if cfg.MaxMessageSize <= 0 {
		return fmt.Errorf("max_message_size must be positive, got %d", cfg.MaxMessageSize)
	}
	if cfg.Export.Width <= 0 || cfg.Export.Height <= 0 {
		return fmt.Errorf("export size must be positive, got %vx%v", cfg.Export.Width, cfg.Export.Height)
	}

	switch cfg.Events.Backend {
	case "", "none":
	case "kafka":
		if len(cfg.Events.Kafka.Brokers) == 0 {
			return errors.New("events.kafka.brokers is required for the kafka backend")
		}
		if cfg.Events.Kafka.Topic == "" {
			return errors.New("events.kafka.topic is required for the kafka backend")
		}
	case "mqtt":
		if cfg.Events.MQTT.Broker == "" {
			return errors.New("events.mqtt.broker is required for the mqtt backend")
		}
	default:
		return fmt.Errorf("unknown events backend %q", cfg.Events.Backend)
	}
	return nil
}
