// Package hostconfig loads the demo host binary's configuration. None
// of this is part of the OTA core: pkg/otaagent.OtaConfig is the
// core's own record, populated from the fields decoded here.
package hostconfig

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cast"
)

// HostConfig is decoded from a TOML file, following the struct-tag
// convention printmaster/agent/config.go uses for its own AgentConfig.
type HostConfig struct {
	MQTT MQTTConfig `toml:"mqtt"`
	TLS  TLSConfig  `toml:"tls"`
	OTA  OTAConfig  `toml:"ota"`
	Web  WebConfig  `toml:"web"`
}

type MQTTConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	ClientID string `toml:"client_id"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	UseTLS   bool   `toml:"use_tls"`
	Topic    string `toml:"topic"`
}

type TLSConfig struct {
	CACertPath         string `toml:"ca_cert_path"`
	ClientCertPath     string `toml:"client_cert_path"`
	ClientKeyPath      string `toml:"client_key_path"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

type OTAConfig struct {
	CheckIntervalSeconds       int    `toml:"check_interval_seconds"`
	DownloadTimeoutSeconds     int    `toml:"download_timeout_seconds"`
	MaxRetries                 int    `toml:"max_retries"`
	EnableRollback             bool   `toml:"enable_rollback"`
	VerifyChecksum             bool   `toml:"verify_checksum"`
	CurrentVersion             string `toml:"current_version"`
	ChunkSize                  int    `toml:"chunk_size"`
	YieldIntervalMilliseconds  int    `toml:"yield_interval_ms"`
	MqttConnectTimeoutSeconds  int    `toml:"mqtt_connect_timeout_seconds"`
	PartitionPath              string `toml:"partition_path"`
}

type WebConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// Default mirrors OtaConfig's own defaults so a missing [ota] section
// in the TOML file behaves the same as pkg/otaagent.DefaultConfig().
func Default() HostConfig {
	return HostConfig{
		MQTT: MQTTConfig{Host: "localhost", Port: 1883, Topic: "device/ota"},
		OTA: OTAConfig{
			CheckIntervalSeconds:      30,
			DownloadTimeoutSeconds:    60,
			MaxRetries:                3,
			EnableRollback:            true,
			VerifyChecksum:            true,
			CurrentVersion:            "1.0.0",
			ChunkSize:                 512,
			YieldIntervalMilliseconds: 50,
			MqttConnectTimeoutSeconds: 15,
			PartitionPath:             "./firmware.bin",
		},
		Web: WebConfig{Enabled: false, Port: 8080},
	}
}

// Load decodes path into a HostConfig starting from Default(), the way
// printmaster/common/config.LoadTOML decodes into a caller-supplied
// struct.
func Load(path string) (HostConfig, error) {
	cfg := Default()
	if _, err := os.Stat(path); err != nil {
		return cfg, fmt.Errorf("config file not found: %w", err)
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

// applyEnvOverrides mirrors pkg/config.Config.LoadFromEnv's per-field
// override pass, adapted to use spf13/cast instead of hand-rolled
// strconv calls for each field's type.
func applyEnvOverrides(cfg *HostConfig) {
	if v, ok := os.LookupEnv("OTAAGENTD_MQTT_HOST"); ok {
		cfg.MQTT.Host = v
	}
	if v, ok := os.LookupEnv("OTAAGENTD_MQTT_PORT"); ok {
		if port, err := cast.ToIntE(v); err == nil {
			cfg.MQTT.Port = port
		}
	}
	if v, ok := os.LookupEnv("OTAAGENTD_MQTT_USE_TLS"); ok {
		if useTLS, err := cast.ToBoolE(v); err == nil {
			cfg.MQTT.UseTLS = useTLS
		}
	}
	if v, ok := os.LookupEnv("OTAAGENTD_MQTT_USERNAME"); ok {
		cfg.MQTT.Username = v
	}
	if v, ok := os.LookupEnv("OTAAGENTD_MQTT_PASSWORD"); ok {
		cfg.MQTT.Password = v
	}
	if v, ok := os.LookupEnv("OTAAGENTD_TLS_INSECURE_SKIP_VERIFY"); ok {
		if skip, err := cast.ToBoolE(v); err == nil {
			cfg.TLS.InsecureSkipVerify = skip
		}
	}
	if v, ok := os.LookupEnv("OTAAGENTD_OTA_CURRENT_VERSION"); ok {
		cfg.OTA.CurrentVersion = v
	}
	if v, ok := os.LookupEnv("OTAAGENTD_OTA_MAX_RETRIES"); ok {
		if n, err := cast.ToIntE(v); err == nil {
			cfg.OTA.MaxRetries = n
		}
	}
}

func (c OTAConfig) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSeconds) * time.Second
}

func (c OTAConfig) DownloadTimeout() time.Duration {
	return time.Duration(c.DownloadTimeoutSeconds) * time.Second
}

func (c OTAConfig) YieldInterval() time.Duration {
	return time.Duration(c.YieldIntervalMilliseconds) * time.Millisecond
}

func (c OTAConfig) MqttConnectTimeout() time.Duration {
	return time.Duration(c.MqttConnectTimeoutSeconds) * time.Second
}

func loadCertFile(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	return os.ReadFile(path)
}
