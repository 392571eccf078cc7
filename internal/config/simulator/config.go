package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/okulov/sensorfleet/internal/generator"
)

// Sensor is one producer definition. Zero fields fall back to the fleet
// defaults for the sensor's type.
type Sensor struct {
	ID           string           `yaml:"id"`
	Type         string           `yaml:"type"`
	Interval     time.Duration    `yaml:"interval"`
	Jitter       time.Duration    `yaml:"jitter"`
	MaxRetries   int              `yaml:"max_retries"`
	RetryBackoff time.Duration    `yaml:"retry_backoff"`
	Params       generator.Params `yaml:"params"`
}

type Config struct {
	Env             string        `yaml:"env" env-default:"local"`
	HTTPAddr        string        `yaml:"http_addr" env-default:":8080"`
	MetricsAddr     string        `yaml:"metrics_addr" env-default:":9092"`
	StorePath       string        `yaml:"store_path" env-default:"data/raw_data.csv"`
	StoreFormat     string        `yaml:"store_format" env-default:"csv"`
	SyncEvery       bool          `yaml:"sync_every" env-default:"false"`
	RunDuration     time.Duration `yaml:"run_duration" env-default:"0s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env-default:"5s"`
	PausePoll       time.Duration `yaml:"pause_poll" env-default:"100ms"`
	Sensors         []Sensor      `yaml:"sensors"`
}

func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		panic("CONFIG_PATH environment variable is not set")
	}
	if _, err := os.Stat(configPath); err != nil {
		panic(fmt.Errorf("error opening config file: %s", err))
	}
	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		panic(fmt.Errorf("error reading config file: %s", err))
	}
	return &cfg
}
