package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env           string        `yaml:"env" env-default:"local"`
	RawPath       string        `yaml:"raw_path" env-default:"data/raw_data.csv"`
	ProcessedPath string        `yaml:"processed_path" env-default:"data/processed_data.csv"`
	Interval      time.Duration `yaml:"interval" env-default:"0s"`
	Watch         bool          `yaml:"watch" env-default:"false"`
	Debounce      time.Duration `yaml:"debounce" env-default:"500ms"`
	MetricsAddr   string        `yaml:"metrics_addr" env-default:":9093"`
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
