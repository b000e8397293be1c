// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const apiKeyEnv = "ALPHAVANTAGE_API_KEY"

type AppConfig struct {
	ServerPort int    `yaml:"server_port"`
	StaticDir  string `yaml:"static_dir"`
	Symbol     string `yaml:"symbol"`

	Broadcast struct {
		IntervalSeconds int `yaml:"interval_seconds"`
		SendBuffer      int `yaml:"send_buffer"`
	} `yaml:"broadcast"`

	Provider struct {
		BaseURL           string `yaml:"base_url"`
		TimeoutSeconds    int    `yaml:"timeout_seconds"`
		RequestsPerMinute int    `yaml:"requests_per_minute"`
		Days              int    `yaml:"days"`
	} `yaml:"provider"`

	Synthetic struct {
		BasePrice  float64 `yaml:"base_price"`
		Amplitude  float64 `yaml:"amplitude"`
		Noise      float64 `yaml:"noise"`
		Volatility float64 `yaml:"volatility"`
	} `yaml:"synthetic"`

	Logging struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"logging"`

	// APIKey comes from the environment only, never from YAML.
	APIKey string `yaml:"-"`
}

func (c *AppConfig) BroadcastInterval() time.Duration {
	return time.Duration(c.Broadcast.IntervalSeconds) * time.Second
}

func (c *AppConfig) ProviderTimeout() time.Duration {
	return time.Duration(c.Provider.TimeoutSeconds) * time.Second
}

func (c *AppConfig) Addr() string {
	return fmt.Sprintf(":%d", c.ServerPort)
}

// Load reads envPath (optional) and yamlPath (optional) and fills defaults.
// A missing file is not an error; a malformed one is.
func Load(envPath, yamlPath string) (*AppConfig, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envPath, err)
		}
	}

	var cfg AppConfig
	if yamlPath != "" {
		if err := loadYAML(yamlPath, &cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", yamlPath, err)
		}
	}
	cfg.APIKey = strings.TrimSpace(os.Getenv(apiKeyEnv))
	if lvl := strings.TrimSpace(os.Getenv("LOG_LEVEL")); lvl != "" {
		cfg.Logging.Level = lvl
	}
	if cfg.ServerPort == 0 {
		if p := strings.TrimSpace(os.Getenv("PORT")); p != "" {
			if v, _ := strconv.Atoi(p); v > 0 {
				cfg.ServerPort = v
			}
		}
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func loadYAML(path string, out any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, out)
}

func (c *AppConfig) applyDefaults() {
	if c.ServerPort <= 0 {
		c.ServerPort = 3000
	}
	if strings.TrimSpace(c.StaticDir) == "" {
		c.StaticDir = "public"
	}
	c.Symbol = strings.ToUpper(strings.TrimSpace(c.Symbol))
	if c.Symbol == "" {
		c.Symbol = "AAPL"
	}
	if c.Broadcast.IntervalSeconds <= 0 {
		c.Broadcast.IntervalSeconds = 5
	}
	if c.Broadcast.SendBuffer <= 0 {
		c.Broadcast.SendBuffer = 64
	}
	if strings.TrimSpace(c.Provider.BaseURL) == "" {
		c.Provider.BaseURL = "https://www.alphavantage.co"
	}
	c.Provider.BaseURL = strings.TrimRight(c.Provider.BaseURL, "/")
	if c.Provider.TimeoutSeconds <= 0 {
		c.Provider.TimeoutSeconds = 10
	}
	if c.Provider.RequestsPerMinute <= 0 {
		c.Provider.RequestsPerMinute = 5
	}
	if c.Provider.Days <= 0 {
		c.Provider.Days = 30
	}
	if c.Synthetic.BasePrice <= 0 {
		c.Synthetic.BasePrice = 150
	}
	if c.Synthetic.Amplitude <= 0 {
		c.Synthetic.Amplitude = 10
	}
	if c.Synthetic.Noise <= 0 {
		c.Synthetic.Noise = 2
	}
	if c.Synthetic.Volatility <= 0 {
		c.Synthetic.Volatility = 3
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "INFO"
	}
}
