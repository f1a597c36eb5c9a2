// Package config loads the agent configuration from YAML or JSON, fills
// defaults and validates it. Risk limits and credentials are never
// defaulted: a config without them is rejected with ErrFatalConfig.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/autotrader/adapt"
	"github.com/rustyeddy/autotrader/agent"
	"github.com/rustyeddy/autotrader/broker/paper"
	"github.com/rustyeddy/autotrader/events"
	"github.com/rustyeddy/autotrader/execution"
	"github.com/rustyeddy/autotrader/export"
	"github.com/rustyeddy/autotrader/fusion"
	"github.com/rustyeddy/autotrader/internal/logging"
	"github.com/rustyeddy/autotrader/market/oanda"
	"github.com/rustyeddy/autotrader/risk"
	"github.com/rustyeddy/autotrader/server"
	"github.com/rustyeddy/autotrader/strategies"
)

// ErrFatalConfig means the agent must not start with this configuration.
var ErrFatalConfig = errors.New("fatal config")

// Environment variables read after the config file.
const (
	EnvOANDAToken    = "OANDA_TOKEN"
	EnvRedisPassword = "AUTOTRADER_REDIS_PASSWORD"
	EnvKafkaBrokers  = "AUTOTRADER_KAFKA_BROKERS"
	EnvLogLevel      = "AUTOTRADER_LOG_LEVEL"
)

type Config struct {
	Agent      agent.Config      `yaml:"agent" json:"agent"`
	Risk       risk.Config       `yaml:"risk" json:"risk"`
	Strategies strategies.Config `yaml:"strategies" json:"strategies"`
	Fusion     fusion.Config     `yaml:"fusion" json:"fusion"`
	Execution  execution.Config  `yaml:"execution" json:"execution"`
	Adapt      adapt.Config      `yaml:"adapt" json:"adapt"`
	Broker     BrokerConfig      `yaml:"broker" json:"broker"`
	Data       DataConfig        `yaml:"data" json:"data"`
	Journal    JournalConfig     `yaml:"journal" json:"journal"`
	Log        logging.Config    `yaml:"log" json:"log"`
	Server     server.Config     `yaml:"server" json:"server"`
	Events     EventsConfig      `yaml:"events" json:"events"`
	Export     export.Config     `yaml:"export" json:"export"`
}

// BrokerConfig selects the order venue. Live venues plug in through
// broker.Broker; the paper broker is built in.
type BrokerConfig struct {
	Kind  string       `yaml:"kind" json:"kind" default:"paper" validate:"oneof=paper"`
	Paper paper.Config `yaml:"paper" json:"paper"`
}

// DataConfig selects where bars come from.
type DataConfig struct {
	Source string `yaml:"source" json:"source" default:"replay" validate:"oneof=replay oanda"`
	// CSV is the bar file replayed when Source is replay.
	CSV string `yaml:"csv" json:"csv" validate:"required_if=Source replay"`
	// Pace is the delay between replayed bars in run mode.
	Pace time.Duration `yaml:"pace" json:"pace"`
	// Warmup bars are consumed before the first tick.
	Warmup int          `yaml:"warmup" json:"warmup" validate:"gte=0"`
	OANDA  oanda.Config `yaml:"oanda" json:"oanda"`
}

type JournalConfig struct {
	Kind string `yaml:"kind" json:"kind" default:"sqlite" validate:"oneof=none sqlite csv"`
	// Path is the SQLite file, or the directory for CSV files.
	Path string `yaml:"path" json:"path" default:"autotrader.db" validate:"required_unless=Kind none"`
}

type EventsConfig struct {
	Kafka events.KafkaConfig `yaml:"kafka" json:"kafka"`
}

var validate = validator.New()

// Default returns a configuration with every default filled in. Symbols
// and risk limits are left empty.
func Default() *Config {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return cfg
}

// Example is Default with the required fields filled in, for config init.
func Example() *Config {
	cfg := Default()
	cfg.Agent.Symbols = []string{"EUR_USD"}
	cfg.Risk.MaxPositionSize = 100_000
	cfg.Risk.PerTradeRiskPct = 0.01
	cfg.Risk.DailyLossLimit = 1_000
	cfg.Data.CSV = "bars.csv"
	cfg.Strategies.Weights = map[string]float64{"pvg": 0.5, "smc": 0.5, "tpr": 0.5}
	return cfg
}

// LoadEnv loads KEY=VALUE files into the environment without overriding
// variables that are already set. Missing files are skipped.
func LoadEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load env %s: %w", f, err)
		}
	}
	return nil
}

// LoadFromFile reads path (YAML first, JSON as fallback) over the
// defaults, applies the environment and validates the result.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		cfg = Default()
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv copies credentials and overrides from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvOANDAToken); v != "" {
		c.Data.OANDA.Token = v
	}
	if v := os.Getenv(EnvRedisPassword); v != "" {
		c.Export.Password = v
	}
	if v := os.Getenv(EnvKafkaBrokers); v != "" {
		c.Events.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
}

// Validate checks constraints. Missing risk limits and missing
// credentials are reported as ErrFatalConfig.
func (c *Config) Validate() error {
	if err := c.Risk.Check(); err != nil {
		return fmt.Errorf("%w: %v", ErrFatalConfig, err)
	}
	if c.Data.Source == "oanda" && c.Data.OANDA.Token == "" {
		return fmt.Errorf("%w: data.source oanda needs %s", ErrFatalConfig, EnvOANDAToken)
	}
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fieldPath(fe.Namespace()), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrFatalConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrFatalConfig, err)
	}
	for _, id := range c.Strategies.Enabled {
		if _, err := strategies.New(id, c.Strategies); err != nil {
			return fmt.Errorf("%w: %v", ErrFatalConfig, err)
		}
	}
	if _, err := agent.ParseSessionReset(c.Agent.SessionReset); err != nil {
		return fmt.Errorf("%w: %v", ErrFatalConfig, err)
	}
	return nil
}

// fieldPath turns "Config.Risk.MaxPositionSize" into "Risk.MaxPositionSize".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// SaveToFile writes YAML for .yaml/.yml paths and JSON otherwise.
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
