package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"kestrel/internal/common"
)

const envPrefix = "KESTREL"

var (
	ErrNoInstruments = errors.New("no instruments configured")
	ErrBadTick       = errors.New("price is not a multiple of the tick size")
	ErrNoInstrument  = errors.New("instrument not configured")
)

type Config struct {
	Instruments []Instrument   `mapstructure:"instruments"`
	Server      ServerConfig   `mapstructure:"server"`
	Dispatch    DispatchConfig `mapstructure:"dispatch"`
	Journal     JournalConfig  `mapstructure:"journal"`
	Kafka       KafkaConfig    `mapstructure:"kafka"`
	Metrics     MetricsConfig  `mapstructure:"metrics"`
	Log         LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Address     string        `mapstructure:"address"`
	Port        int           `mapstructure:"port"`
	Workers     int           `mapstructure:"workers"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

type DispatchConfig struct {
	QueueSize int `mapstructure:"queue_size"`
}

// JournalConfig enables the pebble event journal when Dir is set.
type JournalConfig struct {
	Dir string `mapstructure:"dir"`
}

// KafkaConfig enables event publishing when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// MetricsConfig enables the prometheus endpoint when Address is set.
type MetricsConfig struct {
	Address string `mapstructure:"address"`
}

type LogConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("instruments", []map[string]any{
		{"symbol": "AAPL", "tick_size": "0.01"},
	})
	v.SetDefault("server.address", "0.0.0.0")
	v.SetDefault("server.port", 9001)
	v.SetDefault("server.workers", 10)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("dispatch.queue_size", 4096)
	v.SetDefault("journal.dir", "")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "kestrel.events")
	v.SetDefault("metrics.address", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", true)
}

// Load reads the optional YAML file at path and applies KESTREL_*
// environment overrides, e.g. KESTREL_SERVER_PORT or
// KESTREL_KAFKA_BROKERS=a:9092,b:9092.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("unable to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg Config) Validate() error {
	if len(cfg.Instruments) == 0 {
		return ErrNoInstruments
	}
	seen := make(map[string]bool, len(cfg.Instruments))
	for _, inst := range cfg.Instruments {
		if inst.Symbol == "" {
			return errors.New("instrument without symbol")
		}
		if seen[inst.Symbol] {
			return fmt.Errorf("duplicate instrument %s", inst.Symbol)
		}
		seen[inst.Symbol] = true
		if _, err := inst.Tick(); err != nil {
			return err
		}
	}
	if cfg.Server.Workers <= 0 {
		return fmt.Errorf("server.workers must be positive, got %d", cfg.Server.Workers)
	}
	if cfg.Dispatch.QueueSize <= 0 {
		return fmt.Errorf("dispatch.queue_size must be positive, got %d", cfg.Dispatch.QueueSize)
	}
	return nil
}

// Lookup returns the configured instrument with the given symbol.
func (cfg Config) Lookup(symbol string) (Instrument, error) {
	for _, inst := range cfg.Instruments {
		if inst.Symbol == symbol {
			return inst, nil
		}
	}
	return Instrument{}, fmt.Errorf("%w: %s", ErrNoInstrument, symbol)
}

// Resolve is Lookup for clients that may override the tick size. An empty
// tick keeps the configured grid.
func (cfg Config) Resolve(symbol, tick string) (Instrument, error) {
	if tick == "" {
		return cfg.Lookup(symbol)
	}
	inst := Instrument{Symbol: symbol, TickSize: tick}
	if _, err := inst.Tick(); err != nil {
		return Instrument{}, err
	}
	return inst, nil
}

// Instrument maps an external decimal price grid onto integer ticks.
type Instrument struct {
	Symbol   string `mapstructure:"symbol"`
	TickSize string `mapstructure:"tick_size"`
}

func (inst Instrument) Tick() (decimal.Decimal, error) {
	tick, err := decimal.NewFromString(inst.TickSize)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("instrument %s: bad tick size %q: %w", inst.Symbol, inst.TickSize, err)
	}
	if !tick.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("instrument %s: tick size must be positive", inst.Symbol)
	}
	return tick, nil
}

// ToTicks converts a decimal price into engine ticks. Prices off the
// tick grid are refused rather than rounded.
func (inst Instrument) ToTicks(price decimal.Decimal) (common.Price, error) {
	tick, err := inst.Tick()
	if err != nil {
		return 0, err
	}
	if !price.Mod(tick).IsZero() {
		return 0, fmt.Errorf("%w: %s on %s grid", ErrBadTick, price, tick)
	}
	return common.Price(price.Div(tick).IntPart()), nil
}

// FromTicks converts engine ticks back into a decimal price.
func (inst Instrument) FromTicks(price common.Price) decimal.Decimal {
	tick, err := inst.Tick()
	if err != nil {
		return decimal.Zero
	}
	return tick.Mul(decimal.NewFromInt(int64(price)))
}
