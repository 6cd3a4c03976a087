package config

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/tradehost/connector"
)

// Loader reads one configuration file, layered over Default and under
// TRADEHOST_* environment variables. An empty path loads defaults and
// environment only.
type Loader struct {
	path string
	v    *viper.Viper

	mu      sync.Mutex
	current *Config
}

func NewLoader(path string) (*Loader, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := setDefaults(v, Default()); err != nil {
		return nil, err
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return &Loader{path: path, v: v}, nil
}

// Viper exposes the underlying store so commands can bind flags to keys.
func (l *Loader) Viper() *viper.Viper { return l.v }

// Load decodes and validates the current settings.
func (l *Loader) Load() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	normalize(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	l.mu.Lock()
	l.current = &cfg
	l.mu.Unlock()
	return &cfg, nil
}

// Current is the last configuration Load or a reload produced.
func (l *Loader) Current() *Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Watch reloads on every change of the file and passes the result to fn.
// A file that fails to decode or validate leaves Current unchanged.
func (l *Loader) Watch(fn func(*Config, error)) error {
	if l.path == "" {
		return fmt.Errorf("watch: no config file")
	}
	l.v.OnConfigChange(func(evt fsnotify.Event) {
		if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) {
			return
		}
		cfg, err := l.Load()
		fn(cfg, err)
	})
	l.v.WatchConfig()
	return nil
}

// Load reads path with Default underneath.
func Load(path string) (*Config, error) {
	l, err := NewLoader(path)
	if err != nil {
		return nil, err
	}
	return l.Load()
}

// setDefaults registers every key of d so environment variables can
// override keys the file does not mention.
func setDefaults(v *viper.Viper, d *Config) error {
	data, err := Marshal(d)
	if err != nil {
		return err
	}
	tmp := viper.New()
	tmp.SetConfigType("yaml")
	if err := tmp.ReadConfig(strings.NewReader(string(data))); err != nil {
		return fmt.Errorf("default config: %w", err)
	}
	for _, k := range tmp.AllKeys() {
		v.SetDefault(k, tmp.Get(k))
	}
	// Zero times are omitted from the YAML.
	v.SetDefault("backtest.start", "")
	v.SetDefault("backtest.end", "")
	return nil
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		stringToTimeHook,
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	)
}

// stringToTimeHook accepts RFC3339 timestamps and plain dates (UTC).
func stringToTimeHook(f, t reflect.Type, data any) (any, error) {
	if f.Kind() != reflect.String || t != reflect.TypeOf(time.Time{}) {
		return data, nil
	}
	s := strings.TrimSpace(data.(string))
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return nil, fmt.Errorf("parse time %q: want RFC3339 or YYYY-MM-DD", s)
}

// normalize undoes viper's lower-casing of map keys and trims inputs.
func normalize(c *Config) {
	c.Account.Currency = strings.ToUpper(c.Account.Currency)
	for i, s := range c.Backtest.Symbols {
		c.Backtest.Symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	if len(c.Live.SymbolLevels) > 0 {
		levels := make(map[string]connector.Levels, len(c.Live.SymbolLevels))
		for k, lv := range c.Live.SymbolLevels {
			levels[strings.ToUpper(k)] = lv
		}
		c.Live.SymbolLevels = levels
	}
}

// Marshal renders c as YAML.
func Marshal(c *Config) ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}
