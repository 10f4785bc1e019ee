package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. BALATROLLM_MODEL or
// BALATROLLM_RETRY_MAX_ATTEMPTS.
const EnvPrefix = "BALATROLLM"

// Loader builds the effective configuration. Precedence, lowest first:
// defaults, environment, YAML file, command line flags.
type Loader struct {
	configPath string
	flags      map[string]*pflag.Flag
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a new config loader. configPath may be empty.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		flags:      make(map[string]*pflag.Flag),
		lookupEnv:  os.LookupEnv,
	}
}

// BindFlag makes flag override key when the flag is set on the command line.
func (l *Loader) BindFlag(key string, flag *pflag.Flag) {
	if flag != nil {
		l.flags[key] = flag
	}
}

// BindFlags binds every flag in fs whose name maps to a config key: dashes
// become underscores and dots separate sections (retry.max-attempts).
func (l *Loader) BindFlags(fs *pflag.FlagSet) {
	keys := make(map[string]bool)
	for _, k := range defaultKeys() {
		keys[k] = true
	}
	fs.VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if keys[key] {
			l.BindFlag(key, f)
		}
	})
}

// Load loads the configuration
func (l *Loader) Load() (*Config, error) {
	v := viper.New()

	defaults := defaultSettings()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	// Environment sits above defaults and below the file, so it is layered
	// in as defaults rather than through AutomaticEnv.
	for key := range defaults {
		if val, ok := l.lookupEnv(envName(key)); ok {
			v.SetDefault(key, val)
		}
	}

	if l.configPath != "" {
		if _, err := os.Stat(l.configPath); err != nil {
			return nil, fmt.Errorf("config file not found: %s", l.configPath)
		}
		v.SetConfigFile(l.configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	for key, flag := range l.flags {
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", flag.Name, err)
		}
	}

	// Defaults already live in viper; decoding into a zero value keeps
	// mapstructure from merging into the default slices and maps.
	cfg := &Config{}
	if err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		stringToListHook(),
	))); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	normalizeLists(cfg)
	return cfg, nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	return l.configPath
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// defaultSettings flattens DefaultConfig into viper keys. model_config stays
// a nested map so user maps merge into it key by key.
func defaultSettings() map[string]any {
	var flat map[string]any
	d := DefaultConfig()
	if err := mapstructure.Decode(d, &flat); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}

	out := make(map[string]any)
	for key, value := range flat {
		if nested, ok := value.(map[string]any); ok && key != "model_config" {
			for k, v := range nested {
				out[key+"."+k] = v
			}
			continue
		}
		out[key] = value
	}
	return out
}

func defaultKeys() []string {
	settings := defaultSettings()
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	return keys
}

// stringToListHook splits comma-separated strings into lists and wraps
// YAML scalars so `seed: AAAAAAA` and `seed: [AAAAAAA]` are equivalent.
func stringToListHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to.Kind() != reflect.Slice || to.Elem().Kind() != reflect.String {
			return data, nil
		}
		switch from.Kind() {
		case reflect.String:
			s := data.(string)
			if strings.TrimSpace(s) == "" {
				return []string{}, nil
			}
			return strings.Split(s, ","), nil
		case reflect.Int, reflect.Int64, reflect.Float64, reflect.Bool:
			return []string{fmt.Sprint(data)}, nil
		}
		return data, nil
	}
}

func normalizeLists(cfg *Config) {
	for _, list := range []*[]string{&cfg.Model, &cfg.Seed, &cfg.Deck, &cfg.Stake, &cfg.Strategy} {
		out := make([]string, 0, len(*list))
		for _, s := range *list {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		*list = out
	}
	for i := range cfg.Deck {
		cfg.Deck[i] = strings.ToUpper(cfg.Deck[i])
	}
	for i := range cfg.Stake {
		cfg.Stake[i] = strings.ToUpper(cfg.Stake[i])
	}
}
