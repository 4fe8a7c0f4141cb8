package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. TOKENSTAMP_TOKEN_MODULE_PATH.
const EnvPrefix = "TOKENSTAMP"

// keys without a default value still need an environment binding.
var optionalKeys = []string{
	"token.slot-no",
	"token.module-path",
	"token.user-pin",
	"token.token-criteria.label",
	"token.token-criteria.serial",
	"token.pfx-file",
	"token.pfx-passphrase",
	"stamp.font-size",
	"input",
	"output",
}

// SetDefaults registers Default() on v.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("phrase", d.Phrase)
	v.SetDefault("token.source", string(d.Token.Source))
	v.SetDefault("token.pin-entry", string(d.Token.PinEntry))
	v.SetDefault("token.pin-env", d.Token.PinEnv)
	v.SetDefault("stamp.fallback-on-missing", d.Stamp.FallbackOnMissing)
	v.SetDefault("stamp.offset-x", d.Stamp.OffsetX)
	v.SetDefault("stamp.offset-y", d.Stamp.OffsetY)
	v.SetDefault("stamp.fallback-x", d.Stamp.FallbackX)
	v.SetDefault("stamp.fallback-y", d.Stamp.FallbackY)
	v.SetDefault("stamp.highlight", d.Stamp.Highlight)
	v.SetDefault("verify.enabled", d.Verify.Enabled)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)
}

// New returns a viper instance layered as defaults, then the YAML file at
// path (if any), then TOKENSTAMP_* environment variables.
func New(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	for _, key := range optionalKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}
	return v, nil
}

// BindFlags makes each flag override the config key it is mapped to, but
// only when the flag was set on the command line.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) error {
	for name, key := range keys {
		f := flags.Lookup(name)
		if f == nil {
			return fmt.Errorf("unknown flag %q for key %s", name, key)
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}
	return nil
}

// Decode unmarshals v into a Config.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		tokenSourceHook,
		pinEntryHook,
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, &ConfigError{Message: "failed to decode configuration", Err: err}
	}
	cfg.Logging.SetDefaults()
	return &cfg, nil
}

// Load layers defaults, the YAML file at path, the environment and flags,
// and decodes the result. It does not validate.
func Load(path string, flags *pflag.FlagSet, keys map[string]string) (*Config, error) {
	v, err := New(path)
	if err != nil {
		return nil, err
	}
	if flags != nil {
		if err := BindFlags(v, flags, keys); err != nil {
			return nil, err
		}
	}
	return Decode(v)
}

func tokenSourceHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf(TokenSource("")) {
		return data, nil
	}
	return ParseTokenSource(reflect.ValueOf(data).String())
}

func pinEntryHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf(PinEntryMode("")) {
		return data, nil
	}
	return ParsePinEntryMode(reflect.ValueOf(data).String())
}
