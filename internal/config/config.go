// Package config provides layered configuration loading for docvault.
// It merges Defaults -> Environment Variables -> CLI Flags, then validates.
package config

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix is stripped from environment variable names before mapping them
// to configuration keys (DOCVAULT_DATA_DIR -> data_dir).
const EnvPrefix = "DOCVAULT_"

// Backend names.
const (
	BackendSQLite   = "sqlite"
	BackendDynamoDB = "dynamodb"
)

// Key derivation modes.
const (
	KeyDerivationPad  = "pad"
	KeyDerivationHKDF = "hkdf"
)

// Config holds the merged runtime configuration.
type Config struct {
	Addr           string        `koanf:"addr" validate:"required,ip_port"`
	DataDir        string        `koanf:"data_dir" validate:"required,safe_path"`
	Backend        string        `koanf:"backend" validate:"oneof=sqlite dynamodb"`
	EncryptionKey  string        `koanf:"encryption_key"`
	KeyDerivation  string        `koanf:"key_derivation" validate:"oneof=pad hkdf"`
	MaxBytes       Size          `koanf:"max_bytes" validate:"gt=0"`
	RequestTimeout time.Duration `koanf:"request_timeout" validate:"gt=0"`
	LogLevel       string        `koanf:"log_level" validate:"oneof=debug info warn error"`
	LogFormat      string        `koanf:"log_format" validate:"oneof=text json"`
	MetricsToken   string        `koanf:"metrics_token"`
	MetricsFlush   time.Duration `koanf:"metrics_flush" validate:"gt=0"`
	DynamoTable    string        `koanf:"dynamo_table" validate:"required_if=Backend dynamodb"`
	DynamoRegion   string        `koanf:"dynamo_region"`
	DynamoEndpoint string        `koanf:"dynamo_endpoint" validate:"omitempty,url"`
}

// DefaultAppConfig holds the built-in defaults, the lowest configuration layer.
var DefaultAppConfig = Config{
	Addr:           ":8080",
	DataDir:        "./data",
	Backend:        BackendSQLite,
	KeyDerivation:  KeyDerivationPad,
	MaxBytes:       1 << 20, // 1 MiB
	RequestTimeout: 10 * time.Second,
	LogLevel:       "info",
	LogFormat:      "text",
	MetricsFlush:   5 * time.Second,
	DynamoTable:    "documents",
	DynamoRegion:   "us-east-1",
}

// SQLiteDSN returns the DSN of the SQLite database inside DataDir. It holds
// the documents table for the sqlite backend and the metrics tables for
// every backend.
func (c *Config) SQLiteDSN() string {
	dir := strings.TrimSuffix(filepath.ToSlash(c.DataDir), "/")
	return "file:" + dir + "/docvault.db" + "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_synchronous=FULL"
}

// Layer loaders are package variables so tests can inject failures.
var (
	defaultLoader = func(k *koanf.Koanf) error {
		return k.Load(structs.Provider(DefaultAppConfig, "koanf"), nil)
	}
	envLoader = func(k *koanf.Koanf) error {
		return k.Load(env.Provider(".", env.Opt{
			Prefix: EnvPrefix,
			TransformFunc: func(key, value string) (string, any) {
				return strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), value
			},
		}), nil)
	}
	registerValidators = func(v *validator.Validate) error {
		if err := v.RegisterValidation("ip_port", validIPPort); err != nil {
			return err
		}
		return v.RegisterValidation("safe_path", validSafePath)
	}
)

// Load builds a Config from defaults and DOCVAULT_* environment variables.
func Load() (*Config, error) {
	return LoadWithFlags(nil)
}

// LoadWithFlags is Load with one more layer on top: every flag in fs that
// was explicitly set. Flag names map to keys by replacing '-' with '_'
// (--data-dir -> data_dir). Flags unknown to Config are ignored.
func LoadWithFlags(fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")
	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	if fs != nil {
		if err := applyFlags(k, fs); err != nil {
			return nil, fmt.Errorf("load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				StringToSize(),
			),
			Result:           &cfg,
			WeaklyTypedInput: true,
		},
	}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidators(v); err != nil {
		return nil, fmt.Errorf("register validators: %w", err)
	}
	if err := v.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func applyFlags(k *koanf.Koanf, fs *pflag.FlagSet) error {
	known := make(map[string]bool)
	for _, key := range k.Keys() {
		known[key] = true
	}
	var err error
	fs.Visit(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if !known[key] || err != nil {
			return
		}
		err = k.Set(key, f.Value.String())
	})
	return err
}

// validIPPort accepts "[ip]:port" or ":port" with a numeric port in 1..65535.
// Hostnames are rejected so the bind address is unambiguous.
func validIPPort(fl validator.FieldLevel) bool {
	host, port, err := net.SplitHostPort(fl.Field().String())
	if err != nil {
		return false
	}
	if host != "" && net.ParseIP(host) == nil {
		return false
	}
	if port == "" || strings.TrimLeft(port, "0123456789") != "" {
		return false
	}
	n, err := strconv.Atoi(port)
	return err == nil && n >= 1 && n <= 65535
}

// validSafePath rejects the filesystem root, the working directory itself,
// and any path containing a ".." element.
func validSafePath(fl validator.FieldLevel) bool {
	raw := fl.Field().String()
	if raw == "" {
		return false
	}
	for _, part := range strings.FieldsFunc(filepath.ToSlash(raw), func(r rune) bool { return r == '/' }) {
		if part == ".." {
			return false
		}
	}
	switch filepath.Clean(raw) {
	case ".", string(filepath.Separator):
		return false
	}
	return true
}
