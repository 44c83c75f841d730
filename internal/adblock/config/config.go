package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/haukened/rr-adblock/internal/adblock/domain"
)

const envPrefix = "ADBLOCK_"

// AppConfig holds configuration values parsed from environment variables.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	// LogLevel controls log verbosity: "debug", "info", "warn", or "error".
	LogLevel string `koanf:"log_level" validate:"required,oneof=debug info warn error"`

	// CacheDir holds the list cache files and the engine snapshot.
	CacheDir string `koanf:"cache_dir" validate:"required"`

	// Lists are "name|url" pairs. In the environment they are separated by
	// semicolons, since names may contain spaces.
	Lists []string `koanf:"lists" validate:"required,min=1,dive,filter_list"`

	// AllowList holds domains whose requests are never blocked.
	AllowList []string `koanf:"allow_list" validate:"dive,hostname_rfc1123"`

	// InternalSchemes are URL schemes that are never blocked, without the
	// trailing colon.
	InternalSchemes []string `koanf:"internal_schemes" validate:"dive,required"`

	ListTTL          time.Duration `koanf:"list_ttl" validate:"gte=1m,lte=168h"`
	FetchTimeout     time.Duration `koanf:"fetch_timeout" validate:"gte=10s,lte=30s"`
	MaxListSize      string        `koanf:"max_list_size" validate:"required,byte_size"`
	FetchConcurrency int           `koanf:"fetch_concurrency" validate:"gte=1,lte=32"`

	ResultCacheTTL       time.Duration `koanf:"result_cache_ttl" validate:"gte=1m,lte=5m"`
	ResultCacheHighWater int           `koanf:"result_cache_high_water" validate:"gte=1"`
	ResultCacheFloor     int           `koanf:"result_cache_floor" validate:"gte=1,ltefield=ResultCacheHighWater"`

	// RefreshInterval triggers a periodic rebuild; zero disables it.
	RefreshInterval time.Duration `koanf:"refresh_interval" validate:"eq=0|gte=1m"`

	SnapshotTTL time.Duration `koanf:"snapshot_ttl" validate:"gte=1m"`

	// ScriptletDir optionally holds extra scriptlet templates (*.js).
	ScriptletDir string `koanf:"scriptlet_dir"`

	// Listen is the control API address. Only loopback addresses are allowed.
	Listen string `koanf:"listen" validate:"required,loopback_addr"`
}

// DEFAULT_APP_CONFIG defines the default application configuration.
var DEFAULT_APP_CONFIG = AppConfig{
	Env:      "prod",
	LogLevel: "info",
	CacheDir: "/var/cache/rr-adblock",
	Lists: []string{
		"uBlock filters|https://raw.githubusercontent.com/uBlockOrigin/uAssets/master/filters/filters.txt",
		"uBlock filters - Privacy|https://raw.githubusercontent.com/uBlockOrigin/uAssets/master/filters/privacy.txt",
		"uBlock filters - Badware risks|https://raw.githubusercontent.com/uBlockOrigin/uAssets/master/filters/badware.txt",
		"uBlock filters - Resource abuse|https://raw.githubusercontent.com/uBlockOrigin/uAssets/master/filters/resource-abuse.txt",
		"uBlock filters - Unbreak|https://raw.githubusercontent.com/uBlockOrigin/uAssets/master/filters/unbreak.txt",
		"EasyList|https://easylist.to/easylist/easylist.txt",
		"EasyPrivacy|https://easylist.to/easylist/easyprivacy.txt",
		"AdGuard URL Tracking Protection|https://filters.adtidy.org/extension/chromium/filters/17.txt",
		"Peter Lowes Ad and tracking server list|https://pgl.yoyo.org/adservers/serverlist.php?hostformat=hosts&showintro=0&mimetype=plaintext",
	},
	AllowList:            []string{},
	InternalSchemes:      []string{"data", "blob", "about", "tauri", "ipc"},
	ListTTL:              24 * time.Hour,
	FetchTimeout:         20 * time.Second,
	MaxListSize:          "50MB",
	FetchConcurrency:     4,
	ResultCacheTTL:       2 * time.Minute,
	ResultCacheHighWater: 5000,
	ResultCacheFloor:     3000,
	RefreshInterval:      24 * time.Hour,
	SnapshotTTL:          24 * time.Hour,
	Listen:               "127.0.0.1:8781",
}

// Descriptors parses Lists. Load has already validated every entry.
func (c *AppConfig) Descriptors() ([]domain.FilterListDescriptor, error) {
	out := make([]domain.FilterListDescriptor, 0, len(c.Lists))
	for _, s := range c.Lists {
		d, err := domain.ParseFilterListDescriptor(s)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// ListSizeLimit returns MaxListSize as a byte count.
func (c *AppConfig) ListSizeLimit() datasize.ByteSize {
	var v datasize.ByteSize
	if err := v.UnmarshalText([]byte(c.MaxListSize)); err != nil {
		return 0
	}
	return v
}

func validFilterList(fl validator.FieldLevel) bool {
	_, err := domain.ParseFilterListDescriptor(fl.Field().String())
	return err == nil
}

func validByteSize(fl validator.FieldLevel) bool {
	var v datasize.ByteSize
	return v.UnmarshalText([]byte(fl.Field().String())) == nil && v > 0
}

// validLoopbackAddr accepts host:port where host is "localhost" or a loopback
// IP and port is set.
func validLoopbackAddr(fl validator.FieldLevel) bool {
	host, port, err := net.SplitHostPort(fl.Field().String())
	if err != nil || port == "" {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// envLoader loads environment variables with the prefix "ADBLOCK_" and can be
// mocked in tests.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
			value = strings.TrimSpace(value)

			if value == "" {
				return key, value
			}

			if key == "lists" {
				return key, splitTrim(value, func(r rune) bool { return r == ';' || r == '\n' })
			}

			if strings.Contains(value, " ") || strings.Contains(value, ",") {
				return key, splitTrim(value, func(r rune) bool { return r == ' ' || r == ',' })
			}

			return key, value
		},
	}), nil)
}

func splitTrim(s string, sep func(rune) bool) []string {
	parts := strings.FieldsFunc(s, sep)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

var registerValidation = func(v *validator.Validate) error {
	if err := v.RegisterValidation("filter_list", validFilterList); err != nil {
		return err
	}
	if err := v.RegisterValidation("byte_size", validByteSize); err != nil {
		return err
	}
	return v.RegisterValidation("loopback_addr", validLoopbackAddr)
}

// Load parses environment variables and returns an AppConfig instance.
// It applies default values and runs validation automatically.
func Load() (*AppConfig, error) {
	k := koanf.New(".")

	err := defaultLoader(k)
	if err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}

	err = envLoader(k)
	if err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	err = registerValidation(validate)
	if err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}

	err = validate.Struct(&cfg)
	if err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &cfg, nil
}
