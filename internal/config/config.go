// Package config loads run parameters from flags, HARROW_* environment
// variables and an optional config file, and validates them before any fetch.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/FranksOps/harrow/internal/fingerprint"
	"github.com/FranksOps/harrow/internal/review"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "HARROW"

// ErrInvalid wraps every validation failure. It is fatal: nothing is fetched.
var ErrInvalid = errors.New("config: invalid configuration")

// DefaultKeywords is the keyword list used when none is configured.
var DefaultKeywords = []string{
	"hookah", "shisha", "cigar", "pipe", "tobacco",
	"vape", "e-liquid", "disposable", "rolling papers",
	"glass", "bong", "grinder", "kratom", "CBD",
	"friendly", "selection", "price", "cheap", "expensive",
	"discount", "quality", "service", "recommend",
}

// Config is the explicit run configuration handed to the pipeline.
type Config struct {
	Name     string `mapstructure:"name" validate:"required_without=BatchFile"`
	Locality string `mapstructure:"locality" validate:"required_without=BatchFile"`
	// BatchFile lists name,locality pairs; set by the batch command.
	BatchFile string `mapstructure:"batch-file"`

	MaxPages int      `mapstructure:"max-pages" validate:"gte=1,lte=100"`
	Keywords []string `mapstructure:"keywords" validate:"min=1,dive,required"`

	Delay  time.Duration `mapstructure:"delay" validate:"gte=0"`
	Jitter float64       `mapstructure:"jitter" validate:"gte=0,lte=1"`

	Mode       string `mapstructure:"mode" validate:"oneof=http browser"`
	Headless   bool   `mapstructure:"headless"`
	ChromePath string `mapstructure:"chrome-path"`

	BaseURL            string        `mapstructure:"base-url" validate:"required,url"`
	MaxSuffix          int           `mapstructure:"max-suffix" validate:"gte=1,lte=50"`
	PageSize           int           `mapstructure:"page-size" validate:"gte=1"`
	StructuredAllPages bool          `mapstructure:"structured-all-pages"`
	ReadyTimeout       time.Duration `mapstructure:"ready-timeout" validate:"gt=0"`
	Timeout            time.Duration `mapstructure:"timeout" validate:"gt=0"`
	Retries            int           `mapstructure:"retries" validate:"gte=1,lte=10"`

	OutputDir string `mapstructure:"output-dir" validate:"required"`
	SaveAll   bool   `mapstructure:"save-all"`
	Report    string `mapstructure:"report" validate:"oneof=text json html none"`

	StoreKind string `mapstructure:"store" validate:"omitempty,oneof=json sqlite postgres"`
	StoreDSN  string `mapstructure:"store-dsn" validate:"required_with=StoreKind"`

	CacheAddr string        `mapstructure:"cache-addr" validate:"omitempty,hostname_port"`
	CacheTTL  time.Duration `mapstructure:"cache-ttl" validate:"gte=0"`

	MetricsPort int `mapstructure:"metrics-port" validate:"gte=0,lte=65535"`
	Concurrency int `mapstructure:"concurrency" validate:"gte=1,lte=32"`

	ProxyFile     string `mapstructure:"proxy-file" validate:"omitempty,file"`
	Fingerprint   string `mapstructure:"fingerprint" validate:"omitempty,oneof=chrome firefox safari go random"`
	RespectRobots bool   `mapstructure:"respect-robots"`

	LogLevel  string `mapstructure:"log-level" validate:"oneof=debug info warn error"`
	LogFormat string `mapstructure:"log-format" validate:"oneof=text json"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		MaxPages:     5,
		Keywords:     append([]string(nil), DefaultKeywords...),
		Delay:        3 * time.Second,
		Jitter:       0.3,
		Mode:         "browser",
		Headless:     true,
		BaseURL:      "https://www.yelp.com",
		MaxSuffix:    10,
		PageSize:     10,
		ReadyTimeout: 10 * time.Second,
		Timeout:      30 * time.Second,
		Retries:      3,
		OutputDir:    ".",
		SaveAll:      true,
		Report:       "text",
		CacheTTL:     24 * time.Hour,
		Concurrency:  2,
		Fingerprint:  string(fingerprint.ProfileChrome),
		LogLevel:     "info",
		LogFormat:    "text",
	}
}

// RegisterFlags adds one flag per Config field to fs, defaulting to Default().
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("config", "", "config file (yaml, toml or json)")
	fs.String("name", "", "business name")
	fs.String("locality", "", "business locality, e.g. city")
	fs.Int("max-pages", d.MaxPages, "maximum review pages per business")
	fs.StringSlice("keywords", d.Keywords, "keywords to match (case-insensitive)")
	fs.Duration("delay", d.Delay, "minimum delay between page loads")
	fs.Float64("jitter", d.Jitter, "extra random delay as a fraction of --delay")
	fs.String("mode", d.Mode, "fetch mode: http or browser")
	fs.Bool("headless", d.Headless, "run the browser without a window")
	fs.String("chrome-path", "", "Chrome executable")
	fs.String("base-url", d.BaseURL, "review site base URL")
	fs.Int("max-suffix", d.MaxSuffix, "highest numeric slug suffix tried")
	fs.Int("page-size", d.PageSize, "reviews per listing page")
	fs.Bool("structured-all-pages", false, "run the structured-data strategy on every page")
	fs.Duration("ready-timeout", d.ReadyTimeout, "wait for reviews to render")
	fs.Duration("timeout", d.Timeout, "per-request timeout")
	fs.Int("retries", d.Retries, "retries of throttled responses")
	fs.String("output-dir", d.OutputDir, "directory for CSV output")
	fs.Bool("save-all", d.SaveAll, "also write every review to <name>_reviews_all.csv")
	fs.String("report", d.Report, "run report format: text, json, html or none")
	fs.String("store", "", "review store: json, sqlite or postgres")
	fs.String("store-dsn", "", "store path or connection string")
	fs.String("cache-addr", "", "redis host:port for the target cache")
	fs.Duration("cache-ttl", d.CacheTTL, "target cache TTL")
	fs.Int("metrics-port", 0, "serve Prometheus metrics on this port (0 disables)")
	fs.Int("concurrency", d.Concurrency, "concurrent sessions in batch mode")
	fs.String("proxy-file", "", "file with one proxy URL per line")
	fs.String("fingerprint", d.Fingerprint, "TLS fingerprint: chrome, firefox, safari, go or random")
	fs.Bool("respect-robots", false, "skip URLs disallowed by robots.txt")
	fs.String("log-level", d.LogLevel, "log level: debug, info, warn or error")
	fs.String("log-format", d.LogFormat, "log format: text or json")
}

// Load reads configuration with precedence overrides > flags > environment >
// file > defaults. fs and overrides may be nil; override keys are flag names.
func Load(fs *pflag.FlagSet, overrides map[string]any) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
	}

	for k, val := range overrides {
		v.Set(k, val)
	}

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.Keywords = splitKeywords(cfg.Keywords)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("config", "")
	v.SetDefault("name", "")
	v.SetDefault("locality", "")
	v.SetDefault("batch-file", "")
	v.SetDefault("max-pages", d.MaxPages)
	v.SetDefault("keywords", d.Keywords)
	v.SetDefault("delay", d.Delay)
	v.SetDefault("jitter", d.Jitter)
	v.SetDefault("mode", d.Mode)
	v.SetDefault("headless", d.Headless)
	v.SetDefault("chrome-path", "")
	v.SetDefault("base-url", d.BaseURL)
	v.SetDefault("max-suffix", d.MaxSuffix)
	v.SetDefault("page-size", d.PageSize)
	v.SetDefault("structured-all-pages", false)
	v.SetDefault("ready-timeout", d.ReadyTimeout)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("retries", d.Retries)
	v.SetDefault("output-dir", d.OutputDir)
	v.SetDefault("save-all", d.SaveAll)
	v.SetDefault("report", d.Report)
	v.SetDefault("store", "")
	v.SetDefault("store-dsn", "")
	v.SetDefault("cache-addr", "")
	v.SetDefault("cache-ttl", d.CacheTTL)
	v.SetDefault("metrics-port", 0)
	v.SetDefault("concurrency", d.Concurrency)
	v.SetDefault("proxy-file", "")
	v.SetDefault("fingerprint", d.Fingerprint)
	v.SetDefault("respect-robots", false)
	v.SetDefault("log-level", d.LogLevel)
	v.SetDefault("log-format", d.LogFormat)
}

// splitKeywords accepts both list values and a single comma separated string,
// trimming blanks.
func splitKeywords(in []string) []string {
	var out []string
	for _, s := range in {
		for _, k := range strings.Split(s, ",") {
			if k = strings.TrimSpace(k); k != "" {
				out = append(out, k)
			}
		}
	}
	return out
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// name errors after the flag, not the Go field
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		tag := fld.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			return fld.Name
		}
		return tag
	})
	return v
}

// Validate checks c and returns an error wrapping ErrInvalid listing every
// failing field.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_without", "required_with":
		return fe.Field() + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}

// Query is the business named by c.
func (c Config) Query() review.BusinessQuery {
	return review.BusinessQuery{Name: c.Name, Locality: c.Locality}
}

// NewLogger builds the slog logger described by LogLevel and LogFormat.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
