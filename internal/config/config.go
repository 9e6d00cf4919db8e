package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment key: http_addr is read from
// QRPASS_HTTP_ADDR.
const EnvPrefix = "qrpass"

type Config struct {
	HTTPAddr      string `mapstructure:"http_addr"`
	GRPCAddr      string `mapstructure:"grpc_addr"`
	Env           string `mapstructure:"env"` // "dev" | "prod"
	DBPath        string `mapstructure:"db_path"`
	ArtifactDir   string `mapstructure:"artifact_dir"`
	PublicBaseURL string `mapstructure:"public_base_url"`
	LogLevel      string `mapstructure:"log_level"`

	// Credentials
	CredentialTTLSeconds int  `mapstructure:"credential_ttl_seconds"`
	IssueMaxAttempts     int  `mapstructure:"issue_max_attempts"`
	SingleUse            bool `mapstructure:"single_use"`

	// Artifacts
	GeneratedArtifactTTLSeconds int   `mapstructure:"generated_artifact_ttl_seconds"`
	SweepIntervalSeconds        int   `mapstructure:"sweep_interval_seconds"` // <0 disables
	SweepMaxAgeSeconds          int   `mapstructure:"sweep_max_age_seconds"`
	MaxCaptureBytes             int64 `mapstructure:"max_capture_bytes"`
	MaxCapturePixels            int64 `mapstructure:"max_capture_pixels"`
	CaptureAsync                bool  `mapstructure:"capture_async"`
	DecodeWorkers               int   `mapstructure:"decode_workers"`

	// Door controller
	ActuatorAddr      string `mapstructure:"actuator_addr"`
	ActuatorTimeoutMS int    `mapstructure:"actuator_timeout_ms"`
	ActuatorDebug     bool   `mapstructure:"actuator_debug"`
}

// Defaults returns every known key with its default value.
func Defaults() map[string]any {
	return map[string]any{
		"http_addr":                      ":8000",
		"grpc_addr":                      ":9090",
		"env":                            "dev",
		"db_path":                        "./data/qrpass.db",
		"artifact_dir":                   "./data/artifacts",
		"public_base_url":                "",
		"log_level":                      "info",
		"credential_ttl_seconds":         60,
		"issue_max_attempts":             5,
		"single_use":                     false,
		"generated_artifact_ttl_seconds": 60,
		"sweep_interval_seconds":         300,
		"sweep_max_age_seconds":          30,
		"max_capture_bytes":              10 << 20,
		"max_capture_pixels":             16_000_000,
		"capture_async":                  false,
		"decode_workers":                 4,
		"actuator_addr":                  "10.10.22.6:9091",
		"actuator_timeout_ms":            3000,
		"actuator_debug":                 false,
	}
}

// Load layers defaults, then the config file, then QRPASS_* environment
// variables, then any changed flag in flags whose name matches a key with
// dashes for underscores.  An empty path searches for qrpass.yaml in the
// working directory and tolerates its absence.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	var c Config
	v := viper.New()

	defaults := Defaults()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("qrpass")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return c, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.AllowEmptyEnv(true)

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			key := strings.ReplaceAll(f.Name, "-", "_")
			if _, ok := defaults[key]; ok && bindErr == nil {
				bindErr = v.BindPFlag(key, f)
			}
		})
		if bindErr != nil {
			return c, bindErr
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("parse config: %w", err)
	}

	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	if c.Env != "prod" {
		// fail-soft: treat unknown as dev
		c.Env = "dev"
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.CredentialTTLSeconds <= 0 {
		errs = append(errs, errors.New("credential_ttl_seconds must be positive"))
	}
	if c.GeneratedArtifactTTLSeconds <= 0 {
		errs = append(errs, errors.New("generated_artifact_ttl_seconds must be positive"))
	}
	if c.SweepMaxAgeSeconds <= 0 {
		errs = append(errs, errors.New("sweep_max_age_seconds must be positive"))
	}
	if c.ActuatorTimeoutMS <= 0 {
		errs = append(errs, errors.New("actuator_timeout_ms must be positive"))
	}
	if c.MaxCaptureBytes <= 0 {
		errs = append(errs, errors.New("max_capture_bytes must be positive"))
	}
	if c.MaxCapturePixels <= 0 {
		errs = append(errs, errors.New("max_capture_pixels must be positive"))
	}
	if c.ArtifactDir == "" {
		errs = append(errs, errors.New("artifact_dir is required"))
	}
	if !c.ActuatorDebug && c.ActuatorAddr == "" {
		errs = append(errs, errors.New("actuator_addr is required unless actuator_debug is set"))
	}
	return errors.Join(errs...)
}

func (c Config) CredentialTTL() time.Duration {
	return time.Duration(c.CredentialTTLSeconds) * time.Second
}

func (c Config) GeneratedArtifactTTL() time.Duration {
	return time.Duration(c.GeneratedArtifactTTLSeconds) * time.Second
}

// SweepInterval is negative when sweeping is disabled.
func (c Config) SweepInterval() time.Duration {
	if c.SweepIntervalSeconds < 0 {
		return -1
	}
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

func (c Config) SweepMaxAge() time.Duration {
	return time.Duration(c.SweepMaxAgeSeconds) * time.Second
}

func (c Config) ActuatorTimeout() time.Duration {
	return time.Duration(c.ActuatorTimeoutMS) * time.Millisecond
}
