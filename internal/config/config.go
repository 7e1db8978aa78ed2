package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AlexKimmel/ScanGate/internal/ratelimit"
)

type Observability struct {
	LogLevel       string `yaml:"log_level"` // "debug","info","warn","error"
	Pretty         bool   `yaml:"pretty"`
	MetricsAddr    string `yaml:"metrics_addr"`    // e.g. ":9090", empty disables
	PrometheusPath string `yaml:"prometheus_path"` // e.g. "/metrics"
}

type Rate struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type Override struct {
	Key   string  `yaml:"key" validate:"required"`
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type Limits struct {
	Global    Rate       `yaml:"global"`
	Default   Rate       `yaml:"default"`
	Overrides []Override `yaml:"overrides" validate:"dive"`
}

type Scan struct {
	Concurrency int      `yaml:"concurrency"`
	MaxJitterMS int      `yaml:"max_jitter_ms"`
	TimeoutMS   int      `yaml:"timeout_ms"`
	UserAgent   string   `yaml:"user_agent"`
	Modules     []string `yaml:"modules"`
}

type Root struct {
	Observability Observability `yaml:"observability"`
	Limits        Limits        `yaml:"limits"`
	Scan          Scan          `yaml:"scan"`
}

// Quotas returns the per-key overrides. Later entries for the same key win.
func (l Limits) Quotas() map[string]ratelimit.Quota {
	out := make(map[string]ratelimit.Quota, len(l.Overrides))
	for _, o := range l.Overrides {
		key := strings.TrimSpace(o.Key)
		if key == "" {
			continue
		}
		out[key] = ratelimit.QuotaFromRPSBurst(o.RPS, o.Burst)
	}
	return out
}

// JitterCapMS bounds scan.max_jitter_ms. Larger values would overflow a
// time.Duration once converted.
const JitterCapMS = int(time.Hour / time.Millisecond)

func (s Scan) MaxJitter() time.Duration {
	ms := min(max(s.MaxJitterMS, 0), JitterCapMS)
	return time.Duration(ms) * time.Millisecond
}

func (s Scan) Timeout() time.Duration {
	if s.TimeoutMS == 0 {
		return 5 * time.Second
	}
	return time.Duration(s.TimeoutMS) * time.Millisecond
}

// ModuleSpec is the module selection in the form the module registry takes.
func (s Scan) ModuleSpec() string {
	if len(s.Modules) == 0 {
		return "all"
	}
	return strings.Join(s.Modules, ",")
}

// Default returns the configuration used when no file is given.
func Default() *Root {
	var cfg Root
	cfg.applyDefaults()
	return &cfg
}

func Load(path string) (*Root, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Root
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	for i := range cfg.Limits.Overrides {
		cfg.Limits.Overrides[i].Key = strings.TrimSpace(cfg.Limits.Overrides[i].Key)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, describe(err))
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Root) applyDefaults() {
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	if cfg.Observability.PrometheusPath == "" {
		cfg.Observability.PrometheusPath = "/metrics"
	}
	if cfg.Limits.Global.RPS <= 0 {
		cfg.Limits.Global.RPS = ratelimit.DefaultRPS
	}
	if cfg.Limits.Global.Burst <= 0 {
		cfg.Limits.Global.Burst = ratelimit.DefaultBurst
	}
	if cfg.Limits.Default.RPS <= 0 {
		cfg.Limits.Default.RPS = ratelimit.DefaultRPS
	}
	if cfg.Limits.Default.Burst <= 0 {
		cfg.Limits.Default.Burst = ratelimit.DefaultBurst
	}
	for i := range cfg.Limits.Overrides {
		if cfg.Limits.Overrides[i].RPS <= 0 {
			cfg.Limits.Overrides[i].RPS = cfg.Limits.Default.RPS
		}
		if cfg.Limits.Overrides[i].Burst <= 0 {
			cfg.Limits.Overrides[i].Burst = cfg.Limits.Default.Burst
		}
	}
	if cfg.Scan.Concurrency <= 0 {
		cfg.Scan.Concurrency = 8
	}
	if cfg.Scan.MaxJitterMS < 0 {
		cfg.Scan.MaxJitterMS = 0
	}
	if cfg.Scan.MaxJitterMS > JitterCapMS {
		cfg.Scan.MaxJitterMS = JitterCapMS
	}
	if cfg.Scan.UserAgent == "" {
		cfg.Scan.UserAgent = "scangate/0.1"
	}
}

var validate = newValidator()

// newValidator reports fields by their YAML names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// describe turns validation failures into "limits.overrides[0].key: required".
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		_, field, _ := strings.Cut(fe.Namespace(), ".")
		msgs = append(msgs, field+": "+fe.Tag())
	}
	return errors.New(strings.Join(msgs, "; "))
}
