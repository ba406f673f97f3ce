// Package config loads the ptsync configuration file.
//
// A file is decoded from YAML over Default and then checked against the
// embedded CUE definition #Config. Validation reports every violation, each
// with the dotted path of the offending field.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// Config is the full configuration.
type Config struct {
	Database string        `yaml:"database" json:"database"`
	RPC      RPCConfig     `yaml:"rpc" json:"rpc"`
	Stream   StreamConfig  `yaml:"stream" json:"stream"`
	Updates  UpdatesConfig `yaml:"updates" json:"updates"`
	Log      LogConfig     `yaml:"log" json:"log"`
	Metrics  MetricsConfig `yaml:"metrics" json:"metrics"`
}

type RPCConfig struct {
	Endpoint   string        `yaml:"endpoint" json:"endpoint"`
	Token      string        `yaml:"token" json:"token,omitempty"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
	MaxRetries int           `yaml:"max_retries" json:"max_retries"`
}

type StreamConfig struct {
	URL string `yaml:"url" json:"url"`
}

// UpdatesConfig tunes the update engine.
type UpdatesConfig struct {
	CatchUp           bool          `yaml:"catch_up" json:"catch_up"`
	DisableNoDispatch bool          `yaml:"disable_no_dispatch" json:"disable_no_dispatch"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	PeerCacheSize     int           `yaml:"peer_cache_size" json:"peer_cache_size"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// MetricsConfig controls the Prometheus endpoint. An empty Listen disables
// it.
type MetricsConfig struct {
	Listen string `yaml:"listen" json:"listen"`
}

// Default returns the configuration used for fields a file leaves out.
func Default() Config {
	return Config{
		Database: "ptsync.db",
		RPC: RPCConfig{
			Endpoint:   "http://127.0.0.1:8080",
			Timeout:    30 * time.Second,
			MaxRetries: 3,
		},
		Updates: UpdatesConfig{
			IdleTimeout:   15 * time.Minute,
			PeerCacheSize: 4096,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// ValidationError lists every schema violation of a configuration.
type ValidationError struct {
	Violations []Violation
}

// Violation is one failed constraint.
type Violation struct {
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		if v.Path == "" {
			parts = append(parts, v.Message)
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", v.Path, v.Message))
	}
	return "invalid config: " + strings.Join(parts, "; ")
}

// Load reads path, overlays it on Default and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over Default and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cfg against #Config.
func Validate(cfg Config) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	v := ctx.Encode(cfg)
	if err := v.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	err := def.Unify(v).Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}

	verr := &ValidationError{}
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		path := e.Path()
		if len(path) > 0 && path[0] == "#Config" {
			path = path[1:]
		}
		verr.Violations = append(verr.Violations, Violation{
			Path:    strings.Join(path, "."),
			Message: fmt.Sprintf(format, args...),
		})
	}
	return verr
}
