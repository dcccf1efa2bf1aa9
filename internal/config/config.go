package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vango-dev/weft/internal/errors"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigFileName is the name of the JSON configuration file.
	ConfigFileName = "weft.json"

	// YAMLConfigFileName is the name of the YAML configuration file.
	YAMLConfigFileName = "weft.yaml"

	// DefaultTemplatesDir is the default templates directory.
	DefaultTemplatesDir = "templates"

	// DefaultTemplateExt is the default template file extension.
	DefaultTemplateExt = ".xml"

	// DefaultEntry is the default entry template name.
	DefaultEntry = "app"

	// DefaultFrameInterval is the default scheduler tick interval.
	DefaultFrameInterval = "16ms"

	// DefaultDevtoolsAddr is the default devtools listen address.
	DefaultDevtoolsAddr = "localhost:7070"

	// DefaultLogLevel is the default log level.
	DefaultLogLevel = "info"

	// DefaultMetricsNamespace is the default Prometheus namespace.
	DefaultMetricsNamespace = "weft"
)

// Config represents the complete weft configuration.
type Config struct {
	// Name is the project name.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	Templates TemplatesConfig `json:"templates,omitempty" yaml:"templates,omitempty"`

	// Data is the path of the JSON or YAML file the entry template is
	// rendered with.
	Data string `json:"data,omitempty" yaml:"data,omitempty"`

	Scheduler SchedulerConfig `json:"scheduler,omitempty" yaml:"scheduler,omitempty"`
	Devtools  DevtoolsConfig  `json:"devtools,omitempty" yaml:"devtools,omitempty"`
	Log       LogConfig       `json:"log,omitempty" yaml:"log,omitempty"`
	Metrics   MetricsConfig   `json:"metrics,omitempty" yaml:"metrics,omitempty"`

	// configPath stores the path where the config was loaded from.
	configPath string

	// baseDir resolves relative paths when there is no config file.
	baseDir string
}

// TemplatesConfig locates the template sources.
type TemplatesConfig struct {
	// Dir is the directory scanned for template files.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`

	// Ext is the template file extension.
	Ext string `json:"ext,omitempty" yaml:"ext,omitempty"`

	// Entry is the name of the template mounted by render and serve.
	Entry string `json:"entry,omitempty" yaml:"entry,omitempty"`
}

// SchedulerConfig contains scheduler settings.
type SchedulerConfig struct {
	// FrameInterval is the tick interval (e.g. "16ms").
	FrameInterval string `json:"frameInterval,omitempty" yaml:"frameInterval,omitempty"`
}

// DevtoolsConfig contains devtools server settings.
type DevtoolsConfig struct {
	// Addr is the listen address.
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `json:"level,omitempty" yaml:"level,omitempty"`

	// Format is "text" or "json".
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// MetricsConfig contains Prometheus settings.
type MetricsConfig struct {
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
}

// New creates a new Config with default values.
func New() *Config {
	return &Config{
		Templates: TemplatesConfig{
			Dir:   DefaultTemplatesDir,
			Ext:   DefaultTemplateExt,
			Entry: DefaultEntry,
		},
		Scheduler: SchedulerConfig{
			FrameInterval: DefaultFrameInterval,
		},
		Devtools: DevtoolsConfig{
			Addr: DefaultDevtoolsAddr,
		},
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: "text",
		},
		Metrics: MetricsConfig{
			Namespace: DefaultMetricsNamespace,
		},
	}
}

// Default returns a Config with default values whose relative paths
// resolve against dir.
func Default(dir string) *Config {
	c := New()
	c.baseDir = dir
	return c
}

// Load reads configuration from dir, preferring weft.json over weft.yaml.
func Load(dir string) (*Config, error) {
	for _, name := range []string{ConfigFileName, YAMLConfigFileName, "weft.yml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}
	return nil, errors.New("W402").
		WithDetail("No weft.json or weft.yaml found in " + dir)
}

// LoadFile reads configuration from path. The format follows the file
// extension.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("W402").
				WithDetail("No configuration file at " + path)
		}
		return nil, errors.New("W401").Wrap(err)
	}

	cfg := New()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, errors.New("W401").
			WithDetail("Failed to parse " + filepath.Base(path) + ": " + err.Error())
	}

	cfg.configPath = path
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveTo writes the configuration to path in the format of its extension.
func (c *Config) SaveTo(path string) error {
	var data []byte
	var err error
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return errors.New("W401").Wrap(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.New("W401").Wrap(err)
	}
	c.configPath = path
	return nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// Dir returns the directory containing the config file. Configs that were
// not loaded from disk use the directory given to Default, or ".".
func (c *Config) Dir() string {
	switch {
	case c.configPath != "":
		return filepath.Dir(c.configPath)
	case c.baseDir != "":
		return c.baseDir
	default:
		return "."
	}
}

// applyDefaults fills in default values for empty fields.
func (c *Config) applyDefaults() {
	d := New()
	if c.Templates.Dir == "" {
		c.Templates.Dir = d.Templates.Dir
	}
	if c.Templates.Ext == "" {
		c.Templates.Ext = d.Templates.Ext
	}
	if !strings.HasPrefix(c.Templates.Ext, ".") {
		c.Templates.Ext = "." + c.Templates.Ext
	}
	if c.Templates.Entry == "" {
		c.Templates.Entry = d.Templates.Entry
	}
	if c.Scheduler.FrameInterval == "" {
		c.Scheduler.FrameInterval = d.Scheduler.FrameInterval
	}
	if c.Devtools.Addr == "" {
		c.Devtools.Addr = d.Devtools.Addr
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = d.Metrics.Namespace
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	d, err := time.ParseDuration(c.Scheduler.FrameInterval)
	if err != nil || d <= 0 {
		return errors.New("W401").
			WithDetail(fmt.Sprintf("scheduler.frameInterval %q is not a positive duration", c.Scheduler.FrameInterval))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return errors.New("W401").Wrap(err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return errors.New("W401").
			WithDetail(fmt.Sprintf("log.format %q must be text or json", c.Log.Format))
	}
	return nil
}

// FrameInterval returns the parsed scheduler interval.
func (c *Config) FrameInterval() time.Duration {
	d, err := time.ParseDuration(c.Scheduler.FrameInterval)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(DefaultFrameInterval)
	}
	return d
}

// LogLevel returns the configured slog level.
func (c *Config) LogLevel() slog.Level {
	l, err := parseLevel(c.Log.Level)
	if err != nil {
		return slog.LevelInfo
	}
	return l
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", s, err)
	}
	return l, nil
}

// TemplatesPath returns the absolute path to the templates directory.
func (c *Config) TemplatesPath() string {
	return c.resolve(c.Templates.Dir)
}

// DataPath returns the absolute path to the data file, or "" if none is
// configured.
func (c *Config) DataPath() string {
	if c.Data == "" {
		return ""
	}
	return c.resolve(c.Data)
}

func (c *Config) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	abs, err := filepath.Abs(filepath.Join(c.Dir(), p))
	if err != nil {
		return filepath.Join(c.Dir(), p)
	}
	return abs
}

// Exists checks if a config file exists in the given directory.
func Exists(dir string) bool {
	for _, name := range []string{ConfigFileName, YAMLConfigFileName, "weft.yml"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}

// FindProjectRoot walks up directories to find the project root: the
// first directory holding a configuration file.
func FindProjectRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}
	for {
		if Exists(dir) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("W402").
				WithDetail("No weft.json found in " + startDir + " or any parent directory")
		}
		dir = parent
	}
}

// LoadData reads a JSON or YAML object used as render data.
func LoadData(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New("W403").Wrap(err)
	}
	data := make(map[string]any)
	if isYAML(path) {
		err = yaml.Unmarshal(raw, &data)
	} else {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		err = dec.Decode(&data)
	}
	if err != nil {
		return nil, errors.New("W403").
			WithDetail("Failed to parse " + filepath.Base(path) + ": " + err.Error())
	}
	return normalize(data).(map[string]any), nil
}

// normalize converts json.Number values to int64 or float64 so templates
// see plain numbers.
func normalize(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, e := range x {
			x[k] = normalize(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = normalize(e)
		}
		return x
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		f, _ := x.Float64()
		return f
	default:
		return v
	}
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
