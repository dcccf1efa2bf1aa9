package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestNew(t *testing.T) {
	cfg := New()

	if cfg.Templates.Dir != DefaultTemplatesDir {
		t.Errorf("Templates.Dir = %q, want %q", cfg.Templates.Dir, DefaultTemplatesDir)
	}
	if cfg.Templates.Entry != DefaultEntry {
		t.Errorf("Templates.Entry = %q, want %q", cfg.Templates.Entry, DefaultEntry)
	}
	if cfg.FrameInterval() != 16*time.Millisecond {
		t.Errorf("FrameInterval() = %v", cfg.FrameInterval())
	}
	if cfg.Devtools.Addr != DefaultDevtoolsAddr {
		t.Errorf("Devtools.Addr = %q", cfg.Devtools.Addr)
	}
	if cfg.LogLevel() != slog.LevelInfo {
		t.Errorf("LogLevel() = %v", cfg.LogLevel())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
}

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()

	if _, err := Load(tmpDir); err == nil {
		t.Error("expected error for missing config")
	}

	configJSON := `{
  "name": "demo",
  "templates": {"dir": "views", "ext": "html", "entry": "home"},
  "scheduler": {"frameInterval": "5ms"},
  "log": {"level": "debug"}
}
`
	if err := os.WriteFile(filepath.Join(tmpDir, ConfigFileName), []byte(configJSON), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Name != "demo" || cfg.Templates.Entry != "home" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Templates.Ext != ".html" {
		t.Errorf("Templates.Ext = %q, want .html", cfg.Templates.Ext)
	}
	if cfg.FrameInterval() != 5*time.Millisecond {
		t.Errorf("FrameInterval() = %v", cfg.FrameInterval())
	}
	if cfg.LogLevel() != slog.LevelDebug {
		t.Errorf("LogLevel() = %v", cfg.LogLevel())
	}
	if cfg.Devtools.Addr != DefaultDevtoolsAddr {
		t.Errorf("default not applied: Devtools.Addr = %q", cfg.Devtools.Addr)
	}
	if want := filepath.Join(tmpDir, "views"); cfg.TemplatesPath() != want {
		t.Errorf("TemplatesPath() = %q, want %q", cfg.TemplatesPath(), want)
	}
}

func TestLoadYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configYAML := `templates:
  entry: dashboard
data: data.yaml
metrics:
  namespace: demo
`
	if err := os.WriteFile(filepath.Join(tmpDir, YAMLConfigFileName), []byte(configYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Templates.Entry != "dashboard" || cfg.Metrics.Namespace != "demo" {
		t.Errorf("cfg = %+v", cfg)
	}
	if want := filepath.Join(tmpDir, "data.yaml"); cfg.DataPath() != want {
		t.Errorf("DataPath() = %q, want %q", cfg.DataPath(), want)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"malformed json", ConfigFileName, `{"templates": `},
		{"bad interval", ConfigFileName, `{"scheduler": {"frameInterval": "soon"}}`},
		{"negative interval", ConfigFileName, `{"scheduler": {"frameInterval": "-1s"}}`},
		{"bad level", YAMLConfigFileName, "log:\n  level: loud\n"},
		{"bad format", YAMLConfigFileName, "log:\n  format: xml\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadFile(path); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	for _, name := range []string{ConfigFileName, YAMLConfigFileName} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			cfg := New()
			cfg.Name = "saved"
			cfg.Templates.Entry = "main"
			if err := cfg.SaveTo(path); err != nil {
				t.Fatal(err)
			}
			loaded, err := LoadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(cfg, loaded, cmp.AllowUnexported(Config{})); diff != "" {
				t.Errorf("round trip (-saved +loaded):\n%s", diff)
			}
		})
	}
}

func TestFindProjectRoot(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, ConfigFileName), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := FindProjectRoot(nested)
	if err != nil {
		t.Fatal(err)
	}
	want, _ := filepath.Abs(root)
	if got != want {
		t.Errorf("FindProjectRoot = %q, want %q", got, want)
	}
}

func TestLoadData(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "data.json")
	yamlPath := filepath.Join(dir, "data.yaml")
	if err := os.WriteFile(jsonPath, []byte(`{"count": 3, "ratio": 0.5, "tags": ["a", 2]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(yamlPath, []byte("count: 3\nuser:\n  name: Ada\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	data, err := LoadData(jsonPath)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]any{"count": int64(3), "ratio": 0.5, "tags": []any{"a", int64(2)}}
	if diff := cmp.Diff(want, data); diff != "" {
		t.Errorf("json data (-want +got):\n%s", diff)
	}

	data, err = LoadData(yamlPath)
	if err != nil {
		t.Fatal(err)
	}
	want = map[string]any{"count": 3, "user": map[string]any{"name": "Ada"}}
	if diff := cmp.Diff(want, data); diff != "" {
		t.Errorf("yaml data (-want +got):\n%s", diff)
	}

	if _, err := LoadData(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected error for missing data file")
	}
}

func TestDefault(t *testing.T) {
	dir := t.TempDir()
	cfg := Default(dir)
	if cfg.Path() != "" {
		t.Errorf("Path() = %q", cfg.Path())
	}
	if want := filepath.Join(dir, DefaultTemplatesDir); cfg.TemplatesPath() != want {
		t.Errorf("TemplatesPath() = %q, want %q", cfg.TemplatesPath(), want)
	}
}
