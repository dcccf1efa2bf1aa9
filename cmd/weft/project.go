package main

import (
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vango-dev/weft/internal/config"
	"github.com/vango-dev/weft/internal/errors"
	"github.com/vango-dev/weft/pkg/component"
	"github.com/vango-dev/weft/pkg/template"
)

// project is a loaded configuration plus its registered templates.
type project struct {
	cfg    *config.Config
	reg    *template.Registry
	logger *slog.Logger

	// files maps template names to the file they were read from; lines
	// map only for single-template files.
	files  map[string]string
	single map[string]bool
}

func loadConfig(g *globalFlags) (*config.Config, error) {
	switch {
	case g.configPath != "":
		return config.LoadFile(g.configPath)
	case config.Exists(g.dir):
		return config.Load(g.dir)
	default:
		return config.Default(g.dir), nil
	}
}

func newLogger(cfg *config.Config, g *globalFlags, w io.Writer) *slog.Logger {
	level := cfg.LogLevel()
	if g.logLevel != "" {
		if err := level.UnmarshalText([]byte(g.logLevel)); err != nil {
			level = cfg.LogLevel()
		}
	}
	opts := &slog.HandlerOptions{Level: level}
	format := cfg.Log.Format
	if g.logFormat != "" {
		format = g.logFormat
	}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// loadProject reads the configuration and registers every template file.
// Files that fail to register are returned as load errors; the project is
// still usable for the others. With metrics set, the registry's parse
// counter is registered with the default Prometheus registry.
func loadProject(g *globalFlags, stderr io.Writer, metrics bool) (*project, []error, error) {
	cfg, err := loadConfig(g)
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger(cfg, g, stderr)
	opts := []template.Option{template.WithLogger(logger)}
	if metrics {
		opts = append(opts, template.WithMetrics(prometheus.DefaultRegisterer, cfg.Metrics.Namespace))
	}
	p := &project{
		cfg:    cfg,
		reg:    template.NewRegistry(opts...),
		logger: logger,
		files:  make(map[string]string),
		single: make(map[string]bool),
	}
	loadErrs, err := p.loadTemplates()
	if err != nil {
		return nil, nil, err
	}
	return p, loadErrs, nil
}

func (p *project) loadTemplates() ([]error, error) {
	root := p.cfg.TemplatesPath()
	ext := p.cfg.Templates.Ext
	var loadErrs []error
	err := filepath.WalkDir(root, func(file string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(file) != ext {
			return nil
		}
		src, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, file)
		if err != nil {
			return err
		}
		name := strings.TrimSuffix(filepath.ToSlash(rel), ext)

		if strings.HasPrefix(strings.TrimSpace(string(src)), "<templates") {
			before := p.reg.Names()
			if err := p.reg.AddTemplates(string(src)); err != nil {
				loadErrs = append(loadErrs, p.locate(err, file))
				return nil
			}
			for _, n := range p.reg.Names() {
				if !slices.Contains(before, n) {
					p.files[n] = file
				}
			}
			return nil
		}
		if err := p.reg.Add(name, string(src)); err != nil {
			loadErrs = append(loadErrs, errors.New("W101").Wrap(err).WithDetail("Template names must be unique across files."))
			return nil
		}
		p.files[name] = file
		p.single[name] = true
		return nil
	})
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, errors.New("W402").
				WithDetail("Templates directory " + root + " does not exist").
				WithSuggestion("Create it or set templates.dir in weft.json")
		}
		return nil, err
	}
	p.logger.Debug("templates loaded", "dir", root, "count", len(p.files))
	return loadErrs, nil
}

// components returns a definition for every template whose base name is
// capitalized, so templates can place each other as components.
func (p *project) components() []*component.Definition {
	var defs []*component.Definition
	for _, name := range p.reg.Names() {
		base := path.Base(name)
		if r, _ := utf8.DecodeRuneInString(base); unicode.IsUpper(r) {
			defs = append(defs, &component.Definition{Name: base, Template: name})
		}
	}
	return defs
}

// describe converts err into a WeftError pointing at the template file
// when one is known.
func (p *project) describe(err error) *errors.WeftError {
	var se *template.SyntaxError
	if stderrors.As(err, &se) {
		if file, ok := p.files[se.Template]; ok {
			return p.locate(err, file)
		}
	}
	return errors.FromError(err, "W501")
}

func (p *project) locate(err error, file string) *errors.WeftError {
	we := errors.FromError(err, "W101")
	var se *template.SyntaxError
	if stderrors.As(err, &se) && se.Line > 0 && (se.Template == "" || p.single[se.Template]) {
		return we.WithLocation(file, se.Line, 0)
	}
	we.Location = &errors.Location{File: file}
	return we
}

func (p *project) entry(args []string) (string, error) {
	name := p.cfg.Templates.Entry
	if len(args) > 0 {
		name = args[0]
	}
	if _, ok := p.reg.Source(name); !ok {
		return "", errors.New("W102").
			Wrap(fmt.Errorf("no template %q in %s", name, p.cfg.TemplatesPath()))
	}
	return name, nil
}

func (p *project) data(override string) (map[string]any, error) {
	file := override
	if file == "" {
		file = p.cfg.DataPath()
	}
	if file == "" {
		return map[string]any{}, nil
	}
	return config.LoadData(file)
}
