package templates

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// Parse decodes a template document. JSON documents are accepted as YAML.
func Parse(data []byte) (Template, error) {
	var t Template
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Template{}, fmt.Errorf("parse template: %w", err)
	}
	t.Hog = strings.TrimSpace(t.Hog)
	return t, nil
}

// LoadFile reads and validates one template file.
func LoadFile(path string) (Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Template{}, fmt.Errorf("read template %s: %w", path, err)
	}
	t, err := Parse(data)
	if err != nil {
		return Template{}, fmt.Errorf("%s: %w", path, err)
	}
	if err := Validate(t); err != nil {
		return Template{}, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// LoadDir loads every template file in dir, ordered by file name. Template ids
// must be unique across the directory.
func LoadDir(dir string) ([]Template, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read template directory %s: %w", dir, err)
	}

	var out []Template
	seen := map[string]string{}
	for _, e := range entries {
		if e.IsDir() || !isTemplateFile(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		t, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[t.ID]; ok {
			return nil, fmt.Errorf("template id %s defined in both %s and %s", t.ID, prev, path)
		}
		seen[t.ID] = path
		out = append(out, t)
	}
	return out, nil
}

func isTemplateFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// Builtins returns the templates compiled into the binary.
func Builtins() ([]Template, error) {
	names, err := fs.Glob(builtinFS, "builtin/*.yaml")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	out := make([]Template, 0, len(names))
	for _, name := range names {
		data, err := builtinFS.ReadFile(name)
		if err != nil {
			return nil, err
		}
		t, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		t.Builtin = true
		out = append(out, t)
	}
	return out, nil
}

// LoadBuiltins registers the builtin templates in r.
func LoadBuiltins(r *Registry) error {
	ts, err := Builtins()
	if err != nil {
		return err
	}
	for _, t := range ts {
		if err := r.Register(t); err != nil {
			return fmt.Errorf("builtin template %s: %w", t.ID, err)
		}
	}
	return nil
}
