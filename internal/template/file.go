package template

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aristath/taskflow/internal/scheduler"
)

// Decode reads one YAML template. Config fields left out keep the values
// in defaults; a zero defaults means scheduler.DefaultConfig(). Unknown
// fields are rejected.
func Decode(r io.Reader, defaults scheduler.Config) (*Template, error) {
	if defaults == (scheduler.Config{}) {
		defaults = scheduler.DefaultConfig()
	}
	t := &Template{Config: defaults, Category: CategoryCustom}

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(t); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidTemplate)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidTemplate, err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// LoadFile reads a template from a YAML file.
func LoadFile(path string, defaults scheduler.Config) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template: %w", err)
	}
	t, err := Decode(bytes.NewReader(data), defaults)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// LoadDir reads every *.yaml and *.yml file in dir, sorted by file name.
// A missing directory yields no templates.
func LoadDir(dir string, defaults scheduler.Config) ([]*Template, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read template dir: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	templates := make([]*Template, 0, len(names))
	for _, name := range names {
		t, err := LoadFile(filepath.Join(dir, name), defaults)
		if err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, nil
}

// Encode writes t as YAML.
func Encode(w io.Writer, t *Template) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(t); err != nil {
		return fmt.Errorf("encode template: %w", err)
	}
	return enc.Close()
}
