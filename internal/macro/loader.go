// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package macro

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ManuGH/kelpie/internal/event"
)

// statementFile is the YAML shape of one statement. Duration is a string in
// Go duration format ("250ms") and is parsed during conversion.
type statementFile struct {
	Event    string `yaml:"event"`
	Payload  any    `yaml:"payload"`
	Duration string `yaml:"duration"`
}

// macroFile is the YAML shape of one macro definition file.
type macroFile struct {
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	Statements  []statementFile `yaml:"statements"`
}

// ParseFile reads one YAML macro definition.
func ParseFile(path string) (Macro, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Macro{}, err
	}
	var f macroFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Macro{}, fmt.Errorf("parse %s: %w", path, err)
	}
	m := Macro{
		Name:        f.Name,
		Description: f.Description,
		Statements:  make([]Statement, 0, len(f.Statements)),
	}
	if m.Name == "" {
		m.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	for i, s := range f.Statements {
		var hold time.Duration
		if s.Duration != "" {
			hold, err = time.ParseDuration(s.Duration)
			if err != nil {
				return Macro{}, fmt.Errorf("parse %s: statement %d: %w", path, i, err)
			}
		}
		m.Statements = append(m.Statements, Statement{
			Event:    event.Type(s.Event),
			Payload:  s.Payload,
			Duration: hold,
		})
	}
	return m, nil
}

// LoadDir parses every .yaml/.yml file in dir into the library. Files are
// loaded in lexical order; a file that fails to parse or validate is skipped
// and reported in the returned error list.
func (l *Library) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		path := filepath.Join(dir, name)
		m, err := ParseFile(path)
		if err == nil {
			err = l.Put(m)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("load macro dir %s: %d of %d files rejected: %v", dir, len(errs), len(names), errs)
	}
	return nil
}
