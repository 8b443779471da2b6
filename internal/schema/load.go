// internal/schema/load.go
package schema

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/solatis/formkeeper/internal/fieldpath"
	"github.com/solatis/formkeeper/internal/types"
)

// Parse decodes and validates one definition. JSON documents parse too.
func Parse(data []byte) (*Definition, error) {
	return parse(data, "")
}

func parse(data []byte, fallbackName string) (*Definition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var d Definition
	if err := dec.Decode(&d); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", types.ErrInvalidSchema)
		}
		if errors.Is(err, types.ErrInvalidSchema) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidSchema, err)
	}
	if d.Name == "" {
		d.Name = fallbackName
	}
	if err := d.validate(); err != nil {
		return nil, err
	}
	if err := d.compile(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", types.ErrInvalidSchema, d.Name, err)
	}
	d.digest = sha256.Sum256(data)
	return &d, nil
}

// LoadFile reads one definition file. A definition without a name takes
// the file name without extension.
func LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	d, err := parse(data, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	d.Source = path
	return d, nil
}

// LoadDir loads every *.yaml, *.yml and *.json file in dir (not recursive).
func LoadDir(dir string) (map[string]*Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read schema dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && isSchemaFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	defs := make(map[string]*Definition, len(names))
	for _, name := range names {
		d, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		if prev, dup := defs[d.Name]; dup {
			return nil, fmt.Errorf("%w: schema %q defined in %s and %s", types.ErrInvalidSchema, d.Name, prev.Source, d.Source)
		}
		defs[d.Name] = d
	}
	return defs, nil
}

func isSchemaFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return !strings.HasPrefix(name, ".")
	}
	return false
}

func (d *Definition) validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: missing name", types.ErrInvalidSchema)
	}
	if err := validateNodes(d.Fields, ""); err != nil {
		return fmt.Errorf("%w: %s: %v", types.ErrInvalidSchema, d.Name, err)
	}
	for src, targets := range d.Dependencies {
		if fieldpath.Normalize(src) == "" {
			return fmt.Errorf("%w: %s: empty dependency source", types.ErrInvalidSchema, d.Name)
		}
		for _, t := range targets {
			if fieldpath.Normalize(t) == "" {
				return fmt.Errorf("%w: %s: empty dependency of %q", types.ErrInvalidSchema, d.Name, src)
			}
		}
	}
	return nil
}

func validateNodes(nodes []*Node, prefix string) error {
	for _, n := range nodes {
		path := fieldpath.Join(prefix, n.Name)
		switch {
		case !n.Kind.valid():
			return fmt.Errorf("field %q: unknown kind %q", path, n.Kind)
		case n.Name == "" || strings.ContainsAny(n.Name, ".[]*"):
			return fmt.Errorf("field %q: invalid name", path)
		case n.Kind.Repeats() && len(n.Subfields) == 0:
			return fmt.Errorf("field %q: %s needs subfields", path, n.Kind)
		case n.Kind == KindSection && n.Rules != "":
			return fmt.Errorf("field %q: sections take no rules", path)
		}
		if err := validateNodes(n.Subfields, path); err != nil {
			return err
		}
	}
	return nil
}
