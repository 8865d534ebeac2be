// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package event

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrEmptyCatalog is returned when a catalog is built from no definitions.
	ErrEmptyCatalog = errors.New("catalog requires at least one definition")

	// ErrDuplicateType is returned when two definitions share a type.
	ErrDuplicateType = errors.New("duplicate event type")

	// ErrInvalidDef is returned when a definition is malformed.
	ErrInvalidDef = errors.New("invalid event definition")
)

// Catalog is the immutable mapping of event type to its definition.
// Build one at startup and share it; it is safe for concurrent reads.
type Catalog struct {
	defs    map[Type]Def
	ordered []Type
}

// NewCatalog validates the definitions and builds a catalog. Types must be
// unique and non-empty, priorities non-negative. If an "idle" group entry is
// present it must hold the strictly lowest priority in the catalog.
func NewCatalog(defs []Def) (*Catalog, error) {
	if len(defs) == 0 {
		return nil, ErrEmptyCatalog
	}
	m := make(map[Type]Def, len(defs))
	ordered := make([]Type, 0, len(defs))
	minPriority := defs[0].Priority
	var idle *Def
	for i := range defs {
		d := defs[i]
		if d.Type == "" {
			return nil, fmt.Errorf("%w: empty type at index %d", ErrInvalidDef, i)
		}
		if d.Priority < 0 {
			return nil, fmt.Errorf("%w: %q has negative priority %d", ErrInvalidDef, d.Type, d.Priority)
		}
		if _, exists := m[d.Type]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateType, d.Type)
		}
		m[d.Type] = d
		ordered = append(ordered, d.Type)
		if d.Priority < minPriority {
			minPriority = d.Priority
		}
		if d.Group == GroupIdle {
			if idle != nil {
				return nil, fmt.Errorf("%w: more than one idle entry", ErrInvalidDef)
			}
			idle = &defs[i]
		}
	}
	if idle != nil && idle.Priority != minPriority {
		return nil, fmt.Errorf("%w: idle entry %q must carry the lowest priority", ErrInvalidDef, idle.Type)
	}
	// Stable lookup order regardless of definition order.
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })
	return &Catalog{defs: m, ordered: ordered}, nil
}

// DefaultCatalog builds a catalog from the built-in definitions.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(Defaults())
	if err != nil {
		// Defaults are compile-time constants; this cannot happen.
		panic(err)
	}
	return c
}

// Lookup returns the definition for the given type.
func (c *Catalog) Lookup(t Type) (Def, bool) {
	d, ok := c.defs[t]
	return d, ok
}

// Contains reports whether the type is in the catalog.
func (c *Catalog) Contains(t Type) bool {
	_, ok := c.defs[t]
	return ok
}

// Types returns all catalog types in lexical order.
func (c *Catalog) Types() []Type {
	out := make([]Type, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// Len returns the number of catalog entries.
func (c *Catalog) Len() int {
	return len(c.defs)
}

// IdleType returns the type of the idle entry, if any.
func (c *Catalog) IdleType() (Type, bool) {
	for _, t := range c.ordered {
		if c.defs[t].Group == GroupIdle {
			return t, true
		}
	}
	return "", false
}
