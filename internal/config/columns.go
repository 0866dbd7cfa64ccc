package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ColumnSet is an ordered mapping from logical column names to physical
// column names for one side. Order follows the configuration document and
// drives both SELECT lists and row hashing, so it must be stable.
//
// In YAML a ColumnSet is either a mapping (logical: physical) or a plain
// list, which is treated as an identity mapping. Names are lowercased.
type ColumnSet struct {
	names []string
	phys  map[string]string
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (c *ColumnSet) UnmarshalYAML(node *yaml.Node) error {
	c.names = nil
	c.phys = make(map[string]string)

	switch node.Kind {
	case yaml.SequenceNode:
		for _, item := range node.Content {
			name := strings.ToLower(strings.TrimSpace(item.Value))
			if name == "" {
				return fmt.Errorf("columns: empty column name")
			}
			c.add(name, name)
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			logical := strings.ToLower(strings.TrimSpace(node.Content[i].Value))
			physical := strings.ToLower(strings.TrimSpace(node.Content[i+1].Value))
			if logical == "" || physical == "" {
				return fmt.Errorf("columns: empty column mapping entry")
			}
			c.add(logical, physical)
		}
	default:
		return fmt.Errorf("columns: expected list or mapping")
	}
	return nil
}

func (c *ColumnSet) add(logical, physical string) {
	if _, ok := c.phys[logical]; !ok {
		c.names = append(c.names, logical)
	}
	c.phys[logical] = physical
}

// Names returns the logical column names in document order.
func (c *ColumnSet) Names() []string {
	return c.names
}

// Physical returns the physical column name for a logical name.
func (c *ColumnSet) Physical(logical string) (string, bool) {
	p, ok := c.phys[logical]
	return p, ok
}

// MustPhysical returns the physical name, falling back to the logical name
// when unmapped.
func (c *ColumnSet) MustPhysical(logical string) string {
	if p, ok := c.phys[logical]; ok {
		return p
	}
	return logical
}

// Has reports whether the logical column is present.
func (c *ColumnSet) Has(logical string) bool {
	_, ok := c.phys[logical]
	return ok
}

// Len returns the number of mapped columns.
func (c *ColumnSet) Len() int {
	return len(c.names)
}

// Clone returns a deep copy.
func (c *ColumnSet) Clone() ColumnSet {
	out := ColumnSet{
		names: append([]string(nil), c.names...),
		phys:  make(map[string]string, len(c.phys)),
	}
	for k, v := range c.phys {
		out.phys[k] = v
	}
	return out
}

// Intersect returns a copy restricted to logical names present in other,
// preserving other's order. Used to drop destination-only columns.
func (c *ColumnSet) Intersect(other *ColumnSet) ColumnSet {
	out := ColumnSet{phys: make(map[string]string)}
	for _, name := range other.names {
		if p, ok := c.phys[name]; ok {
			out.add(name, p)
		} else {
			// Destination mirrors the source physical name when it
			// declared no mapping of its own.
			out.add(name, other.phys[name])
		}
	}
	return out
}

// FromPairs builds a ColumnSet from logical/physical pairs (test helper and
// programmatic construction).
func FromPairs(pairs ...[2]string) ColumnSet {
	c := ColumnSet{phys: make(map[string]string)}
	for _, p := range pairs {
		c.add(strings.ToLower(p[0]), strings.ToLower(p[1]))
	}
	return c
}
