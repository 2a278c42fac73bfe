// Package configmodel implements the multi-inheritance configuration forest:
// named classes and devices, each with a parent (ISA) set, path-style
// lookup across the inheritance graph, and list/hash merge helpers.
//
// The graph may contain cycles at the data level. Every traversal in this
// package carries an explicit visited-set and terminates regardless of
// cycles, rather than relying on the data being a DAG.
package configmodel

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/rolloutd/rolloutd/pkg/rolloutstatus"
)

var (
	deviceNameRE = regexp.MustCompile(`^[a-z][\w-]+$`)
	classNameRE  = regexp.MustCompile(`^[A-Z][\w-]+$`)
)

// Value is whatever an entity's key can map to: a scalar (string, bool,
// number), an ordered sequence ([]Value), a mapping (map[string]Value), or
// an opaque callable (Code).
type Value = any

// Code is an opaque callable value stored in the config model, e.g. a
// deferred Starlark function registered via queue_code.
type Code struct {
	Name string
	Call func(args ...Value) (Value, error)
}

// Entity is a named node in the configuration forest: either a device
// (lowercase-leading name) or a class (uppercase-leading name).
type Entity struct {
	Name string
	Data map[string]Value
	ISA  []string // sorted for deterministic traversal order, see DESIGN.md
}

// IsDevice reports whether name matches the device naming convention.
func IsDevice(name string) bool { return deviceNameRE.MatchString(name) }

// IsClass reports whether name matches the class naming convention.
func IsClass(name string) bool { return classNameRE.MatchString(name) }

// Model is the in-memory forest of entities, built once during
// configuration evaluation and never mutated once steps begin running.
type Model struct {
	entities map[string]*Entity
	networks map[string][]string
}

// NewModel returns an empty configuration model.
func NewModel() *Model {
	return &Model{
		entities: make(map[string]*Entity),
		networks: make(map[string][]string),
	}
}

// Device defines a device entity. block may contain an "ISA" key holding a
// parent-name sequence; it is extracted into Entity.ISA and removed from
// Data to keep lookup and ISA traversal orthogonal.
func (m *Model) Device(name string, block map[string]Value) error {
	return m.define(name, block, IsDevice, "device")
}

// Class defines a class entity, following the same rules as Device.
func (m *Model) Class(name string, block map[string]Value) error {
	return m.define(name, block, IsClass, "class")
}

func (m *Model) define(name string, block map[string]Value, valid func(string) bool, kind string) error {
	if !valid(name) {
		return rolloutstatus.NewConfigError(fmt.Sprintf("%s name %q does not match the required pattern", kind, name), nil)
	}
	if _, exists := m.entities[name]; exists {
		return rolloutstatus.NewConfigError(fmt.Sprintf("duplicate definition of entity %q", name), nil)
	}

	data := make(map[string]Value, len(block))
	var isa []string
	for k, v := range block {
		if k == "ISA" {
			isa = toStringSlice(v)
			continue
		}
		data[k] = v
	}
	sort.Strings(isa)

	m.entities[name] = &Entity{Name: name, Data: data, ISA: isa}
	return nil
}

// Inherits is sugar producing an ISA value for use inside a device/class
// block literal: block["ISA"] = model.Inherits("Base", "Other").
func (m *Model) Inherits(parents ...string) []Value {
	out := make([]Value, len(parents))
	for i, p := range parents {
		out[i] = p
	}
	return out
}

// Entity returns the named entity, or nil if undefined.
func (m *Model) Entity(name string) *Entity {
	return m.entities[name]
}

// Network accumulates a named IP-range set. Repeated calls with the same
// name append members.
func (m *Model) Network(name string, members ...string) {
	m.networks[name] = append(m.networks[name], members...)
}

// ExpandNetwork returns the members of a named network, treating any
// member that looks like an IPv4 literal as itself (i.e. network and host
// literal members are returned the same way — expansion of named ranges
// into addresses is a step-runtime concern built atop this raw list).
func (m *Model) ExpandNetwork(name string) []string {
	out := make([]string, len(m.networks[name]))
	copy(out, m.networks[name])
	return out
}

func toStringSlice(v Value) []string {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...)
	case []Value:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{t}
	default:
		return nil
	}
}
