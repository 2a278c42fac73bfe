package configmodel

import (
	"fmt"
	"strings"
)

// Visitor is invoked by Iterate for every entity (in traversal order, guarded
// against revisiting) where key is defined, receiving the entity's name and
// the value found at that key. Returning stop=true ends the traversal early
// (used by IHas, which only wants the first defined value).
type Visitor func(entityName string, value Value) (stop bool)

// Iterate walks entity and its ancestors, invoking visit for every entity
// where key is defined at the top level, guarded by a visited-set so cycles
// in the ISA graph cannot cause non-termination or double-visits. This is
// the generic primitive every i_* predicate is built on.
func (m *Model) Iterate(entity, key string, visit Visitor) {
	visited := make(map[string]bool)
	m.iterate(entity, key, visit, visited)
}

func (m *Model) iterate(entityName, key string, visit Visitor, visited map[string]bool) bool {
	if visited[entityName] {
		return false
	}
	visited[entityName] = true

	e := m.entities[entityName]
	if e == nil {
		return false
	}

	if v, ok := e.Data[key]; ok {
		if visit(entityName, v) {
			return true
		}
	}

	for _, parent := range e.ISA {
		if m.iterate(parent, key, visit, visited) {
			return true
		}
	}
	return false
}

// IHas returns the first-match value for key starting from entity: the
// most specific definition wins, i.e. the first visitor call that finds a
// defined value.
func (m *Model) IHas(entity, key string) (Value, bool) {
	var found Value
	var ok bool
	m.Iterate(entity, key, func(_ string, v Value) bool {
		found, ok = v, true
		return true
	})
	return found, ok
}

// IIsa reports whether entity transitively ISAs class (or is class itself).
func (m *Model) IIsa(entity, class string) bool {
	if entity == class {
		return true
	}
	visited := make(map[string]bool)
	return m.isaWalk(entity, class, visited)
}

func (m *Model) isaWalk(entity, class string, visited map[string]bool) bool {
	if visited[entity] {
		return false
	}
	visited[entity] = true

	e := m.entities[entity]
	if e == nil {
		return false
	}
	for _, parent := range e.ISA {
		if parent == class {
			return true
		}
		if m.isaWalk(parent, class, visited) {
			return true
		}
	}
	return false
}

// IShould reports whether item should run for the current step, given the
// step's full filename (e.g. "100-users") and its short name
// ("users"). It returns false the moment any visited entity's skip_steps
// sequence lists "<step>:<item>" or "<shortstep>:<item>".
func (m *Model) IShould(entity, stepFile, item string) bool {
	short := ShortStepName(stepFile)
	wantFull := stepFile + ":" + item
	wantShort := short + ":" + item

	skip := false
	m.Iterate(entity, "skip_steps", func(_ string, v Value) bool {
		for _, s := range toStringSlice(v) {
			if s == wantFull || s == wantShort {
				skip = true
				return true
			}
		}
		return false
	})
	return !skip
}

// ShortStepName strips a leading "NNN-" numeric prefix from a step
// filename. Shared by the config model's own skip_steps matching, the step
// runtime's force-matching, and the driver's --skip_step/--only/--force
// flag matching.
func ShortStepName(stepFile string) string {
	if idx := strings.IndexByte(stepFile, '-'); idx >= 0 {
		prefix := stepFile[:idx]
		allDigits := prefix != ""
		for _, r := range prefix {
			if r < '0' || r > '9' {
				allDigits = false
				break
			}
		}
		if allDigits {
			return stepFile[idx+1:]
		}
	}
	return stepFile
}

// memberOf reports whether path, looked up as a sequence from entity,
// contains needle.
func (m *Model) memberOf(entity, path, needle string) bool {
	for _, v := range m.Lookup(entity + "/" + path) {
		for _, s := range toStringSlice(v) {
			if s == needle {
				return true
			}
		}
		if scalar, ok := v.(string); ok && scalar == needle {
			return true
		}
	}
	return false
}

// IImmutableFile reports whether path is listed in the immutable_files
// sequence visible from entity.
func (m *Model) IImmutableFile(entity, path string) bool {
	return m.memberOf(entity, "immutable_files", path)
}

// IUnsafeFile reports whether path is listed in the unsafe_files sequence
// visible from entity.
func (m *Model) IUnsafeFile(entity, path string) bool {
	return m.memberOf(entity, "unsafe_files", path)
}

// IUnsafeDir reports whether path is listed in the unsafe_dirs sequence
// visible from entity.
func (m *Model) IUnsafeDir(entity, path string) bool {
	return m.memberOf(entity, "unsafe_dirs", path)
}

// IIP returns the primary interface's IP address visible from entity (or
// from host if given), read from its "interfaces" configuration. The
// interfaces value is a sequence of hashes each with at least an "ip" key;
// the first one found (in i_has order) wins.
func (m *Model) IIP(entity, host string) (string, error) {
	lookFrom := entity
	if host != "" {
		lookFrom = host
	}
	v, ok := m.IHas(lookFrom, "interfaces")
	if !ok {
		return "", fmt.Errorf("no interfaces defined for %q", lookFrom)
	}
	ifaces, ok := v.([]Value)
	if !ok || len(ifaces) == 0 {
		return "", fmt.Errorf("interfaces for %q is not a non-empty sequence", lookFrom)
	}
	first, ok := ifaces[0].(map[string]Value)
	if !ok {
		return "", fmt.Errorf("interfaces[0] for %q is not a hash", lookFrom)
	}
	ip, ok := first["ip"].(string)
	if !ok {
		return "", fmt.Errorf("interfaces[0].ip for %q is not a string", lookFrom)
	}
	return ip, nil
}
