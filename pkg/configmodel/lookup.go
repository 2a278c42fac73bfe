package configmodel

import "strings"

// hit is one resolved value found while walking an entity and its
// ancestors, along with the name of the entity it was found in (used by
// i_iterate's visit callback).
type hit struct {
	entity string
	value  Value
}

// Lookup resolves "base/k1/k2/...": base names an entity, the remainder is
// a key chain walked inside that entity and inside every ancestor
// (transitively, via the ISA graph), in deterministic order, collecting
// every hit. Every
// entity base is visited at most once per call regardless of how many
// inheritance paths reach it.
//
// In scalar context callers want the first hit (most specific: depth-first,
// child before parent); in sequence context they want every hit, in
// visitation order, normalized with FlattenList/FlattenHash.
func (m *Model) Lookup(path string) []Value {
	segs := strings.Split(path, "/")
	if len(segs) == 0 || segs[0] == "" {
		return nil
	}
	base, chain := segs[0], segs[1:]

	visited := make(map[string]bool)
	var hits []hit
	m.lookupWalk(base, chain, visited, &hits)

	out := make([]Value, len(hits))
	for i, h := range hits {
		out[i] = h.value
	}
	return out
}

// C is the c(path, default?) primitive in scalar context: first hit, or
// def if there were none.
func (m *Model) C(path string, def Value) Value {
	hits := m.Lookup(path)
	if len(hits) == 0 {
		return def
	}
	return hits[0]
}

// CSequence is the c(path) primitive in sequence context: every hit, in
// visitation order.
func (m *Model) CSequence(path string) []Value {
	return m.Lookup(path)
}

func (m *Model) lookupWalk(entityName string, chain []string, visited map[string]bool, hits *[]hit) {
	if visited[entityName] {
		return
	}
	visited[entityName] = true

	e := m.entities[entityName]
	if e == nil {
		return
	}

	if v, ok := walkChain(e.Data, chain); ok {
		*hits = append(*hits, hit{entity: entityName, value: v})
	}

	for _, parent := range e.ISA {
		m.lookupWalk(parent, chain, visited, hits)
	}
}

// walkChain walks a key chain through nested mappings; every segment but
// the last must resolve to a mapping for the walk to continue.
func walkChain(data map[string]Value, chain []string) (Value, bool) {
	if len(chain) == 0 {
		return nil, false
	}
	cur := Value(data)
	for i, key := range chain {
		m, ok := cur.(map[string]Value)
		if !ok {
			return nil, false
		}
		v, ok := m[key]
		if !ok {
			return nil, false
		}
		if i == len(chain)-1 {
			return v, true
		}
		cur = v
	}
	return nil, false
}

// Realize returns the fully-merged top-level view of entity and its
// transitive ISA ancestors: every key any of them defines, with
// list/mapping values merged via FlattenHash semantics and the most
// specific (closest to entity) definition winning on a scalar clash. This
// is the "realized configuration" validate_config checks against, as
// distinct from Lookup's single-path/single-key c() semantics.
func (m *Model) Realize(entity string) map[string]Value {
	visited := make(map[string]bool)
	var layers []map[string]Value
	m.realizeWalk(entity, visited, &layers)
	return FlattenHash(layers...)
}

// realizeWalk appends each visited entity's Data in parent-before-child
// (post-order) sequence, so FlattenHash's "later wins" scalar rule gives
// priority to the entity closest to the traversal root.
func (m *Model) realizeWalk(entityName string, visited map[string]bool, layers *[]map[string]Value) {
	if visited[entityName] {
		return
	}
	visited[entityName] = true

	e := m.entities[entityName]
	if e == nil {
		return
	}
	for _, parent := range e.ISA {
		m.realizeWalk(parent, visited, layers)
	}
	*layers = append(*layers, e.Data)
}

// FlattenList concatenates sequences and scalars into a single sequence,
// one level of flattening.
func FlattenList(values ...Value) []Value {
	var out []Value
	for _, v := range values {
		switch t := v.(type) {
		case []Value:
			out = append(out, t...)
		case nil:
			// skip
		default:
			out = append(out, t)
		}
	}
	return out
}

// FlattenHash deep-merges mappings left to right: sequences concatenate and
// deduplicate, mappings recurse, scalars let the later value win.
func FlattenHash(mappings ...map[string]Value) map[string]Value {
	out := make(map[string]Value)
	for _, mp := range mappings {
		for k, v := range mp {
			existing, has := out[k]
			if !has {
				out[k] = v
				continue
			}
			out[k] = mergeValue(existing, v)
		}
	}
	return out
}

func mergeValue(a, b Value) Value {
	al, aIsList := a.([]Value)
	bl, bIsList := b.([]Value)
	if aIsList && bIsList {
		return dedupe(append(append([]Value(nil), al...), bl...))
	}

	am, aIsMap := a.(map[string]Value)
	bm, bIsMap := b.(map[string]Value)
	if aIsMap && bIsMap {
		return FlattenHash(am, bm)
	}

	// Scalar vs scalar (or mismatched kinds): later wins.
	return b
}

func dedupe(values []Value) []Value {
	seen := make(map[any]bool, len(values))
	out := make([]Value, 0, len(values))
	for _, v := range values {
		key, comparable := v.(string)
		if !comparable {
			out = append(out, v)
			continue
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}
