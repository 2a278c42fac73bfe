// Package validator compiles the schema literal a step passes to
// validate_config into a cuelang.org/go constraint and checks a host's
// realized configuration against it.
package validator

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/rolloutd/rolloutd/pkg/rolloutstatus"
)

// Schema is the shape a step literal passes to validate_config, decoded
// from the Starlark mapping the step runtime hands us.
type Schema struct {
	Type     any               `json:"type"` // string, or []string for alternatives
	Required bool              `json:"required"`
	Help     string            `json:"help"`
	Items    *Schema           `json:"items,omitempty"`
	Key      *Schema           `json:"key,omitempty"`
	Value    *Schema           `json:"value,omitempty"`
	Options  map[string]Schema `json:"options,omitempty"`
}

// Registry compiles and caches per-step CUE schemas, recompiling only when
// a step's schema literal changes.
type Registry struct {
	ctx *cue.Context

	mu     sync.Mutex
	cached map[string]cachedSchema // step name -> compiled schema
}

type cachedSchema struct {
	contentHash string
	compiled    cue.Value
}

// NewRegistry returns an empty schema registry.
func NewRegistry() *Registry {
	return &Registry{
		ctx:    cuecontext.New(),
		cached: make(map[string]cachedSchema),
	}
}

// Compile registers schema for step, compiling it to CUE. If an identical
// schema (by content hash) is already registered for step, the cached
// compiled value is reused.
func (r *Registry) Compile(step string, schema Schema) (cue.Value, error) {
	hash, err := contentHash(schema)
	if err != nil {
		return cue.Value{}, rolloutstatus.NewConfigValidationError("hash schema for "+step, err)
	}

	r.mu.Lock()
	if existing, ok := r.cached[step]; ok && existing.contentHash == hash {
		r.mu.Unlock()
		return existing.compiled, nil
	}
	r.mu.Unlock()

	constraint, err := toConstraint(schema)
	if err != nil {
		return cue.Value{}, rolloutstatus.NewConfigValidationError("compile schema for "+step, err)
	}

	val := r.ctx.CompileString(constraint)
	if val.Err() != nil {
		return cue.Value{}, rolloutstatus.NewConfigValidationError("compile schema for "+step, val.Err())
	}

	r.mu.Lock()
	r.cached[step] = cachedSchema{contentHash: hash, compiled: val}
	r.mu.Unlock()

	return val, nil
}

// Validate checks data (typically a map[string]any drawn from the host's
// realized configuration) against step's compiled schema, returning the
// accumulated list of validation errors (empty if data is valid).
func (r *Registry) Validate(step string, schema Schema, data any) []error {
	compiled, err := r.Compile(step, schema)
	if err != nil {
		return []error{err}
	}

	encoded := r.ctx.Encode(data)
	if encoded.Err() != nil {
		return []error{rolloutstatus.NewConfigValidationError("encode data for "+step, encoded.Err())}
	}

	unified := compiled.Unify(encoded)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return splitErrors(step, err)
	}
	return nil
}

func splitErrors(step string, err error) []error {
	lines := strings.Split(err.Error(), "\n")
	var out []error
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, rolloutstatus.NewConfigValidationError(step, fmt.Errorf("%s", line)))
	}
	if len(out) == 0 {
		out = append(out, rolloutstatus.NewConfigValidationError(step, err))
	}
	return out
}

func contentHash(schema Schema) (string, error) {
	b, err := json.Marshal(schema)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// toConstraint compiles a Schema into a CUE constraint expression.
func toConstraint(s Schema) (string, error) {
	types, err := typeNames(s.Type)
	if err != nil {
		return "", err
	}

	alternatives := make([]string, 0, len(types))
	for _, t := range types {
		c, err := primitiveConstraint(t, s)
		if err != nil {
			return "", err
		}
		alternatives = append(alternatives, c)
	}

	constraint := strings.Join(alternatives, " | ")
	if !s.Required {
		// A non-required field still constrains the value's shape when
		// present; null is permitted to model "absent".
		constraint = constraint + " | null"
	}
	return constraint, nil
}

func typeNames(t any) ([]string, error) {
	switch v := t.(type) {
	case string:
		return []string{v}, nil
	case []string:
		return v, nil
	case []any:
		names := make([]string, 0, len(v))
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("type alternative %v is not a string", e)
			}
			names = append(names, s)
		}
		return names, nil
	default:
		return nil, fmt.Errorf("unsupported type field %v (%T)", t, t)
	}
}

func primitiveConstraint(typeName string, s Schema) (string, error) {
	switch typeName {
	case "string", "path", "code":
		return "string", nil
	case "boolean":
		return "bool", nil
	case "list":
		if s.Items == nil {
			return "[...]", nil
		}
		elem, err := toConstraint(*s.Items)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("[...(%s)]", elem), nil
	case "hash":
		if s.Value == nil {
			return "{...}", nil
		}
		val, err := toConstraint(*s.Value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("{[string]: %s}", val), nil
	case "options":
		return optionsConstraint(s.Options)
	default:
		return "", fmt.Errorf("unknown schema type %q", typeName)
	}
}

func optionsConstraint(options map[string]Schema) (string, error) {
	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("close({")
	for _, k := range keys {
		sub := options[k]
		c, err := toConstraint(sub)
		if err != nil {
			return "", err
		}
		optional := "?"
		if sub.Required {
			optional = ""
		}
		fmt.Fprintf(&b, "%s%s: %s, ", cueFieldName(k), optional, c)
	}
	b.WriteString("})")
	return b.String(), nil
}

func cueFieldName(name string) string {
	// CUE field names that aren't valid identifiers need quoting.
	for _, r := range name {
		if !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return fmt.Sprintf("%q", name)
		}
	}
	return name
}
