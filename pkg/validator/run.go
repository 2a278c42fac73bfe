package validator

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/rolloutd/rolloutd/pkg/rolloutstatus"
)

// Result accumulates every validation error raised across a `--validate`
// pass, in the order raised, each error's message naming the step that
// raised it, so a caller can report a complete error set instead of
// stopping at the first failure.
type Result struct {
	Errors []error
}

// Accumulator collects Validate calls across every step in a run.
type Accumulator struct {
	registry *Registry
	logger   zerolog.Logger
	result   Result

	// moduleAvailable records whether the remote validator module loaded
	// successfully; if it never did, Validate calls are no-ops that log
	// a warning exactly once.
	moduleAvailable bool
	warnedMissing   bool
}

// NewAccumulator builds an Accumulator backed by registry. moduleAvailable
// reflects whether the step runtime's remote_require("validator") call
// succeeded; when false, every Validate call downgrades to a warning
// instead of a hard failure, per the config validator's "absence of the
// module downgrades validation to a no-op with a warning" contract.
func NewAccumulator(registry *Registry, logger zerolog.Logger, moduleAvailable bool) *Accumulator {
	return &Accumulator{registry: registry, logger: logger, moduleAvailable: moduleAvailable}
}

// Validate validates data against step's schema and appends any errors to
// the accumulator's running result.
func (a *Accumulator) Validate(step string, schema Schema, data any) {
	if !a.available() {
		return
	}

	for _, err := range a.registry.Validate(step, schema, data) {
		a.logger.Error().Err(err).Str("step", step).Msg("config validation failed")
		a.result.Errors = append(a.result.Errors, err)
	}
}

// ValidateKeys checks each declared config key against its schema: the
// bare {key: schema, ...} form a step's validate_config literal usually
// takes. Keys the host configuration doesn't define fail only when the
// schema marks them required; keys the host defines beyond the declared
// set are not this step's concern and pass untouched.
func (a *Accumulator) ValidateKeys(step string, schemas map[string]Schema, data map[string]any) {
	if !a.available() {
		return
	}

	keys := make([]string, 0, len(schemas))
	for k := range schemas {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		schema := schemas[key]
		value, defined := data[key]
		if !defined {
			if schema.Required {
				err := rolloutstatus.NewConfigValidationError(
					fmt.Sprintf("%s: required key %q is not set", step, key), nil)
				a.logger.Error().Err(err).Str("step", step).Msg("config validation failed")
				a.result.Errors = append(a.result.Errors, err)
			}
			continue
		}
		for _, err := range a.registry.Validate(step+"/"+key, schema, value) {
			a.logger.Error().Err(err).Str("step", step).Str("key", key).Msg("config validation failed")
			a.result.Errors = append(a.result.Errors, err)
		}
	}
}

func (a *Accumulator) available() bool {
	if a.moduleAvailable {
		return true
	}
	if !a.warnedMissing {
		a.logger.Warn().Msg("validator module unavailable, validate_config is a no-op for this run")
		a.warnedMissing = true
	}
	return false
}

// ExitCode returns the number of accumulated errors, the process exit
// status in `--validate` mode.
func (a *Accumulator) ExitCode() int {
	return len(a.result.Errors)
}

// Result returns the accumulated validation result.
func (a *Accumulator) Result() Result {
	return a.result
}
