package validator

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestAccumulator_CountsErrorsAcrossSteps(t *testing.T) {
	acc := NewAccumulator(NewRegistry(), zerolog.Nop(), true)

	acc.Validate("100-users", Schema{Type: "boolean"}, "not-a-bool")
	acc.Validate("200-packages", Schema{Type: "string", Required: true}, "ok")

	if acc.ExitCode() != 1 {
		t.Errorf("ExitCode() = %d, want 1", acc.ExitCode())
	}
}

func TestAccumulator_NoOpWhenModuleUnavailable(t *testing.T) {
	acc := NewAccumulator(NewRegistry(), zerolog.Nop(), false)

	acc.Validate("100-users", Schema{Type: "boolean"}, "not-a-bool")

	if acc.ExitCode() != 0 {
		t.Errorf("ExitCode() = %d, want 0 when the validator module is unavailable", acc.ExitCode())
	}
}
