package validator

import "testing"

func TestValidate_RequiredStringPresent(t *testing.T) {
	r := NewRegistry()
	schema := Schema{Type: "string", Required: true}

	if errs := r.Validate("100-users", schema, "alice"); len(errs) != 0 {
		t.Errorf("Validate(alice) = %v, want no errors", errs)
	}
}

func TestValidate_BooleanTypeMismatch(t *testing.T) {
	r := NewRegistry()
	schema := Schema{Type: "boolean"}

	if errs := r.Validate("100-users", schema, "not-a-bool"); len(errs) == 0 {
		t.Error("Validate(string against boolean schema) should report an error")
	}
}

func TestValidate_OptionsRejectsUnknownKey(t *testing.T) {
	r := NewRegistry()
	schema := Schema{
		Type: "options",
		Options: map[string]Schema{
			"name": {Type: "string", Required: true},
		},
	}

	data := map[string]any{"name": "alice", "unknown": "field"}
	if errs := r.Validate("100-users", schema, data); len(errs) == 0 {
		t.Error("Validate with an unrecognized options key should report an error")
	}
}

func TestValidate_OptionsAcceptsKnownKeys(t *testing.T) {
	r := NewRegistry()
	schema := Schema{
		Type: "options",
		Options: map[string]Schema{
			"name":  {Type: "string", Required: true},
			"shell": {Type: "string"},
		},
	}

	data := map[string]any{"name": "alice", "shell": "/bin/bash"}
	if errs := r.Validate("100-users", schema, data); len(errs) != 0 {
		t.Errorf("Validate(valid options) = %v, want no errors", errs)
	}
}

func TestValidate_ListItemsConstraint(t *testing.T) {
	r := NewRegistry()
	schema := Schema{
		Type:  "list",
		Items: &Schema{Type: "string"},
	}

	if errs := r.Validate("100-gems", schema, []any{"a", "b"}); len(errs) != 0 {
		t.Errorf("Validate(list of strings) = %v, want no errors", errs)
	}
	if errs := r.Validate("100-gems", schema, []any{"a", 5}); len(errs) == 0 {
		t.Error("Validate(list with a non-string element) should report an error")
	}
}

func TestCompile_SameSchemaTwiceSucceeds(t *testing.T) {
	r := NewRegistry()
	schema := Schema{Type: "string", Required: true}

	if _, err := r.Compile("100-users", schema); err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if _, err := r.Compile("100-users", schema); err != nil {
		t.Fatalf("Compile (cached path): %v", err)
	}
}
