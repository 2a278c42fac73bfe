package configmodel

import "testing"

func TestLookup_TopLevelKeyAfterDefine(t *testing.T) {
	m := NewModel()
	if err := m.Device("host1", map[string]Value{"role": "web"}); err != nil {
		t.Fatalf("Device: %v", err)
	}

	got := m.C("host1/role", nil)
	if got != "web" {
		t.Errorf("C(host1/role) = %v, want %q", got, "web")
	}
}

func TestLookup_InheritanceFlattenList(t *testing.T) {
	m := NewModel()
	if err := m.Class("Base", map[string]Value{
		"gems": []Value{"a", "b"},
	}); err != nil {
		t.Fatalf("Class(Base): %v", err)
	}
	if err := m.Class("Mid", map[string]Value{
		"ISA":  []Value{"Base"},
		"gems": []Value{"c"},
	}); err != nil {
		t.Fatalf("Class(Mid): %v", err)
	}
	if err := m.Device("host1", map[string]Value{
		"ISA": []Value{"Mid"},
	}); err != nil {
		t.Fatalf("Device(host1): %v", err)
	}

	got := FlattenList(m.CSequence("host1/gems")...)
	want := map[string]bool{"a": true, "b": true, "c": true}
	if len(got) != 3 {
		t.Fatalf("FlattenList(gems) = %v, want 3 elements", got)
	}
	for _, v := range got {
		s, ok := v.(string)
		if !ok || !want[s] {
			t.Errorf("unexpected element %v in flattened gems", v)
		}
		delete(want, s)
	}
	// Scalar lookup (first hit) must be child-before-parent.
	first := m.C("host1/gems", nil)
	if fl, ok := first.([]Value); !ok || len(fl) != 1 || fl[0] != "c" {
		t.Errorf("scalar-context first hit = %v, want [c] (Mid's own gems)", first)
	}
}

func TestLookup_CycleTerminates(t *testing.T) {
	m := NewModel()
	_ = m.Class("Alpha", map[string]Value{"ISA": []Value{"Beta"}, "x": "from-a"})
	_ = m.Class("Beta", map[string]Value{"ISA": []Value{"Alpha"}})

	// Must terminate despite the Alpha<->Beta cycle, and still find x via Alpha.
	got := m.C("Alpha/x", "default")
	if got != "from-a" {
		t.Errorf("C(Alpha/x) with a cycle in ISA = %v, want %q", got, "from-a")
	}
}

func TestLookup_MissingReturnsDefault(t *testing.T) {
	m := NewModel()
	_ = m.Device("host1", map[string]Value{})

	got := m.C("host1/nope", "fallback")
	if got != "fallback" {
		t.Errorf("C(host1/nope) = %v, want %q", got, "fallback")
	}
}

func TestDefine_DuplicateNameIsConfigError(t *testing.T) {
	m := NewModel()
	if err := m.Device("host1", map[string]Value{}); err != nil {
		t.Fatalf("first Device: %v", err)
	}
	if err := m.Device("host1", map[string]Value{}); err == nil {
		t.Error("expected error redefining host1, got nil")
	}
}

func TestDefine_NamePatternEnforced(t *testing.T) {
	m := NewModel()
	if err := m.Device("Host1", map[string]Value{}); err == nil {
		t.Error("expected error for device name starting uppercase, got nil")
	}
	if err := m.Class("base", map[string]Value{}); err == nil {
		t.Error("expected error for class name starting lowercase, got nil")
	}
}

func TestRealize_MergesAncestorsChildWins(t *testing.T) {
	m := NewModel()
	if err := m.Class("Base", map[string]Value{
		"gems": []Value{"a"},
		"role": "base-role",
	}); err != nil {
		t.Fatalf("Class(Base): %v", err)
	}
	if err := m.Device("host1", map[string]Value{
		"ISA":  []Value{"Base"},
		"gems": []Value{"b"},
		"role": "host-role",
	}); err != nil {
		t.Fatalf("Device(host1): %v", err)
	}

	realized := m.Realize("host1")

	role, ok := realized["role"].(string)
	if !ok || role != "host-role" {
		t.Errorf("Realize(host1)[role] = %v, want the most-specific %q", realized["role"], "host-role")
	}

	gems, ok := realized["gems"].([]Value)
	if !ok || len(gems) != 2 {
		t.Fatalf("Realize(host1)[gems] = %v, want both ancestors' elements merged", realized["gems"])
	}
}

func TestRealize_CycleTerminates(t *testing.T) {
	m := NewModel()
	_ = m.Class("Alpha", map[string]Value{"ISA": []Value{"Beta"}, "x": "from-a"})
	_ = m.Class("Beta", map[string]Value{"ISA": []Value{"Alpha"}, "y": "from-b"})

	realized := m.Realize("Alpha")
	if realized["x"] != "from-a" || realized["y"] != "from-b" {
		t.Errorf("Realize(Alpha) with a cycle in ISA = %v, want both x and y present", realized)
	}
}

func TestFlattenHash_DeepMerge(t *testing.T) {
	a := map[string]Value{
		"list": []Value{"x"},
		"nested": map[string]Value{
			"k1": "v1",
		},
		"scalar": "old",
	}
	b := map[string]Value{
		"list": []Value{"y"},
		"nested": map[string]Value{
			"k2": "v2",
		},
		"scalar": "new",
	}

	merged := FlattenHash(a, b)

	list, ok := merged["list"].([]Value)
	if !ok || len(list) != 2 {
		t.Fatalf("merged list = %v, want 2 elements", merged["list"])
	}

	nested, ok := merged["nested"].(map[string]Value)
	if !ok || nested["k1"] != "v1" || nested["k2"] != "v2" {
		t.Fatalf("merged nested = %v, want both k1 and k2", merged["nested"])
	}

	if merged["scalar"] != "new" {
		t.Errorf("merged scalar = %v, want later value %q", merged["scalar"], "new")
	}
}
