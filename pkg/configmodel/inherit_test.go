package configmodel

import "testing"

func TestIHas_MostSpecificWins(t *testing.T) {
	m := NewModel()
	_ = m.Class("Base", map[string]Value{"pkg_manager": "apt"})
	_ = m.Class("Mid", map[string]Value{"ISA": []Value{"Base"}, "pkg_manager": "apt-get"})
	_ = m.Device("host1", map[string]Value{"ISA": []Value{"Mid"}})

	v, ok := m.IHas("host1", "pkg_manager")
	if !ok || v != "apt-get" {
		t.Errorf("IHas(host1, pkg_manager) = %v, %v, want %q, true", v, ok, "apt-get")
	}
}

func TestIIsa_Transitive(t *testing.T) {
	m := NewModel()
	_ = m.Class("Base", map[string]Value{})
	_ = m.Class("Mid", map[string]Value{"ISA": []Value{"Base"}})
	_ = m.Device("host1", map[string]Value{"ISA": []Value{"Mid"}})

	if !m.IIsa("host1", "Base") {
		t.Error("expected host1 to transitively ISA Base")
	}
	if m.IIsa("host1", "Nope") {
		t.Error("did not expect host1 to ISA an undefined class")
	}
}

func TestIShould_SkipStepsFullAndShortName(t *testing.T) {
	m := NewModel()
	_ = m.Device("host1", map[string]Value{
		"skip_steps": []Value{"100-users:create_admin"},
	})

	if m.IShould("host1", "100-users", "create_admin") {
		t.Error("expected IShould to be false when skip_steps lists the full step name")
	}
	if !m.IShould("host1", "100-users", "other_item") {
		t.Error("expected IShould to be true for an unrelated item")
	}
}

func TestIShould_SkipStepsShortName(t *testing.T) {
	m := NewModel()
	_ = m.Device("host1", map[string]Value{
		"skip_steps": []Value{"users:create_admin"},
	})

	if m.IShould("host1", "100-users", "create_admin") {
		t.Error("expected IShould to be false when skip_steps lists the short step name")
	}
}

func TestIImmutableFile_Membership(t *testing.T) {
	m := NewModel()
	_ = m.Device("host1", map[string]Value{
		"immutable_files": []Value{"/etc/passwd"},
	})

	if !m.IImmutableFile("host1", "/etc/passwd") {
		t.Error("expected /etc/passwd to be immutable")
	}
	if m.IImmutableFile("host1", "/etc/shadow") {
		t.Error("did not expect /etc/shadow to be immutable")
	}
}

func TestIIP_FromInterfaces(t *testing.T) {
	m := NewModel()
	_ = m.Device("host1", map[string]Value{
		"interfaces": []Value{
			map[string]Value{"ip": "10.0.0.5"},
		},
	})

	ip, err := m.IIP("host1", "")
	if err != nil {
		t.Fatalf("IIP: %v", err)
	}
	if ip != "10.0.0.5" {
		t.Errorf("IIP = %q, want %q", ip, "10.0.0.5")
	}
}
