package agentconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfigFile(t, `
# comment line
base_url = https://repo.example.com

hostname = host1
verbosity = 2
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BaseURL != "https://repo.example.com" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.Hostname != "host1" {
		t.Errorf("Hostname = %q", cfg.Hostname)
	}
	if cfg.Verbosity != 2 {
		t.Errorf("Verbosity = %d, want 2", cfg.Verbosity)
	}
}

func TestLoad_MissingRequiredBaseURL(t *testing.T) {
	path := writeConfigFile(t, `hostname = host1`)
	if _, err := Load(path); err == nil {
		t.Error("expected an error when base_url is missing")
	}
}

func TestLoad_MalformedLine(t *testing.T) {
	path := writeConfigFile(t, "not-a-key-value-line\n")
	if _, err := Load(path); err == nil {
		t.Error("expected an error for a line without '='")
	}
}

func TestSave_RoundTripsStableOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	cfg := &Config{BaseURL: "https://repo.example.com", Hostname: "host1", Verbosity: 1}

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "base_url = https://repo.example.com") {
		t.Errorf("saved config = %q, missing base_url line", content)
	}
	b, h, v := strings.Index(content, "base_url ="), strings.Index(content, "hostname ="), strings.Index(content, "verbosity =")
	if b < 0 || b >= h || h >= v {
		t.Errorf("saved config = %q, want keys in base_url, hostname, verbosity order", content)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load after Save: %v", err)
	}
	if reloaded.BaseURL != cfg.BaseURL || reloaded.Hostname != cfg.Hostname {
		t.Errorf("reloaded = %+v, want %+v", reloaded, cfg)
	}
}
