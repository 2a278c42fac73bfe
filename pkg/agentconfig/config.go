// Package agentconfig parses, validates, and rewrites the local agent
// configuration file: a flat key = value text format holding the step
// repository's base URL, TLS material paths, and other operational
// settings that persist across runs.
package agentconfig

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/rolloutd/rolloutd/pkg/rolloutstatus"
)

// Config is the decoded, validated form of the local agent config file.
type Config struct {
	// BaseURL is the step repository's root URL.
	BaseURL string `validate:"required,url"`

	// ClientCertificate, ClientCertificateKey, and CACertificate locate
	// the mutual-TLS material used to authenticate to the step
	// repository, resolved relative to the configdir unless absolute.
	ClientCertificate    string `validate:"omitempty,file"`
	ClientCertificateKey string `validate:"omitempty,file"`
	CACertificate        string `validate:"omitempty,file"`

	// Hostname overrides the detected host root device name.
	Hostname string `validate:"omitempty,hostname_rfc1123"`

	// Verbosity is a log verbosity (0-3) kept in the file and written back
	// with it. The verbosity a run uses comes from the -v/-q flags alone;
	// this field does not change it.
	Verbosity int `validate:"min=0,max=3"`

	// HistoryDBPath is kept in the file and written back with it. The
	// history store opens --history-db or <configdir>/history.db; this
	// field does not change that location.
	HistoryDBPath string `validate:"omitempty"`
}

var validate = validator.New()

// fieldOrder fixes the on-disk key order so a rewritten file is stable
// across runs instead of reflecting Go's randomized map iteration.
var fieldOrder = []string{
	"base_url",
	"client_certificate",
	"client_certificate_key",
	"ca_certificate",
	"hostname",
	"verbosity",
	"history_db_path",
}

func keyToValue(c *Config) map[string]string {
	return map[string]string{
		"base_url":               c.BaseURL,
		"client_certificate":     c.ClientCertificate,
		"client_certificate_key": c.ClientCertificateKey,
		"ca_certificate":         c.CACertificate,
		"hostname":               c.Hostname,
		"verbosity":              strconv.Itoa(c.Verbosity),
		"history_db_path":        c.HistoryDBPath,
	}
}

// Load reads and validates the config file at path. Blank lines and lines
// starting with "#" are ignored; every other line must be "key = value".
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, rolloutstatus.NewLocalFileError("open "+path, err)
	}
	defer f.Close()

	raw := make(map[string]string)
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, rolloutstatus.NewConfigError(path, fmt.Errorf("line %d: expected key = value, got %q", lineNo, line))
		}
		raw[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, rolloutstatus.NewLocalFileError("read "+path, err)
	}

	verbosity := 0
	if v, ok := raw["verbosity"]; ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, rolloutstatus.NewConfigError(path, fmt.Errorf("verbosity: %w", err))
		}
		verbosity = n
	}

	cfg := &Config{
		BaseURL:              raw["base_url"],
		ClientCertificate:    raw["client_certificate"],
		ClientCertificateKey: raw["client_certificate_key"],
		CACertificate:        raw["ca_certificate"],
		Hostname:             raw["hostname"],
		Verbosity:            verbosity,
		HistoryDBPath:        raw["history_db_path"],
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, rolloutstatus.NewConfigError(path, err)
	}
	return cfg, nil
}

// Save rewrites the config file at path, overwriting it atomically via a
// temp file and rename.
func Save(path string, cfg *Config) error {
	values := keyToValue(cfg)

	var b strings.Builder
	for _, key := range fieldOrder {
		value := values[key]
		if value == "" {
			continue
		}
		fmt.Fprintf(&b, "%s = %s\n", key, value)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o600); err != nil {
		return rolloutstatus.NewLocalFileError("write "+tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return rolloutstatus.NewLocalFileError("rename into "+path, err)
	}
	return nil
}
