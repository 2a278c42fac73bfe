package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rolloutd/rolloutd/pkg/agentconfig"
	"github.com/rolloutd/rolloutd/pkg/driver"
	"github.com/rolloutd/rolloutd/pkg/httpclient"
	"github.com/rolloutd/rolloutd/pkg/loader"
	"github.com/rolloutd/rolloutd/pkg/rolloutstatus"
	"github.com/rolloutd/rolloutd/pkg/store"
	"github.com/rolloutd/rolloutd/pkg/telemetry"
	"github.com/rolloutd/rolloutd/pkg/validator"
)

// runRollout is the root command's RunE: it assembles one driver
// invocation's dependencies from the local agent config and CLI flags,
// runs it, and maps the result to the process exit code (0 on success,
// otherwise the recoverable error count).
func runRollout(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if validateMode {
		safeMode = true
		noStepLabels = true
	}

	tel, err := telemetry.NewTelemetry(newTelemetryConfig(cmd.Root().Version))
	if err != nil {
		return fmt.Errorf("configure telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()
	if tel.Config.Metrics.Enabled {
		if err := tel.StartMetricsServer(); err != nil {
			zl := tel.Logger.Zerolog()
			zl.Warn().Err(err).Msg("failed to start metrics server")
		}
	}
	ctx = tel.WithContext(ctx)
	log := tel.Logger.NewComponentLogger("cmd").Zerolog()

	cfgPath := resolveConfigFile()
	agentCfg, err := agentconfig.Load(cfgPath)
	if err != nil {
		if os.IsNotExist(errUnwrapLocalFile(err)) {
			agentCfg = &agentconfig.Config{}
		} else {
			return err
		}
	}

	effectiveBaseURL := agentCfg.BaseURL
	if baseURL != "" {
		effectiveBaseURL = baseURL
	}

	host := resolveHost(agentCfg.Hostname)

	tlsMaterial := httpclient.TLSMaterial{
		ClientCertificate:    hostCertOverride(host, ".crt", resolveCertPath(agentCfg.ClientCertificate)),
		ClientCertificateKey: hostCertOverride(host, ".key", resolveCertPath(agentCfg.ClientCertificateKey)),
		CACertificate:        resolveCertPath(agentCfg.CACertificate),
	}
	client, err := httpclient.New(effectiveBaseURL, tlsMaterial, 30*time.Second)
	if err != nil {
		return err
	}

	if len(stepHelp) > 0 {
		return runStepHelp(ctx, client, stepHelp)
	}

	// Watch the TLS material on disk for rotation (a new cert/key/CA
	// bundle written by an external process) for the lifetime of this
	// run, alongside the signal-handling goroutine cmd/rolloutd/main.go
	// already runs. Reload swaps the client's transport in place so an
	// in-flight run picks up rotated credentials on its next fetch.
	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	go func() {
		if err := httpclient.WatchTLSMaterial(watchCtx, log, tlsMaterial, func() error {
			return client.Reload(tlsMaterial)
		}); err != nil {
			log.Warn().Err(err).Msg("TLS material watcher exited")
		}
	}()

	ld := loader.New(client, filepath.Join(configDir, "cache"))

	_, validatorAvailable, err := ld.RemoteRequire(ctx, "validator", true)
	if err != nil {
		log.Warn().Err(err).Msg("failed to probe validator module")
	}
	registry := validator.NewRegistry()
	accumulator := validator.NewAccumulator(registry, log, validatorAvailable)

	historyStore, err := openHistoryStore(ctx, resolveHistoryDB())
	if err != nil {
		log.Warn().Err(err).Msg("history store unavailable, continuing without run history")
		historyStore = nil
	}
	if historyStore != nil {
		defer historyStore.Close()
	}

	opts := driver.Options{
		Host:         host,
		BaseURL:      effectiveBaseURL,
		LockPath:     lockPath(),
		ConfigFile:   cfgPath,
		Comment:      joinComment(args),
		SafeMode:     safeMode,
		ValidateMode: validateMode,
		NoStepLabels: noStepLabels,
		Verbosity:    effectiveVerbosity(),
		SkipSteps:    skipSteps,
		Only:         only,
		Force:        force,
		AgentConfig:  agentCfg,
		HTTP:         client,
		Loader:       ld,
		Store:        historyStore,
		Validator:    accumulator,
		Tel:          tel,
	}

	d := driver.New(opts)
	exitCode, err := d.Run(ctx)
	if err != nil {
		return err
	}

	if validateMode {
		for _, verr := range accumulator.Result().Errors {
			fmt.Fprintln(os.Stderr, verr)
		}
	}

	if exitCode != 0 {
		os.Exit(exitCode)
	}
	return nil
}

// resolveHost returns, in order of precedence: the --hostname flag, the
// configured hostname, or the local short hostname with any domain
// suffix stripped.
func resolveHost(configured string) string {
	if hostname != "" {
		return hostname
	}
	if configured != "" {
		return configured
	}
	h, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	if i := strings.IndexByte(h, '.'); i >= 0 {
		h = h[:i]
	}
	return h
}

// resolveCertPath resolves a TLS material path relative to configDir,
// leaving absolute paths and the empty string untouched.
func resolveCertPath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(configDir, path)
}

// hostCertOverride prefers <configdir>/certs/<host><ext> over the
// configured default when it exists, so a fleet can drop per-host client
// certificates into the configdir without editing each host's config file.
func hostCertOverride(host, ext, fallback string) string {
	override := filepath.Join(configDir, "certs", host+ext)
	if _, err := os.Stat(override); err == nil {
		return override
	}
	return fallback
}

func lockPath() string {
	return filepath.Join("/var/run", defaultAgentName+".lock")
}

func openHistoryStore(ctx context.Context, path string) (*store.Store, error) {
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, rolloutstatus.NewLocalFileError("create history db directory", err)
	}
	s, err := store.New(store.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// errUnwrapLocalFile recovers the underlying *os.PathError from a
// RolloutError so a missing config file on first run can be distinguished
// from a genuine parse/validation failure.
func errUnwrapLocalFile(err error) error {
	var rerr *rolloutstatus.RolloutError
	if errors.As(err, &rerr) && rerr.Err != nil {
		return rerr.Err
	}
	return err
}
