// Package commands implements the rolloutd CLI: a root command that drives
// one rollout invocation directly (the agent has no "verb" for its primary
// action, matching its config-management ancestry) plus a "history"
// subcommand for reading back the SQLite-backed run ledger.
package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rolloutd/rolloutd/pkg/telemetry"
)

var (
	configDir    string
	configFile   string
	hostname     string
	baseURL      string
	verboseCount int
	quiet        bool
	safeMode     bool
	validateMode bool
	skipSteps    []string
	only         []string
	force        []string
	noStepLabels bool
	stepHelp     []string
	metricsAddr  string
	historyDB    string
)

const defaultAgentName = "rolloutd"

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   defaultAgentName + " [comment words...]",
		Short: "rolloutd - Starlark-driven host configuration agent",
		Long: `rolloutd fetches an ordered set of Starlark steps from a remote step
repository, evaluates each against a per-host inheritance model, and applies
the resulting commands and file operations to the local host.

Steps are fetched lazily, evaluated in priority order, and may reorder or
requeue other steps as they run. A single exclusive lock per host keeps two
invocations from racing each other.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		RunE:    runRollout,
	}

	rootCmd.PersistentFlags().StringVar(&configDir, "configdir", "/etc/"+defaultAgentName, "directory for local config and TLS material")
	rootCmd.PersistentFlags().StringVar(&configFile, "configfile", defaultAgentName+".conf", "config file within configdir (or absolute path)")
	rootCmd.PersistentFlags().StringVar(&historyDB, "history-db", "", "path to the history SQLite database (default <configdir>/history.db)")
	rootCmd.PersistentFlags().CountVarP(&verboseCount, "verbose", "v", "increase verbosity (repeatable)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "verbosity 0, errors only")

	rootCmd.Flags().BoolVarP(&safeMode, "safe_mode", "s", false, "skip command() side effects; still log what would run")
	rootCmd.Flags().BoolVar(&validateMode, "validate", false, "run only validate_config blocks; exit code = error count")
	rootCmd.Flags().StringVarP(&baseURL, "url", "u", "", "override base_url from the local config")
	rootCmd.Flags().StringSliceVarP(&skipSteps, "skip_step", "k", nil, "skip step matching ^\\d*-?S$ (repeatable)")
	rootCmd.Flags().StringSliceVarP(&only, "only", "o", nil, "only run matching steps (repeatable)")
	rootCmd.Flags().StringSliceVarP(&force, "force", "f", nil, "allow step to run despite dangerous_step() (repeatable)")
	// -h belongs to --hostname here, so register --help ourselves with no
	// shorthand before cobra tries to claim -h for it.
	rootCmd.PersistentFlags().Bool("help", false, "show usage")
	rootCmd.Flags().StringVarP(&hostname, "hostname", "h", "", "treat H as the host root device")
	rootCmd.Flags().BoolVar(&noStepLabels, "no_step_labels", false, "suppress per-step header lines")
	rootCmd.Flags().StringSliceVarP(&stepHelp, "step_help", "H", nil, "print documentation for step(s) matching S (repeatable)")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address for the Prometheus metrics endpoint (default disabled)")

	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}

// effectiveVerbosity maps the CLI flags to the step runtime's verbosity
// levels: 0 errors only (--quiet), 1 normal (l), 2 verbose (v), 3 debug
// dumps (d).
func effectiveVerbosity() int {
	if quiet {
		return 0
	}
	return 1 + verboseCount
}

func resolveConfigFile() string {
	if filepath.IsAbs(configFile) {
		return configFile
	}
	return filepath.Join(configDir, configFile)
}

func resolveHistoryDB() string {
	if historyDB != "" {
		return historyDB
	}
	return filepath.Join(configDir, "history.db")
}

// newTelemetryConfig builds the telemetry configuration for the rollout
// run path, console-formatted to stderr and leveled from the CLI's
// verbosity flags.
func newTelemetryConfig(serviceVersion string) *telemetry.Config {
	level := "info"
	switch {
	case quiet:
		level = "error"
	case verboseCount >= 2:
		level = "debug"
	case verboseCount == 1:
		level = "info"
	}

	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = serviceVersion
	cfg.Logging.Level = level
	cfg.Logging.Output = "stderr"
	cfg.Metrics.Enabled = metricsAddr != ""
	cfg.Metrics.ListenAddress = metricsAddr
	return cfg
}

func joinComment(args []string) string {
	return strings.Join(args, " ")
}
