// Package driver implements the execution driver: the state machine that
// locks the host, loads the remote step index, seeds and drains the
// priority queue, and rewrites the local agent config on the way out.
package driver

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rolloutd/rolloutd/pkg/agentconfig"
	"github.com/rolloutd/rolloutd/pkg/configmodel"
	"github.com/rolloutd/rolloutd/pkg/httpclient"
	"github.com/rolloutd/rolloutd/pkg/loader"
	"github.com/rolloutd/rolloutd/pkg/queue"
	"github.com/rolloutd/rolloutd/pkg/rolloutstatus"
	"github.com/rolloutd/rolloutd/pkg/steprt"
	"github.com/rolloutd/rolloutd/pkg/store"
	"github.com/rolloutd/rolloutd/pkg/telemetry"
	"github.com/rolloutd/rolloutd/pkg/validator"
)

var autoOnly = []string{"setup", "os-detection", "modifiers", "complete"}

// Options configures one driver invocation, gathered from the local agent
// config file and CLI flags by the cmd layer before Run is called.
type Options struct {
	Host       string
	BaseURL    string
	LockPath   string
	ConfigFile string
	Comment    string

	SafeMode     bool
	ValidateMode bool
	NoStepLabels bool
	Verbosity    int

	SkipSteps []string
	Only      []string
	Force     []string

	AgentConfig *agentconfig.Config

	HTTP      *httpclient.Client
	Loader    *loader.Loader
	Store     *store.Store
	Validator *validator.Accumulator
	Tel       *telemetry.Telemetry
}

// Driver runs the LOCKED-through-EXIT state machine: one instance per
// invocation, never reused across runs.
type Driver struct {
	opts Options
	log  zerolog.Logger

	model        *configmodel.Model
	queue        *queue.Queue
	rt           *steprt.Runtime
	only         []string
	completeStep string

	runID      string
	errorCount int
}

// New returns a Driver ready to Run. The queue, config model, and step
// runtime are constructed fresh for this invocation.
func New(opts Options) *Driver {
	logger := opts.Tel.Logger.NewComponentLogger("driver")
	d := &Driver{
		opts:  opts,
		log:   logger.Zerolog(),
		model: configmodel.NewModel(),
		queue: queue.New(),
		only:  mergeOnly(opts.Only),
	}
	return d
}

func (d *Driver) mode() string {
	switch {
	case d.opts.ValidateMode:
		return "validate"
	case d.opts.SafeMode:
		return "safe_mode"
	default:
		return "apply"
	}
}

func mergeOnly(only []string) []string {
	if len(only) == 0 {
		return nil
	}
	have := make(map[string]bool, len(only))
	out := append([]string(nil), only...)
	for _, s := range only {
		have[s] = true
	}
	for _, s := range autoOnly {
		if !have[s] {
			out = append(out, s)
			have[s] = true
		}
	}
	return out
}

// Run drives the process from LOCKED through EXIT, returning the
// recoverable error count (which becomes the process exit code) and a non-nil
// error only for a fatal initialization failure (lock contention, index
// fetch failure).
func (d *Driver) Run(ctx context.Context) (int, error) {
	lock := NewLock(d.opts.LockPath)
	if err := lock.Acquire(); err != nil {
		d.log.Error().Err(err).Msg("already running")
		return 1, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			d.log.Warn().Err(err).Msg("failed to release lock")
		}
	}()

	if d.opts.Store != nil {
		id, err := d.opts.Store.StartRun(ctx, d.opts.Host, d.mode())
		if err != nil {
			d.log.Warn().Err(err).Msg("failed to record run start")
		} else {
			d.runID = id
		}
	}
	if d.runID == "" {
		d.runID = uuid.NewString()
	}
	d.log = d.log.With().Str("run_id", d.runID).Str("host", d.opts.Host).Logger()
	if d.opts.Comment != "" {
		d.log.Info().Str("comment", d.opts.Comment).Msg("run comment")
	}

	ctx = telemetry.WithRunContext(ctx, d.runID, d.opts.Host, d.mode())

	var runErr error
	defer func() {
		status := "succeeded"
		if d.errorCount > 0 || runErr != nil {
			status = "errored"
		}
		telemetry.EndRunContext(ctx, d.runID, d.mode(), status, runErr)
		if d.opts.Store != nil {
			_ = d.opts.Store.FinishRun(ctx, d.runID, mapRunStatus(status), runErr)
		}
	}()

	d.transition(ctx, "config_read", func(ctx context.Context) error { return nil })

	var entries []httpclient.Entry
	err := d.transition(ctx, "index_loaded", func(ctx context.Context) error {
		var err error
		entries, err = d.opts.HTTP.Index(ctx, "/steps/")
		return err
	})
	if err != nil {
		runErr = err
		d.errorCount++
		return d.errorCount, err
	}

	d.transition(ctx, "seed", func(ctx context.Context) error {
		d.seed(entries)
		return nil
	})

	d.rt = steprt.New(steprt.Options{
		Model:        d.model,
		Queue:        d.queue,
		HTTP:         d.opts.HTTP,
		Loader:       d.opts.Loader,
		Validator:    d.opts.Validator,
		Audit:        auditSinkFor(d.opts.Store, d.runID, ctx),
		Logger:       d.log,
		Host:         d.opts.Host,
		BaseURL:      d.opts.BaseURL,
		Index:        entries,
		SafeMode:     d.opts.SafeMode,
		ValidateMode: d.opts.ValidateMode,
		Verbosity:    d.opts.Verbosity,
		Forced:       toSet(d.opts.Force),
		NoStepLabels: d.opts.NoStepLabels,
	})

	d.transition(ctx, "run_setup", func(ctx context.Context) error {
		if payload, ok := d.queue.Pop(); ok {
			d.runEntry(ctx, payload)
		}
		return nil
	})

	d.transition(ctx, "reorder", func(ctx context.Context) error {
		d.reorder()
		return nil
	})

	d.transition(ctx, "drain", func(ctx context.Context) error {
		d.drain(ctx)
		return nil
	})

	d.transition(ctx, "config_written", func(ctx context.Context) error {
		if err := d.writeConfig(); err != nil {
			d.recordError(ctx, "", err)
		}
		return nil
	})

	exitCode := d.errorCount
	if d.opts.ValidateMode && d.opts.Validator != nil {
		exitCode = d.opts.Validator.ExitCode()
	}
	return exitCode, nil
}

func mapRunStatus(status string) store.RunStatus {
	if status == "errored" {
		return store.RunStatusFailed
	}
	return store.RunStatusCompleted
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, s := range items {
		out[s] = true
	}
	return out
}

func auditSinkFor(s *store.Store, runID string, ctx context.Context) steprt.AuditSink {
	if s == nil {
		return nil
	}
	return store.RunAuditSink{Store: s, RunID: runID, Ctx: ctx}
}

// transition wraps one state-machine transition in a span named
// rollout.driver.<state> and a log line at the driver's component logger.
func (d *Driver) transition(ctx context.Context, state string, fn func(context.Context) error) error {
	ic := telemetry.StartOperation(ctx, "rollout.driver."+state)
	d.log.Info().Str("state", state).Msg("driver state transition")
	err := fn(ic.Ctx)
	ic.End(err)
	return err
}

var seedRE = regexp.MustCompile(`^(\d+)-(.*)$`)

// seed inserts every non-directory index entry matching ^(\d+)-(.*)$ at
// priority = its numeric prefix, and remembers which filename is the
// "complete" step so a later fatal error can re-queue it at priority 0.
func (d *Driver) seed(entries []httpclient.Entry) {
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		m := seedRE.FindStringSubmatch(e.Name)
		if m == nil {
			continue
		}
		priority, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		d.queue.Insert(e.Name, priority, 0, 0)
		if configmodel.ShortStepName(e.Name) == "complete" {
			d.completeStep = e.Name
		}
	}
}

// reorder applies host/rollout/reorder_steps and host/rollout/copy_steps,
// each a sequence of (step, priority) pairs defined by the setup step.
func (d *Driver) reorder() {
	for _, v := range d.model.CSequence(d.opts.Host + "/rollout/reorder_steps") {
		if name, priority, ok := decodePair(v); ok {
			d.queue.Update(name, priority)
		}
	}
	for _, v := range d.model.CSequence(d.opts.Host + "/rollout/copy_steps") {
		if name, priority, ok := decodePair(v); ok {
			d.queue.Insert(name, priority, 0, 0)
		}
	}
}

func decodePair(v configmodel.Value) (string, int, bool) {
	pair, ok := v.([]configmodel.Value)
	if !ok || len(pair) != 2 {
		return "", 0, false
	}
	name, ok := pair[0].(string)
	if !ok {
		return "", 0, false
	}
	switch p := pair[1].(type) {
	case int:
		return name, p, true
	case int64:
		return name, int(p), true
	case float64:
		return name, int(p), true
	default:
		return "", 0, false
	}
}

// drain repeatedly pops the minimum-priority entry until the queue is
// empty, applying --skip_step/--only/i_should("*") filtering to step
// entries and invoking deferred callables unconditionally.
func (d *Driver) drain(ctx context.Context) {
	for {
		payload, ok := d.queue.Pop()
		if !ok {
			return
		}
		d.runEntry(ctx, payload)
	}
}

func (d *Driver) runEntry(ctx context.Context, payload queue.Payload) {
	if c, ok := payload.(queue.Callable); ok {
		ctx = telemetry.WithStepContext(ctx, d.runID, c.ID, 0)
		err := c.Fn()
		telemetry.EndStepContext(ctx, d.runID, c.ID, err)
		if err != nil {
			d.recordError(ctx, c.ID, err)
		}
		return
	}

	filename, ok := payload.(string)
	if !ok {
		return
	}

	if matchesAny(d.opts.SkipSteps, filename) {
		d.log.Debug().Str("step", filename).Msg("skipped by --skip_step")
		return
	}
	if len(d.only) > 0 && !matchesAny(d.only, filename) {
		d.log.Debug().Str("step", filename).Msg("skipped by --only")
		return
	}
	if !d.model.IShould(d.opts.Host, filename, "*") {
		d.log.Debug().Str("step", filename).Msg("skipped by i_should(\"*\")")
		return
	}

	ctx = telemetry.WithStepContext(ctx, d.runID, filename, 0)
	if d.opts.Store != nil {
		_ = d.opts.Store.RecordEvent(ctx, d.runID, filename, "started", "")
	}

	err := d.runStep(ctx, filename)
	telemetry.EndStepContext(ctx, d.runID, filename, err)

	if err == nil {
		if d.opts.Store != nil {
			_ = d.opts.Store.RecordEvent(ctx, d.runID, filename, "completed", "")
		}
		return
	}
	if rolloutstatus.IsControlSignal(err) {
		if d.opts.Store != nil {
			_ = d.opts.Store.RecordEvent(ctx, d.runID, filename, "completed", err.Error())
		}
		return
	}

	d.recordError(ctx, filename, err)
	if rolloutstatus.IsFatal(err) && d.completeStep != "" && d.completeStep != filename {
		d.queue.Update(d.completeStep, 0)
	}
}

func (d *Driver) runStep(ctx context.Context, filename string) error {
	source, err := d.opts.Loader.Step(ctx, filename)
	if err != nil {
		return err
	}
	if len(source) == 0 {
		return rolloutstatus.NewConfigError(filename, fmt.Errorf("empty module code"))
	}
	return d.rt.Eval(ctx, filename, string(source))
}

func (d *Driver) recordError(ctx context.Context, step string, err error) {
	d.errorCount++
	banner := "WARNING:"
	if rolloutstatus.IsFatal(err) {
		banner = "FATAL ERROR:"
	}
	d.log.Error().Str("step", step).Msg(banner + " " + err.Error())
	if d.opts.Store != nil {
		_ = d.opts.Store.RecordEvent(ctx, d.runID, step, "error", err.Error())
	}
}

func matchesAny(patterns []string, filename string) bool {
	for _, p := range patterns {
		re, err := regexp.Compile(`^\d*-?` + regexp.QuoteMeta(p) + `$`)
		if err != nil {
			continue
		}
		if re.MatchString(filename) {
			return true
		}
	}
	return false
}

// writeConfig rewrites the local agent config file with the driver's
// effective settings, so a later run observes CLI overrides that were
// only ever in memory for this invocation.
func (d *Driver) writeConfig() error {
	cfg := d.opts.AgentConfig
	if cfg == nil {
		cfg = &agentconfig.Config{}
	}
	cfg.BaseURL = d.opts.BaseURL
	cfg.Hostname = d.opts.Host
	cfg.Verbosity = d.opts.Verbosity
	return agentconfig.Save(d.opts.ConfigFile, cfg)
}
