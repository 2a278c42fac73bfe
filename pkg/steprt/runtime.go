package steprt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/rs/zerolog"

	"github.com/rolloutd/rolloutd/pkg/configmodel"
	"github.com/rolloutd/rolloutd/pkg/httpclient"
	"github.com/rolloutd/rolloutd/pkg/loader"
	"github.com/rolloutd/rolloutd/pkg/queue"
	"github.com/rolloutd/rolloutd/pkg/rolloutstatus"
	"github.com/rolloutd/rolloutd/pkg/validator"
)

// AuditSink receives a record for every side-effecting primitive call
// (command, http_file) so the caller can persist it without steprt
// depending on a concrete store implementation.
type AuditSink interface {
	RecordAudit(step, kind, detail, outcome string, duration time.Duration)
}

// Options configures a Runtime for one rollout invocation.
type Options struct {
	Model        *configmodel.Model
	Queue        *queue.Queue
	HTTP         *httpclient.Client
	Loader       *loader.Loader
	Validator    *validator.Accumulator
	Audit        AuditSink
	Logger       zerolog.Logger
	Host         string // the entity "c" lookups resolve relative to
	BaseURL      string
	Index        []httpclient.Entry // the loaded step index, for queue_step's shortname resolution
	SafeMode     bool
	ValidateMode bool
	Verbosity    int
	Forced       map[string]bool // step names allowed to run despite dangerous_step()
	NoStepLabels bool
	Timeout      time.Duration
}

// Runtime evaluates one step's Starlark source at a time against a shared
// configuration model, queue, and HTTP client.
type Runtime struct {
	opts Options

	currentStep  string
	stepPrinted  bool
	stepSafeMode bool // per-step override set by dangerous_step()
	runLog       bytes.Buffer
	deferredSeq  int
}

// New returns a Runtime ready to evaluate steps.
func New(opts Options) *Runtime {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Forced == nil {
		opts.Forced = make(map[string]bool)
	}
	return &Runtime{opts: opts}
}

// RunLog returns everything logged across every step evaluated so far.
func (rt *Runtime) RunLog() string { return rt.runLog.String() }

// Eval executes a step's Starlark source. name is used for step-name
// printing, skip_steps matching, and queue_step's short-name resolution.
func (rt *Runtime) Eval(ctx context.Context, name, source string) error {
	rt.currentStep = name
	rt.stepPrinted = false
	rt.stepSafeMode = rt.opts.SafeMode

	evalCtx, cancel := context.WithTimeout(ctx, rt.opts.Timeout)
	defer cancel()

	resultCh := make(chan error, 1)
	go func() {
		resultCh <- rt.evalSync(name, source)
	}()

	select {
	case <-evalCtx.Done():
		return rolloutstatus.NewConfigError(name, fmt.Errorf("step evaluation timed out after %s", rt.opts.Timeout))
	case err := <-resultCh:
		return err
	}
}

func (rt *Runtime) evalSync(name, source string) error {
	thread := &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			rt.logLine(msg)
		},
	}

	predeclared := starlark.StringDict{
		"struct": starlarkstruct.Default,
	}
	rt.bindPrimitives(predeclared, thread)

	_, err := starlark.ExecFile(thread, name+".star", source, predeclared)
	if err != nil {
		// Errors raised by primitive builtins (HttpError from http_file,
		// LocalFileError from command, the control signals) arrive wrapped
		// in a *starlark.EvalError; unwrap so the driver's per-kind switch
		// still sees them.
		var rerr *rolloutstatus.RolloutError
		if errors.As(err, &rerr) {
			return rerr.WithStep(name)
		}
		if evalErr, ok := err.(*starlark.EvalError); ok {
			return rolloutstatus.NewConfigError(name, fmt.Errorf("%s", evalErr.Backtrace()))
		}
		return rolloutstatus.NewConfigError(name, err)
	}
	return nil
}

// announce prints the step name exactly once, lazily, before the first
// log line of the step.
func (rt *Runtime) announce() {
	if rt.stepPrinted {
		return
	}
	rt.stepPrinted = true
	if !rt.opts.NoStepLabels {
		rt.runLog.WriteString("=== " + rt.currentStep + " ===\n")
	}
	rt.opts.Logger.Info().Str("step", rt.currentStep).Msg("running step")
}

func (rt *Runtime) logLine(msg string) {
	rt.announce()
	rt.runLog.WriteString(msg)
	rt.runLog.WriteString("\n")
}
