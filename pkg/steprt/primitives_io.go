package steprt

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"go.starlark.net/starlark"

	"github.com/rolloutd/rolloutd/pkg/rolloutstatus"
)

func (rt *Runtime) builtinCommand(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var argvVal starlark.Value
	var flagsVal *starlark.Dict
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "argv", &argvVal, "flags?", &flagsVal); err != nil {
		return nil, err
	}

	argv, err := decodeArgv(argvVal)
	if err != nil {
		return nil, fmt.Errorf("command: %w", err)
	}
	flags := decodeCommandFlags(flagsVal)

	if rt.stepSafeMode {
		rt.logLine("CMD: " + strings.Join(argv, " "))
		if rt.opts.Audit != nil {
			rt.opts.Audit.RecordAudit(rt.currentStep, "command", strings.Join(argv, " "), "safe_mode", 0)
		}
		return starlark.MakeInt(0), nil
	}

	start := time.Now()
	result, err := runCommand(context.Background(), argv, flags)
	duration := time.Since(start)

	if rt.opts.Audit != nil {
		outcome := "ok"
		if err != nil || result.ExitCode != 0 || result.Signal != 0 {
			outcome = "error"
		}
		rt.opts.Audit.RecordAudit(rt.currentStep, "command", strings.Join(argv, " "), outcome, duration)
	}
	if err != nil {
		return nil, rolloutstatus.NewLocalFileError("run "+argv[0], err)
	}

	rt.logCommandOutcome(argv, flags, result)
	return starlark.MakeInt(result.Status), nil
}

func (rt *Runtime) logCommandOutcome(argv []string, flags CommandFlags, result CommandResult) {
	if result.TimedOut {
		rt.logLine("[timeout] " + strings.Join(argv, " "))
		return
	}
	if result.ExitCode != 0 || result.Signal != 0 {
		msg := flags.Failure
		if msg == "" {
			msg = strings.Join(argv, " ") + " failed"
		}
		if result.Signal != 0 {
			rt.logLine(fmt.Sprintf("%s (signal %d)", msg, result.Signal))
		} else {
			rt.logLine(fmt.Sprintf("%s (exit %d)", msg, result.ExitCode))
		}
		return
	}
	if flags.Intro == "" {
		msg := flags.Success
		if msg == "" {
			msg = strings.Join(argv, " ") + " ok"
		}
		rt.logLine(msg)
	}
}

func decodeArgv(v starlark.Value) ([]string, error) {
	goVal, err := fromStarlarkValue(v)
	if err != nil {
		return nil, err
	}
	list, ok := goVal.([]any)
	if !ok {
		if s, ok := goVal.(string); ok {
			return []string{s}, nil
		}
		return nil, fmt.Errorf("argv must be a list or string")
	}
	argv := make([]string, len(list))
	for i, item := range list {
		argv[i] = fmt.Sprint(item)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("argv must not be empty")
	}
	return argv, nil
}

func decodeCommandFlags(d *starlark.Dict) CommandFlags {
	var flags CommandFlags
	if d == nil {
		return flags
	}
	if v, ok, _ := d.Get(starlark.String("intro")); ok {
		flags.Intro = starlarkString(v)
	}
	if v, ok, _ := d.Get(starlark.String("success")); ok {
		flags.Success = starlarkString(v)
	}
	if v, ok, _ := d.Get(starlark.String("failure")); ok {
		flags.Failure = starlarkString(v)
	}
	if v, ok, _ := d.Get(starlark.String("timeout")); ok {
		if i, ok := v.(starlark.Int); ok {
			if n, ok := i.Int64(); ok {
				flags.Timeout = time.Duration(n) * time.Second
			}
		}
	}
	if v, ok, _ := d.Get(starlark.String("uid")); ok {
		flags.UID = starlarkString(v)
	}
	if v, ok, _ := d.Get(starlark.String("run_as")); ok {
		flags.RunAs = starlarkString(v)
	}
	return flags
}

func (rt *Runtime) builtinHTTPFile(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var url, dest string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "url", &url, "dest?", &dest); err != nil {
		return nil, err
	}

	fetchPath := url
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		fetchPath = path.Join("/", url)
	}
	if dest == "" {
		dest = path.Base(url)
	}

	if rt.stepSafeMode {
		rt.logLine("GET: " + url + " -> " + dest)
		if rt.opts.Audit != nil {
			rt.opts.Audit.RecordAudit(rt.currentStep, "http_file", url+" -> "+dest, "safe_mode", 0)
		}
		return starlark.String(dest), nil
	}

	start := time.Now()
	err := rt.opts.HTTP.FetchToFile(context.Background(), fetchPath, dest)
	duration := time.Since(start)

	if rt.opts.Audit != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		rt.opts.Audit.RecordAudit(rt.currentStep, "http_file", url+" -> "+dest, outcome, duration)
	}
	if err != nil {
		return nil, err
	}
	return starlark.String(dest), nil
}
