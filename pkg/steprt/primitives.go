package steprt

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.starlark.net/starlark"

	"github.com/rolloutd/rolloutd/pkg/configmodel"
	"github.com/rolloutd/rolloutd/pkg/queue"
	"github.com/rolloutd/rolloutd/pkg/rolloutstatus"
	"github.com/rolloutd/rolloutd/pkg/validator"
)

func (rt *Runtime) bindPrimitives(predeclared starlark.StringDict, thread *starlark.Thread) {
	predeclared["c"] = starlark.NewBuiltin("c", rt.builtinC)
	predeclared["i_has"] = starlark.NewBuiltin("i_has", rt.builtinIHas)
	predeclared["i_isa"] = starlark.NewBuiltin("i_isa", rt.builtinIIsa)
	predeclared["i_should"] = starlark.NewBuiltin("i_should", rt.builtinIShould)
	predeclared["i_ip"] = starlark.NewBuiltin("i_ip", rt.builtinIIP)
	predeclared["i_immutable_file"] = starlark.NewBuiltin("i_immutable_file", rt.builtinIImmutableFile)
	predeclared["i_unsafe_file"] = starlark.NewBuiltin("i_unsafe_file", rt.builtinIUnsafeFile)
	predeclared["i_unsafe_dir"] = starlark.NewBuiltin("i_unsafe_dir", rt.builtinIUnsafeDir)

	predeclared["validate_config"] = starlark.NewBuiltin("validate_config", rt.builtinValidateConfig)
	predeclared["command"] = starlark.NewBuiltin("command", rt.builtinCommand)
	predeclared["http_file"] = starlark.NewBuiltin("http_file", rt.builtinHTTPFile)
	predeclared["queue_step"] = starlark.NewBuiltin("queue_step", rt.builtinQueueStep)
	predeclared["queue_command"] = starlark.NewBuiltin("queue_command", rt.builtinQueueCommand)
	predeclared["queue_code"] = starlark.NewBuiltin("queue_code", rt.builtinQueueCode)
	predeclared["dangerous_step"] = starlark.NewBuiltin("dangerous_step", rt.builtinDangerousStep)

	predeclared["l"] = starlark.NewBuiltin("l", rt.builtinLog(1))
	predeclared["v"] = starlark.NewBuiltin("v", rt.builtinLog(2))
	predeclared["d"] = starlark.NewBuiltin("d", rt.builtinLog(3))
	predeclared["w"] = starlark.NewBuiltin("w", rt.builtinWarn)
	predeclared["fatal"] = starlark.NewBuiltin("fatal", rt.builtinFatal)

	rt.bindConfigPrimitives(predeclared)
}

func (rt *Runtime) builtinC(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	var def starlark.Value = starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path, "default?", &def); err != nil {
		return nil, err
	}

	defGo, err := fromStarlarkValue(def)
	if err != nil {
		return nil, err
	}

	value := rt.opts.Model.C(rt.resolvePath(path), defGo)
	return toStarlarkValue(value)
}

// resolvePath prefixes a bare "key/..." path (no entity component) with
// the current run's host, so steps can write c("rollout/url") instead of
// always spelling out the host name.
func (rt *Runtime) resolvePath(path string) string {
	if strings.Contains(path, "/") {
		first := path[:strings.IndexByte(path, '/')]
		if rt.opts.Model.Entity(first) != nil {
			return path
		}
	}
	return rt.opts.Host + "/" + path
}

func (rt *Runtime) builtinIHas(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var entity, key string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "entity", &entity, "key", &key); err != nil {
		return nil, err
	}
	value, ok := rt.opts.Model.IHas(entity, key)
	if !ok {
		return starlark.None, nil
	}
	return toStarlarkValue(value)
}

func (rt *Runtime) builtinIIsa(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var entity, class string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "entity", &entity, "class", &class); err != nil {
		return nil, err
	}
	return starlark.Bool(rt.opts.Model.IIsa(entity, class)), nil
}

func (rt *Runtime) builtinIShould(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var item string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "item", &item); err != nil {
		return nil, err
	}
	return starlark.Bool(rt.opts.Model.IShould(rt.opts.Host, rt.currentStep, item)), nil
}

func (rt *Runtime) builtinIIP(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var host string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "host?", &host); err != nil {
		return nil, err
	}
	entity := rt.opts.Host
	if host != "" {
		entity = host
	}
	ip, err := rt.opts.Model.IIP(entity, "")
	if err != nil {
		return starlark.None, nil
	}
	return starlark.String(ip), nil
}

func (rt *Runtime) builtinIImmutableFile(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path); err != nil {
		return nil, err
	}
	return starlark.Bool(rt.opts.Model.IImmutableFile(rt.opts.Host, path)), nil
}

func (rt *Runtime) builtinIUnsafeFile(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path); err != nil {
		return nil, err
	}
	return starlark.Bool(rt.opts.Model.IUnsafeFile(rt.opts.Host, path)), nil
}

func (rt *Runtime) builtinIUnsafeDir(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path); err != nil {
		return nil, err
	}
	return starlark.Bool(rt.opts.Model.IUnsafeDir(rt.opts.Host, path)), nil
}

func (rt *Runtime) builtinDangerousStep(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if rt.opts.Forced[rt.currentStep] || rt.opts.Forced[configmodel.ShortStepName(rt.currentStep)] {
		return starlark.None, nil
	}
	rt.stepSafeMode = true
	return starlark.None, nil
}

func (rt *Runtime) builtinLog(level int) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if rt.opts.Verbosity < level {
			return starlark.None, nil
		}
		var text starlark.Value
		indent := 2
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "text", &text, "indent?", &indent); err != nil {
			return nil, err
		}
		rt.logLine(strings.Repeat(" ", indent) + starlarkString(text))
		return starlark.None, nil
	}
}

func (rt *Runtime) builtinWarn(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var text starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "text", &text); err != nil {
		return nil, err
	}
	rt.logLine("WARN: " + starlarkString(text))
	rt.opts.Logger.Warn().Str("step", rt.currentStep).Msg(starlarkString(text))
	return starlark.None, nil
}

func (rt *Runtime) builtinFatal(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var text starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "text", &text); err != nil {
		return nil, err
	}
	message := starlarkString(text)
	rt.logLine("FATAL: " + message)
	rt.opts.Logger.Error().Str("step", rt.currentStep).Msg(message)
	if rt.opts.Audit != nil {
		rt.opts.Audit.RecordAudit(rt.currentStep, "fatal", message, "fatal", 0)
	}
	return nil, rolloutstatus.NewConfigError(rt.currentStep, fmt.Errorf("%s", message))
}

func starlarkString(v starlark.Value) string {
	if s, ok := starlark.AsString(v); ok {
		return s
	}
	return v.String()
}

func (rt *Runtime) builtinValidateConfig(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var schemaArg starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "schema", &schemaArg); err != nil {
		return nil, err
	}

	schemaGo, err := fromStarlarkValue(schemaArg)
	if err != nil {
		return nil, err
	}

	if rt.opts.Validator != nil {
		data := rt.opts.Model.Realize(rt.opts.Host)

		// Two accepted literal shapes: a single schema (has a "type" key,
		// checked against the whole realized configuration) or the common
		// bare {config_key: schema, ...} map, checked key by key.
		if m, ok := schemaGo.(map[string]any); ok && m["type"] == nil {
			schemas := make(map[string]validator.Schema, len(m))
			for key, sub := range m {
				s, err := decodeSchema(sub)
				if err != nil {
					return nil, fmt.Errorf("validate_config: key %q: %w", key, err)
				}
				schemas[key] = s
			}
			rt.opts.Validator.ValidateKeys(rt.currentStep, schemas, data)
		} else {
			schema, err := decodeSchema(schemaGo)
			if err != nil {
				return nil, fmt.Errorf("validate_config: %w", err)
			}
			rt.opts.Validator.Validate(rt.currentStep, schema, data)
		}
	}

	if rt.opts.ValidateMode {
		return nil, rolloutstatus.NewValidationComplete(rt.currentStep)
	}
	return starlark.None, nil
}

func decodeSchema(v any) (validator.Schema, error) {
	m, ok := v.(map[string]any)
	if !ok {
		if m2, ok2 := v.(map[string]interface{}); ok2 {
			m = m2
		} else {
			return validator.Schema{}, fmt.Errorf("schema must be a mapping, got %T", v)
		}
	}

	var s validator.Schema
	if t, ok := m["type"]; ok {
		s.Type = t
	}
	if req, ok := m["required"].(bool); ok {
		s.Required = req
	}
	if help, ok := m["help"].(string); ok {
		s.Help = help
	}
	if items, ok := m["items"]; ok {
		sub, err := decodeSchema(items)
		if err != nil {
			return s, err
		}
		s.Items = &sub
	}
	if key, ok := m["key"]; ok {
		sub, err := decodeSchema(key)
		if err != nil {
			return s, err
		}
		s.Key = &sub
	}
	if value, ok := m["value"]; ok {
		sub, err := decodeSchema(value)
		if err != nil {
			return s, err
		}
		s.Value = &sub
	}
	if options, ok := m["options"].(map[string]any); ok {
		s.Options = make(map[string]validator.Schema, len(options))
		for k, v := range options {
			sub, err := decodeSchema(v)
			if err != nil {
				return s, err
			}
			s.Options[k] = sub
		}
	}
	return s, nil
}

func (rt *Runtime) builtinQueueStep(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var shortname string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "shortname", &shortname); err != nil {
		return nil, err
	}
	filename, ok := rt.resolveIndexedStep(shortname)
	if !ok {
		return nil, rolloutstatus.NewConfigError(rt.currentStep, fmt.Errorf("queue_step: no step matching %q in the loaded index", shortname))
	}
	rt.opts.Queue.Delete(filename)
	rt.opts.Queue.Insert(filename, 0, 0, 0)
	return starlark.None, nil
}

// resolveIndexedStep finds the filename in the loaded index matching
// ^(\d+-)?<shortname>$.
func (rt *Runtime) resolveIndexedStep(shortname string) (string, bool) {
	re, err := regexp.Compile(`^(\d+-)?` + regexp.QuoteMeta(shortname) + `$`)
	if err != nil {
		return "", false
	}
	for _, e := range rt.opts.Index {
		if !e.IsDir && re.MatchString(e.Name) {
			return e.Name, true
		}
	}
	return "", false
}

func (rt *Runtime) builtinQueueCommand(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var argvList *starlark.List
	priority := 998
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "argv", &argvList, "priority?", &priority); err != nil {
		return nil, err
	}

	argvGo, err := fromStarlarkValue(argvList)
	if err != nil {
		return nil, err
	}
	argvSlice, ok := argvGo.([]any)
	if !ok {
		return nil, fmt.Errorf("queue_command: argv must be a list")
	}
	argv := make([]string, len(argvSlice))
	for i, a := range argvSlice {
		argv[i] = fmt.Sprint(a)
	}

	rt.deferredSeq++
	id := fmt.Sprintf("cmd-%d", rt.deferredSeq)
	rt.opts.Queue.Insert(queue.Callable{
		ID: id,
		Fn: func() error {
			// Deferred commands drain after the queuing step finished, so
			// the run-wide safe mode applies, not the step-local override.
			if rt.opts.SafeMode {
				rt.logLine("CMD: " + strings.Join(argv, " "))
				return nil
			}
			_, err := runCommand(context.Background(), argv, CommandFlags{})
			return err
		},
	}, priority, 0, 0)
	return starlark.None, nil
}

func (rt *Runtime) builtinQueueCode(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var callable starlark.Callable
	priority := 998
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "callable", &callable, "priority?", &priority); err != nil {
		return nil, err
	}

	rt.deferredSeq++
	id := fmt.Sprintf("code-%d", rt.deferredSeq)
	rt.opts.Queue.Insert(queue.Callable{
		ID: id,
		Fn: func() error {
			_, err := starlark.Call(thread, callable, nil, nil)
			return err
		},
	}, priority, 0, 0)
	return starlark.None, nil
}
