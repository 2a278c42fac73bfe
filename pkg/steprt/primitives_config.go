package steprt

import (
	"context"
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/rolloutd/rolloutd/pkg/configmodel"
	"github.com/rolloutd/rolloutd/pkg/rolloutstatus"
)

// bindConfigPrimitives adds the definition-surface builtins
// (device, class, network, inherits) and remote_require, which are only
// ever called from the setup step, but share the predeclared dict of
// every step so a later step can still reference them if it chooses to.
func (rt *Runtime) bindConfigPrimitives(predeclared starlark.StringDict) {
	predeclared["device"] = starlark.NewBuiltin("device", rt.builtinDevice)
	predeclared["class"] = starlark.NewBuiltin("class", rt.builtinClass)
	predeclared["network"] = starlark.NewBuiltin("network", rt.builtinNetwork)
	predeclared["inherits"] = starlark.NewBuiltin("inherits", rt.builtinInherits)
	predeclared["remote_require"] = starlark.NewBuiltin("remote_require", rt.builtinRemoteRequire)
}

func decodeBlock(v starlark.Value) (map[string]configmodel.Value, error) {
	goVal, err := fromStarlarkValue(v)
	if err != nil {
		return nil, err
	}
	block, ok := goVal.(map[string]configmodel.Value)
	if !ok {
		return nil, fmt.Errorf("block must be a dict")
	}
	return block, nil
}

func (rt *Runtime) builtinDevice(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var blockVal *starlark.Dict
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "block", &blockVal); err != nil {
		return nil, err
	}
	block, err := decodeBlock(blockVal)
	if err != nil {
		return nil, fmt.Errorf("device: %w", err)
	}
	if err := rt.opts.Model.Device(name, block); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func (rt *Runtime) builtinClass(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var blockVal *starlark.Dict
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "block", &blockVal); err != nil {
		return nil, err
	}
	block, err := decodeBlock(blockVal)
	if err != nil {
		return nil, fmt.Errorf("class: %w", err)
	}
	if err := rt.opts.Model.Class(name, block); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func (rt *Runtime) builtinNetwork(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("network: requires a name")
	}
	name, ok := starlark.AsString(args[0])
	if !ok {
		return nil, fmt.Errorf("network: name must be a string")
	}
	members := make([]string, 0, len(args)-1)
	for _, a := range args[1:] {
		members = append(members, starlarkString(a))
	}
	rt.opts.Model.Network(name, members...)
	return starlark.None, nil
}

func (rt *Runtime) builtinInherits(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	parents := make([]string, 0, len(args))
	for _, a := range args {
		parents = append(parents, starlarkString(a))
	}
	vals := rt.opts.Model.Inherits(parents...)
	list := make([]starlark.Value, len(vals))
	for i, v := range vals {
		list[i] = starlark.String(v.(string))
	}
	return starlark.NewList(list), nil
}

// builtinRemoteRequire fetches and evaluates a shared library module once
// per run, exposing its top-level globals as a struct (the step's handle
// on the module, the way Starlark's own load() exposes a file's globals).
// Optional modules that fail to load return False instead of raising.
func (rt *Runtime) builtinRemoteRequire(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var module string
	optional := false
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "module", &module, "optional?", &optional); err != nil {
		return nil, err
	}

	if rt.opts.Loader == nil {
		return starlark.Bool(false), nil
	}

	source, ok, err := rt.opts.Loader.RemoteRequire(context.Background(), module, optional)
	if err != nil {
		return nil, err
	}
	if !ok {
		return starlark.Bool(false), nil
	}

	modPredeclared := starlark.StringDict{"struct": starlarkstruct.Default}
	rt.bindPrimitives(modPredeclared, thread)
	rt.bindConfigPrimitives(modPredeclared)

	globals, err := starlark.ExecFile(thread, module+".star", source, modPredeclared)
	if err != nil {
		return nil, rolloutstatus.NewConfigError(module, err)
	}
	return starlarkstruct.FromStringDict(starlarkstruct.Default, globals), nil
}
