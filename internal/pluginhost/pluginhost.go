// Package pluginhost is the side-channel that resolves a manifest's
// "module:function" parser and release hooks into callable Go values.
// Go has no safe dynamic-class synthesis, so instead of constructing a
// class at runtime (as the distilled spec's source language does), the
// hub evaluates the plugin's own parser.go/release.go source through an
// embedded interpreter (the default, exercised by the corpus) or loads
// a prebuilt plugin.Plugin .so (the alternative, for plugins shipped as
// compiled Go modules).
package pluginhost

import (
	"fmt"
	"iter"
	"reflect"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/biohub-dev/biohub/internal/hubtypes"
	"github.com/biohub-dev/biohub/internal/uploader"
)

// ReleaseFunc resolves the dataset's release/version string from its
// downloaded data folder, matching a manifest's optional dumper.release
// hook.
type ReleaseFunc func(dataPath string) (string, error)

// Host resolves manifest-declared hook names into callable Go values.
type Host interface {
	LoadParser(path, funcName string) (uploader.Parser, error)
	LoadRelease(path, funcName string) (ReleaseFunc, error)
}

// YaegiHost evaluates the plugin's Go source directly through an
// embedded interpreter, one interp.Interpreter per loaded file so
// plugins never share global state.
type YaegiHost struct{}

func NewYaegiHost() *YaegiHost { return &YaegiHost{} }

func (h *YaegiHost) LoadParser(path, funcName string) (uploader.Parser, error) {
	fn, err := evalFunc(path, funcName)
	if err != nil {
		return nil, err
	}
	return func(dataPath string, kwargs map[string]any) (iter.Seq[hubtypes.Document], error) {
		results := fn.Call([]reflect.Value{reflect.ValueOf(dataPath), reflect.ValueOf(kwargs)})
		if len(results) != 2 {
			return nil, fmt.Errorf("pluginhost: %s must return ([]map[string]any, error)", funcName)
		}
		if errVal := results[1]; !errVal.IsNil() {
			if e, ok := errVal.Interface().(error); ok {
				return nil, e
			}
		}
		docs, ok := results[0].Interface().([]map[string]any)
		if !ok {
			return nil, fmt.Errorf("pluginhost: %s must return []map[string]any as its first result", funcName)
		}
		return func(yield func(hubtypes.Document) bool) {
			for _, d := range docs {
				if !yield(hubtypes.Document(d)) {
					return
				}
			}
		}, nil
	}, nil
}

func (h *YaegiHost) LoadRelease(path, funcName string) (ReleaseFunc, error) {
	fn, err := evalFunc(path, funcName)
	if err != nil {
		return nil, err
	}
	return func(dataPath string) (string, error) {
		results := fn.Call([]reflect.Value{reflect.ValueOf(dataPath)})
		if len(results) != 2 {
			return "", fmt.Errorf("pluginhost: %s must return (string, error)", funcName)
		}
		if errVal := results[1]; !errVal.IsNil() {
			if e, ok := errVal.Interface().(error); ok {
				return "", e
			}
		}
		s, ok := results[0].Interface().(string)
		if !ok {
			return "", fmt.Errorf("pluginhost: %s must return string as its first result", funcName)
		}
		return s, nil
	}, nil
}

func evalFunc(path, funcName string) (reflect.Value, error) {
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return reflect.Value{}, fmt.Errorf("pluginhost: register stdlib symbols: %w", err)
	}
	if _, err := i.EvalPath(path); err != nil {
		return reflect.Value{}, fmt.Errorf("pluginhost: interpret %s: %w", path, err)
	}
	fnValue, err := i.Eval(funcName)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("pluginhost: %s does not define %s: %w", path, funcName, err)
	}
	if fnValue.Kind() != reflect.Func {
		return reflect.Value{}, fmt.Errorf("pluginhost: %s in %s is not a function", funcName, path)
	}
	return fnValue, nil
}
