package script

import (
	"fmt"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// hostGlobals are module-system and host names scripts must not reach.
var hostGlobals = []string{
	"require",
	"module",
	"exports",
	"process",
	"global",
	"__dirname",
	"__filename",
	"Buffer",
	"setImmediate",
	"clearImmediate",
}

var frozenBuiltins = []string{
	"Object",
	"Array",
	"Function",
	"String",
	"Number",
	"Boolean",
	"Date",
	"RegExp",
	"Error",
	"Math",
	"JSON",
}

const freezeSource = `(function(obj) {
	if (obj && (typeof obj === 'object' || typeof obj === 'function')) {
		Object.freeze(obj);
		if (obj.prototype) {
			Object.freeze(obj.prototype);
		}
	}
})`

// sandbox applies the restrictions of a security level to a runtime.
type sandbox struct {
	level  string
	logger *zap.Logger
}

func (s *sandbox) apply(vm *goja.Runtime) error {
	for _, name := range hostGlobals {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}

	if err := s.installConsole(vm); err != nil {
		return err
	}

	if s.level == SecurityLevelStrict {
		deny := func(name string) func(goja.FunctionCall) goja.Value {
			return func(goja.FunctionCall) goja.Value {
				panic(vm.NewGoError(NewSecurityError(name + " is not allowed in strict security mode")))
			}
		}
		if err := vm.Set("eval", deny("eval")); err != nil {
			return fmt.Errorf("failed to restrict eval: %w", err)
		}
	}

	if s.level != SecurityLevelPermissive {
		if err := freezeBuiltins(vm); err != nil {
			return fmt.Errorf("failed to freeze built-ins: %w", err)
		}
	}
	return nil
}

func freezeBuiltins(vm *goja.Runtime) error {
	val, err := vm.RunString(freezeSource)
	if err != nil {
		return err
	}
	freeze, ok := goja.AssertFunction(val)
	if !ok {
		return fmt.Errorf("freeze helper is not a function")
	}
	for _, name := range frozenBuiltins {
		obj := vm.Get(name)
		if obj == nil || goja.IsUndefined(obj) {
			continue
		}
		if _, err := freeze(goja.Undefined(), obj); err != nil {
			return fmt.Errorf("failed to freeze %s: %w", name, err)
		}
	}
	return nil
}

// installConsole routes console.log, console.warn and console.error to the
// logger.
func (s *sandbox) installConsole(vm *goja.Runtime) error {
	console := vm.NewObject()
	write := func(log func(string, ...zap.Field)) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			args := make([]any, 0, len(call.Arguments))
			for _, a := range call.Arguments {
				args = append(args, a.Export())
			}
			log("Script console", zap.Any("args", args))
			return goja.Undefined()
		}
	}
	if err := console.Set("log", write(s.logger.Info)); err != nil {
		return err
	}
	if err := console.Set("warn", write(s.logger.Warn)); err != nil {
		return err
	}
	if err := console.Set("error", write(s.logger.Error)); err != nil {
		return err
	}
	return vm.Set("console", console)
}
