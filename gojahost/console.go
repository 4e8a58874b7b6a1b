package gojahost

import (
	"strings"

	"github.com/dop251/goja"
	"github.com/joeycumines/logiface"
)

var consoleLevels = map[string]logiface.Level{
	`log`:   logiface.LevelInformational,
	`info`:  logiface.LevelInformational,
	`warn`:  logiface.LevelWarning,
	`error`: logiface.LevelError,
	`debug`: logiface.LevelDebug,
}

// console builds the console object, which writes to the logger.
func (h *Host) console() *goja.Object {
	console := h.runtime.NewObject()
	for name, level := range consoleLevels {
		_ = console.Set(name, func(call goja.FunctionCall) goja.Value {
			h.logger.Build(level).
				Str(`source`, `console`).
				Str(`method`, name).
				Log(formatArgs(call.Arguments))
			return goja.Undefined()
		})
	}
	return console
}

func formatArgs(args []goja.Value) string {
	var b strings.Builder
	for i, arg := range args {
		if i != 0 {
			b.WriteByte(' ')
		}
		if arg == nil {
			b.WriteString(`undefined`)
			continue
		}
		b.WriteString(arg.String())
	}
	return b.String()
}
