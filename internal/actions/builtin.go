package actions

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lighttools/internal/flash"
	"github.com/dokzlo13/lighttools/internal/host"
)

// Built-in action names.
const (
	ActionFlashStart     = "flash.start"
	ActionFlashCancelAll = "flash.cancel_all"
	ActionDevice         = "device.action"
	ActionVariableSet    = "variable.set"
)

var ErrFlashUnavailable = errors.New("flash sequencer not available")

// RegisterBuiltins registers the actions every installation has.
func RegisterBuiltins(r *Registry, defaults flash.Defaults) error {
	builtins := map[string]func(ctx *Context, args map[string]any) error{
		ActionFlashStart: func(ctx *Context, args map[string]any) error {
			if ctx.Flash() == nil {
				return ErrFlashUnavailable
			}
			opts, err := flash.ParseProps(PropsFromArgs(args), defaults)
			if err != nil {
				return err
			}
			job, err := ctx.Flash().Start(opts)
			if err != nil {
				return err
			}
			log.Info().Str("job", job.ID).Str("source", ctx.Source()).Msg("Flash started by action")
			return nil
		},
		ActionFlashCancelAll: func(ctx *Context, args map[string]any) error {
			if ctx.Flash() == nil {
				return ErrFlashUnavailable
			}
			n := ctx.Flash().CancelAll()
			log.Info().Int("jobs", n).Msg("Flash cancel-all requested")
			return nil
		},
		ActionDevice: func(ctx *Context, args map[string]any) error {
			id := argString(args, "id")
			if id == "" {
				return fmt.Errorf("%s: missing device id", ActionDevice)
			}
			kind, err := host.ParseActionKind(argString(args, "action"))
			if err != nil {
				return err
			}
			value, _ := host.ToFloat(args["value"])
			return ctx.Host().Dispatch(ctx.Ctx(), host.DeviceID(id), host.Action{Kind: kind, Value: value})
		},
		ActionVariableSet: func(ctx *Context, args map[string]any) error {
			id := argString(args, "id")
			if id == "" {
				return fmt.Errorf("%s: missing variable id", ActionVariableSet)
			}
			return ctx.Host().SetVariable(ctx.Ctx(), host.VariableID(id), argString(args, "value"))
		},
	}

	for name, fn := range builtins {
		if err := r.RegisterFunc(name, fn); err != nil {
			return err
		}
	}
	return nil
}

// PropsFromArgs flattens action arguments into a property bag. List values
// are joined with commas.
func PropsFromArgs(args map[string]any) map[string]string {
	props := make(map[string]string, len(args))
	for k := range args {
		props[k] = argString(args, k)
	}
	return props
}

func argString(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, scalarString(item))
		}
		return strings.Join(parts, ",")
	case []string:
		return strings.Join(v, ",")
	case map[string]any:
		// an empty Lua table
		if len(v) == 0 {
			return ""
		}
		return fmt.Sprint(v)
	default:
		return scalarString(v)
	}
}

func scalarString(v any) string {
	switch n := v.(type) {
	case float64:
		if n == float64(int64(n)) {
			return fmt.Sprintf("%d", int64(n))
		}
		return fmt.Sprintf("%g", n)
	default:
		return fmt.Sprint(v)
	}
}
