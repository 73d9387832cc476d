package logger

import (
	"strings"

	"github.com/rs/zerolog"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

// Module routes fx's own event log through the framework logger.
var Module = fx.WithLogger(NewFxLoggerAdapter)

// FxLoggerAdapter writes fx lifecycle events to the framework logger.
// Wiring noise (provides, invokes, hooks) goes to DEBUG and failures to ERROR.
type FxLoggerAdapter struct{}

// NewFxLoggerAdapter creates a new instance of FxLoggerAdapter.
func NewFxLoggerAdapter() fxevent.Logger {
	return &FxLoggerAdapter{}
}

// LogEvent logs events from Fx.
func (l *FxLoggerAdapter) LogEvent(event fxevent.Event) {
	log := With("fx")
	switch e := event.(type) {
	case *fxevent.OnStartExecuting:
		log.Debug().Str("callee", funcName(e.FunctionName)).Str("caller", e.CallerName).Msg("OnStart hook executing")
	case *fxevent.OnStartExecuted:
		hookResult(log, "OnStart", e.FunctionName, e.Runtime.String(), e.Err)
	case *fxevent.OnStopExecuting:
		log.Debug().Str("callee", funcName(e.FunctionName)).Str("caller", e.CallerName).Msg("OnStop hook executing")
	case *fxevent.OnStopExecuted:
		hookResult(log, "OnStop", e.FunctionName, e.Runtime.String(), e.Err)
	case *fxevent.Supplied:
		if e.Err != nil {
			log.Error().Err(e.Err).Str("type", e.TypeName).Msg("supply failed")
			return
		}
		log.Debug().Str("type", e.TypeName).Msg("supplied")
	case *fxevent.Provided:
		if e.Err != nil {
			log.Error().Err(e.Err).Str("constructor", funcName(e.ConstructorName)).Msg("provide failed")
			return
		}
		for _, rtype := range e.OutputTypeNames {
			log.Debug().Str("constructor", funcName(e.ConstructorName)).Str("type", rtype).Msg("provided")
		}
	case *fxevent.Decorated:
		if e.Err != nil {
			log.Error().Err(e.Err).Str("decorator", funcName(e.DecoratorName)).Msg("decorate failed")
			return
		}
		for _, rtype := range e.OutputTypeNames {
			log.Debug().Str("decorator", funcName(e.DecoratorName)).Str("type", rtype).Msg("decorated")
		}
	case *fxevent.Invoking:
		log.Debug().Str("function", funcName(e.FunctionName)).Msg("invoking")
	case *fxevent.Invoked:
		if e.Err != nil {
			log.Error().Err(e.Err).Str("function", funcName(e.FunctionName)).Str("stack", e.Trace).Msg("invoke failed")
		}
	case *fxevent.Stopping:
		log.Info().Str("signal", strings.ToUpper(e.Signal.String())).Msg("received signal")
	case *fxevent.Stopped:
		if e.Err != nil {
			log.Error().Err(e.Err).Msg("stop failed")
		}
	case *fxevent.RollingBack:
		log.Error().Err(e.StartErr).Msg("start failed, rolling back")
	case *fxevent.RolledBack:
		if e.Err != nil {
			log.Error().Err(e.Err).Msg("rollback failed")
		}
	case *fxevent.Started:
		if e.Err != nil {
			log.Error().Err(e.Err).Msg("start failed")
			return
		}
		log.Debug().Msg("started")
	case *fxevent.LoggerInitialized:
		if e.Err != nil {
			log.Error().Err(e.Err).Msg("custom logger initialization failed")
			return
		}
		log.Debug().Str("function", funcName(e.ConstructorName)).Msg("initialized custom fxevent.Logger")
	}
}

func hookResult(log zerolog.Logger, hook, function, runtime string, err error) {
	if err != nil {
		log.Error().Err(err).Str("callee", funcName(function)).Msg(hook + " hook failed")
		return
	}
	log.Debug().Str("callee", funcName(function)).Str("runtime", runtime).Msg(hook + " hook executed")
}

// funcName strips the anonymous closure suffix (".func1") fx reports for hooks built in helpers.
func funcName(name string) string {
	if idx := strings.LastIndex(name, ".func"); idx != -1 {
		return name[:idx]
	}
	return name
}
