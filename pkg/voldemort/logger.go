package voldemort

import "go.uber.org/zap"

// LogLevel selects how verbose a Logger's output is.
type LogLevel int8

const (
	LogLevelNone LogLevel = iota
	LogLevelError
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelError:
		return "ERROR"
	case LogLevelWarn:
		return "WARN"
	case LogLevelInfo:
		return "INFO"
	case LogLevelDebug:
		return "DEBUG"
	default:
		return "NONE"
	}
}

// Logger is the injectable diagnostic sink: the library never prints to
// stdout directly, only through this interface, and there is no
// package-level default instance — callers construct one (or get
// NewLogger()'s zap-backed default) and pass it through ClusterOptions.
type Logger interface {
	Log(level LogLevel, msg string, keyvals ...interface{})
}

// nopLogger discards everything; used when the caller explicitly opts out
// of logging by passing NopLogger() as ClusterOptions.Logger.
type nopLogger struct{}

func (nopLogger) Log(LogLevel, string, ...interface{}) {}

// NopLogger returns a Logger that discards all output.
func NopLogger() Logger { return nopLogger{} }

// zapLogger adapts a zap.SugaredLogger to the Logger interface.
type zapLogger struct {
	sugar *zap.SugaredLogger
	level LogLevel
}

// NewLogger constructs the default Logger, a zap production logger writing
// structured key/value lines to stdout, filtered to level (inclusive).
func NewLogger(level LogLevel) (Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stdout"}
	// Filtering happens in Log; zap itself passes every level through.
	cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	zl, err := cfg.Build()
	if err != nil {
		return nil, WrapServerError(err, "constructing default logger")
	}
	return &zapLogger{sugar: zl.Sugar(), level: level}, nil
}

func (l *zapLogger) Log(level LogLevel, msg string, keyvals ...interface{}) {
	if level > l.level {
		return
	}
	switch level {
	case LogLevelError:
		l.sugar.Errorw(msg, keyvals...)
	case LogLevelWarn:
		l.sugar.Warnw(msg, keyvals...)
	case LogLevelInfo:
		l.sugar.Infow(msg, keyvals...)
	case LogLevelDebug:
		l.sugar.Debugw(msg, keyvals...)
	}
}
