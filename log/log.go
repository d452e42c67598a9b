// Package log provides the coordinator's structured, key-value logging
// facade. It wraps zap behind a small module-tagged interface: callers
// never import zap directly, they call log.NewModuleLogger and then
// Info/Debug/Warn/Error/Trace with alternating key-value pairs.
package log

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Module identifies the subsystem a Logger is attached to, used to build
// per-package loggers.
type Module string

const (
	Repository   Module = "REPO"
	Protocol     Module = "PROTO"
	Communicator Module = "COMM"
	Task         Module = "TASK"
	CoordState   Module = "STATE"
	Timer        Module = "TIMER"
	RPCAdapter   Module = "RPC"
	GroupCert    Module = "CERT"
	Metrics      Module = "METRICS"
	CLI          Module = "CLI"
)

var (
	mu      sync.Mutex
	level   = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	base    *zap.Logger
	baseSet bool
)

// SetLevel adjusts the minimum level emitted by every Logger created before
// or after this call, since all share the same underlying atomic level.
func SetLevel(l zapcore.Level) {
	level.SetLevel(l)
}

func baseLogger() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if baseSet {
		return base
	}
	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.Lock(os.Stderr), level)
	base = zap.New(core)
	baseSet = true
	return base
}

// Logger is the key-value logging handle returned by NewModuleLogger. It is
// safe for concurrent use.
type Logger struct {
	z    *zap.SugaredLogger
	mod  Module
	ctx  []interface{}
}

// NewModuleLogger builds a Logger tagged with the given module name.
func NewModuleLogger(mod Module) *Logger {
	return &Logger{z: baseLogger().Sugar().With("module", string(mod)), mod: mod}
}

// NewWith returns a derived Logger carrying additional fixed key-value
// pairs, e.g. logger.NewWith("task", id).
func (l *Logger) NewWith(kv ...interface{}) *Logger {
	return &Logger{z: l.z.With(kv...), mod: l.mod, ctx: append(append([]interface{}{}, l.ctx...), kv...)}
}

func (l *Logger) Trace(msg string, kv ...interface{}) { l.z.Debugw(msg, kv...) }
func (l *Logger) Debug(msg string, kv ...interface{}) { l.z.Debugw(msg, kv...) }
func (l *Logger) Info(msg string, kv ...interface{})  { l.z.Infow(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...interface{})  { l.z.Warnw(msg, kv...) }
func (l *Logger) Error(msg string, kv ...interface{}) { l.z.Errorw(msg, kv...) }
func (l *Logger) Crit(msg string, kv ...interface{}) {
	l.z.Errorw(msg, kv...)
	os.Exit(1)
}
