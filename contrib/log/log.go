// Package log is a small structured-logging façade over zap. It mirrors the
// call shape used across the pipeline (Debugf/Infof/Warnf/Errorf, With,
// Context, level filtering) so every package logs the same way regardless
// of which concrete backend is wired in.
package log

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/omalloc/reqqueue/internal/constants"
)

type Level int8

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// Logger is the minimal structured-log sink every component depends on.
type Logger interface {
	Log(level Level, keyvals ...any)
}

// Config controls rotation and verbosity of the default zap-backed logger.
type Config struct {
	Level      string
	Path       string
	Caller     bool
	MaxSize    int
	MaxAge     int
	MaxBackups int
	Compress   bool
}

type zapLogger struct {
	z *zap.SugaredLogger
}

// New builds a Logger from Config. An empty Path logs to stderr only.
func New(c Config) Logger {
	level := parseLevel(c.Level)

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	writers := []zapcore.WriteSyncer{zapcore.AddSync(os.Stderr)}
	if c.Path != "" {
		writers = append(writers, zapcore.AddSync(&lumberjack.Logger{
			Filename:   c.Path,
			MaxSize:    orDefault(c.MaxSize, 100),
			MaxAge:     orDefault(c.MaxAge, 7),
			MaxBackups: orDefault(c.MaxBackups, 5),
			Compress:   c.Compress,
		}))
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.NewMultiWriteSyncer(writers...), toZapLevel(level))

	opts := []zap.Option{zap.Fields(zap.String("app", constants.AppName))}
	if c.Caller {
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(2))
	}

	return &zapLogger{z: zap.New(core, opts...).Sugar()}
}

func (l *zapLogger) Log(level Level, keyvals ...any) {
	switch level {
	case LevelDebug:
		l.z.Debugw("", keyvals...)
	case LevelInfo:
		l.z.Infow("", keyvals...)
	case LevelWarn:
		l.z.Warnw("", keyvals...)
	case LevelError:
		l.z.Errorw("", keyvals...)
	case LevelFatal:
		l.z.Fatalw("", keyvals...)
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func parseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

func toZapLevel(l Level) zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	case LevelFatal:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// NewFilter wraps a Logger so only levels >= min are forwarded, mirroring
// the pebble-logger filter pattern the teacher applies to noisy backends.
func NewFilter(l Logger, min Level) Logger {
	return filterLogger{next: l, min: min}
}

type filterLogger struct {
	next Logger
	min  Level
}

func (f filterLogger) Log(level Level, keyvals ...any) {
	if level < f.min {
		return
	}
	f.next.Log(level, keyvals...)
}

var defaultLogger Logger = New(Config{Level: "info"})

func SetLogger(l Logger)  { defaultLogger = l }
func GetLogger() Logger   { return defaultLogger }
func Enabled(l Level) bool { return true }

// Helper wraps a Logger with printf-style convenience methods and an
// optional static key/value prefix (set via With).
type Helper struct {
	logger Logger
	prefix []any
}

func NewHelper(l Logger) *Helper { return &Helper{logger: l} }

func With(l Logger, keyvals ...any) *Helper { return &Helper{logger: l, prefix: keyvals} }

func (h *Helper) kv(msg string, keyvals ...any) []any {
	out := make([]any, 0, len(h.prefix)+len(keyvals)+2)
	out = append(out, "msg", msg)
	out = append(out, h.prefix...)
	out = append(out, keyvals...)
	return out
}

func (h *Helper) Debugf(format string, args ...any) { h.logger.Log(LevelDebug, h.kv(fmt.Sprintf(format, args...))...) }
func (h *Helper) Infof(format string, args ...any)  { h.logger.Log(LevelInfo, h.kv(fmt.Sprintf(format, args...))...) }
func (h *Helper) Warnf(format string, args ...any)  { h.logger.Log(LevelWarn, h.kv(fmt.Sprintf(format, args...))...) }
func (h *Helper) Errorf(format string, args ...any) { h.logger.Log(LevelError, h.kv(fmt.Sprintf(format, args...))...) }

func (h *Helper) Debug(args ...any) { h.logger.Log(LevelDebug, h.kv(fmt.Sprint(args...))...) }
func (h *Helper) Info(args ...any)  { h.logger.Log(LevelInfo, h.kv(fmt.Sprint(args...))...) }
func (h *Helper) Warn(args ...any)  { h.logger.Log(LevelWarn, h.kv(fmt.Sprint(args...))...) }
func (h *Helper) Error(args ...any) { h.logger.Log(LevelError, h.kv(fmt.Sprint(args...))...) }

type ctxKey struct{}

// Context returns a Helper carrying any trace id stashed in ctx (see
// internal/constants.InternalTraceKey), falling back to the default logger.
func Context(ctx context.Context) *Helper {
	if v := ctx.Value(ctxKey{}); v != nil {
		if h, ok := v.(*Helper); ok {
			return h
		}
	}
	return NewHelper(GetLogger())
}

func NewContext(ctx context.Context, h *Helper) context.Context {
	return context.WithValue(ctx, ctxKey{}, h)
}

func Debugf(format string, args ...any) { NewHelper(GetLogger()).Debugf(format, args...) }
func Infof(format string, args ...any)  { NewHelper(GetLogger()).Infof(format, args...) }
func Warnf(format string, args ...any)  { NewHelper(GetLogger()).Warnf(format, args...) }
func Errorf(format string, args ...any) { NewHelper(GetLogger()).Errorf(format, args...) }
func Debug(args ...any)                 { NewHelper(GetLogger()).Debug(args...) }
func Info(args ...any)                  { NewHelper(GetLogger()).Info(args...) }
func Warn(args ...any)                  { NewHelper(GetLogger()).Warn(args...) }
func Error(args ...any)                 { NewHelper(GetLogger()).Error(args...) }
func Fatal(args ...any)                 { NewHelper(GetLogger()).logger.Log(LevelFatal, fmt.Sprint(args...)) }
func Fatalf(format string, args ...any) {
	NewHelper(GetLogger()).logger.Log(LevelFatal, fmt.Sprintf(format, args...))
}
