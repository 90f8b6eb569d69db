package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the structured logger used across FleetBox.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(err error, msg string, keysAndValues ...any)
	WithName(name string) Logger
	WithValues(keysAndValues ...any) Logger
	Sync() error
}

var _ Logger = (*zapLogger)(nil)

type zapLogger struct {
	core *zap.Logger
	// helperSkip is the extra frame of the package-level helpers; derived
	// loggers are called directly and drop it.
	helperSkip int
}

// Options configures the logger.
type Options struct {
	Name   string
	Level  string // debug | info | warn | error
	Format string // json | console
	// Dir, when set, adds a monthly log file fleetbox_YYYY-MM.log inside it.
	// The file is rotated at MaxSizeMB, keeping MaxBackups old copies.
	Dir        string
	MaxSizeMB  int // default: 10
	MaxBackups int // default: 10
	CallerSkip int
}

func NewOptions() *Options {
	return &Options{
		Level:      "info",
		Format:     "json",
		MaxSizeMB:  10,
		MaxBackups: 10,
		CallerSkip: 2,
	}
}

// FileName returns the monthly log file name for t.
func FileName(t time.Time) string {
	return fmt.Sprintf("fleetbox_%s.log", t.Format("2006-01"))
}

func NewLogger(opts *Options) (Logger, error) {
	if opts == nil {
		opts = NewOptions()
	}
	encoderConfig := zapcore.EncoderConfig{
		MessageKey:     "message",
		LevelKey:       "level",
		TimeKey:        "timestamp",
		NameKey:        "logger",
		CallerKey:      "caller",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05"),
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var encoder zapcore.Encoder
	if opts.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	cores := []zapcore.Core{zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level)}
	if opts.Dir != "" {
		file, err := newFileWriter(opts)
		if err != nil {
			return nil, err
		}
		cores = append(cores, zapcore.NewCore(encoder.Clone(), zapcore.AddSync(file), level))
	}

	core := zap.New(zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddCallerSkip(opts.CallerSkip),
		zap.AddStacktrace(zapcore.DPanicLevel),
		zap.ErrorOutput(zapcore.Lock(os.Stderr)),
	)
	if opts.Name != "" {
		core = core.Named(opts.Name)
	}
	l := &zapLogger{core: core}
	if opts.CallerSkip > 0 {
		l.helperSkip = 1
	}
	return l, nil
}

// newFileWriter returns the size-rotated monthly log file.
func newFileWriter(opts *Options) (*lumberjack.Logger, error) {
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 10
	}
	maxBackups := opts.MaxBackups
	if maxBackups <= 0 {
		maxBackups = 10
	}
	return &lumberjack.Logger{
		Filename:   filepath.Join(opts.Dir, FileName(time.Now())),
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
	}, nil
}

func NewNopLogger() Logger {
	return &zapLogger{core: zap.NewNop()}
}

var (
	mu  sync.RWMutex
	std = NewNopLogger()
)

// Init replaces the global logger.
func Init(opts *Options) error {
	l, err := NewLogger(opts)
	if err != nil {
		return err
	}
	mu.Lock()
	std = l
	mu.Unlock()
	return nil
}

func Std() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return std
}

func Debug(msg string, keysAndValues ...any)            { Std().Debug(msg, keysAndValues...) }
func Info(msg string, keysAndValues ...any)             { Std().Info(msg, keysAndValues...) }
func Warn(msg string, keysAndValues ...any)             { Std().Warn(msg, keysAndValues...) }
func Error(err error, msg string, keysAndValues ...any) { Std().Error(err, msg, keysAndValues...) }
func WithName(name string) Logger                       { return Std().WithName(name) }
func WithValues(keysAndValues ...any) Logger            { return Std().WithValues(keysAndValues...) }
func Sync() error                                       { return Std().Sync() }

func (z *zapLogger) Debug(msg string, keysAndValues ...any) {
	z.core.Debug(msg, toFields(keysAndValues...)...)
}

func (z *zapLogger) Info(msg string, keysAndValues ...any) {
	z.core.Info(msg, toFields(keysAndValues...)...)
}

func (z *zapLogger) Warn(msg string, keysAndValues ...any) {
	z.core.Warn(msg, toFields(keysAndValues...)...)
}

func (z *zapLogger) Error(err error, msg string, keysAndValues ...any) {
	fields := toFields(keysAndValues...)
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	z.core.Error(msg, fields...)
}

func (z *zapLogger) WithName(name string) Logger {
	return &zapLogger{core: z.direct().Named(name)}
}

func (z *zapLogger) WithValues(keysAndValues ...any) Logger {
	return &zapLogger{core: z.direct().With(toFields(keysAndValues...)...)}
}

// direct returns the core adjusted for calls that bypass the package helpers.
func (z *zapLogger) direct() *zap.Logger {
	if z.helperSkip == 0 {
		return z.core
	}
	return z.core.WithOptions(zap.AddCallerSkip(-z.helperSkip))
}

func (z *zapLogger) Sync() error {
	return z.core.Sync()
}

// toFields converts alternating key/value pairs into zap fields.
func toFields(args ...any) []zap.Field {
	if len(args) == 0 {
		return nil
	}
	fields := make([]zap.Field, 0, len(args)/2+1)
	for i := 0; i < len(args); {
		if f, ok := args[i].(zap.Field); ok {
			fields = append(fields, f)
			i++
			continue
		}
		if i == len(args)-1 {
			fields = append(fields, zap.Any(fmt.Sprintf("arg#%d", i), args[i]))
			break
		}
		key, val := args[i], args[i+1]
		i += 2
		keyStr, ok := key.(string)
		if !ok {
			keyStr = fmt.Sprint(key)
		}
		switch v := val.(type) {
		case error:
			fields = append(fields, zap.NamedError(keyStr, v))
		case time.Duration:
			fields = append(fields, zap.Duration(keyStr, v))
		case time.Time:
			fields = append(fields, zap.Time(keyStr, v))
		case fmt.Stringer:
			fields = append(fields, zap.Stringer(keyStr, v))
		default:
			fields = append(fields, zap.Any(keyStr, v))
		}
	}
	return fields
}
