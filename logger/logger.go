package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Nop until InitLogger runs, so packages can log from tests.
var zapLog = zap.NewNop()

func InitLogger(level zapcore.Level) error {

	config := zap.NewDevelopmentConfig()
	config.Level = zap.NewAtomicLevelAt(level)

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("Jan _2 15:04:05.000000000")
	encoderConfig.StacktraceKey = "" // to hide stacktrace info
	config.EncoderConfig = encoderConfig

	l, err := config.Build(zap.AddCallerSkip(1))
	if err != nil {
		return err
	}
	zapLog = l
	return nil
}

// ParseLevel maps "debug", "info", "warn", "error" to a zap level. Empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	return zapcore.ParseLevel(s)
}

// Stage returns a child logger tagged with the pipeline stage name.
// The caller skip of the package logger is undone so callers are reported correctly.
func Stage(name string, fields ...zap.Field) *zap.Logger {
	return zapLog.WithOptions(zap.AddCallerSkip(-1)).With(append([]zap.Field{zap.String("stage", name)}, fields...)...)
}

func Info(message string, fields ...zap.Field) {
	zapLog.Info(message, fields...)
}

func Warn(message string, fields ...zap.Field) {
	zapLog.Warn(message, fields...)
}

func Debug(message string, fields ...zap.Field) {
	zapLog.Debug(message, fields...)
}

func Error(message string, fields ...zap.Field) {
	zapLog.Error(message, fields...)
}

func Fatal(message string, fields ...zap.Field) {
	zapLog.Fatal(message, fields...)
}

// Sync flushes any buffered log entries
func Sync() error {
	return zapLog.Sync()
}
