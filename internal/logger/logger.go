package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger creates a logger writing JSON to a rotated file and, when console is set,
// human-readable lines to stderr.
// Levels: "debug", "info", "warn", "error" (case-insensitive); invalid levels fall back to info.
// With no file and no console the logger is a no-op.
func NewLogger(logPath, logLevel string, console bool) *zap.SugaredLogger {
	if logPath == "" && !console {
		return zap.NewNop().Sugar()
	}

	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	var cores []zapcore.Core
	if logPath != "" {
		encoderConfig := zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderConfig),
			zapcore.AddSync(&lumberjack.Logger{
				Filename:   logPath,
				MaxSize:    100, // MB
				MaxBackups: 5,
			}),
			level,
		))
	}
	if console {
		consoleConfig := zap.NewDevelopmentEncoderConfig()
		consoleConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(consoleConfig),
			zapcore.Lock(os.Stderr),
			level,
		))
	}

	return zap.New(zapcore.NewTee(cores...)).Sugar()
}
