package common

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var logger = zap.NewNop()

func GetLogger() *zap.Logger {
	return logger
}

// InitLog replaces the package logger. An empty path logs to stdout.
func InitLog(logPath, level string) {
	logger = NewLogger(logPath, level)
}

func NewLogger(logPath, level string) *zap.Logger {
	var writeSyncer zapcore.WriteSyncer
	if logPath == "" {
		writeSyncer = zapcore.Lock(os.Stdout)
	} else {
		// rotate at 10MB, keep 10 files for a week
		writeSyncer = zapcore.AddSync(&lumberjack.Logger{
			Filename:   logPath,
			MaxSize:    10,
			MaxBackups: 10,
			MaxAge:     7,
			LocalTime:  true,
		})
	}

	customTimeEncoder := func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Local().Format("2006-01-02 15:04:05.000"))
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "T",
		LevelKey:       "L",
		MessageKey:     "M",
		CallerKey:      "C",
		NameKey:        "N",
		StacktraceKey:  "S",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     customTimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	encoder := zapcore.NewConsoleEncoder(encoderConfig)

	lvl := zapcore.InfoLevel
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}

	core := zapcore.NewCore(encoder, writeSyncer, lvl)
	return zap.New(core, zap.AddCaller())
}
