// internal/utils/logger.go
package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 结构化日志，底层使用 zap，文件输出由 lumberjack 轮转
type Logger struct {
	mu     sync.RWMutex
	zap    *zap.Logger
	level  zap.AtomicLevel
	rotate *lumberjack.Logger
}

var (
	globalLogger *Logger
	loggerOnce   sync.Once
)

// GetLogger returns the global logger instance
func GetLogger() *Logger {
	loggerOnce.Do(func() {
		level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
		globalLogger = &Logger{
			level: level,
			zap:   zap.New(zapcore.NewCore(consoleEncoder(), zapcore.Lock(os.Stdout), level), zap.AddCaller(), zap.AddCallerSkip(2)),
		}
	})
	return globalLogger
}

// InitLogger 为全局日志增加轮转文件输出，debug 为 true 时输出调试日志
func InitLogger(logFile string, debug bool) error {
	logger := GetLogger()

	if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	rotate := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    20, // megabytes
		MaxBackups: 5,
		MaxAge:     14, // days
		LocalTime:  true,
	}

	if debug {
		logger.level.SetLevel(zapcore.DebugLevel)
	} else {
		logger.level.SetLevel(zapcore.InfoLevel)
	}

	core := zapcore.NewTee(
		zapcore.NewCore(consoleEncoder(), zapcore.Lock(os.Stdout), logger.level),
		zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), zapcore.AddSync(rotate), logger.level),
	)

	logger.mu.Lock()
	defer logger.mu.Unlock()

	if logger.rotate != nil {
		_ = logger.rotate.Close()
	}
	logger.rotate = rotate
	logger.zap = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2))
	return nil
}

// Quiet 只保留错误日志，CLI 使用
func (l *Logger) Quiet() {
	l.level.SetLevel(zapcore.ErrorLevel)
}

// Sync 刷新缓冲并关闭日志文件
func (l *Logger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_ = l.zap.Sync()
	if l.rotate != nil {
		err := l.rotate.Close()
		l.rotate = nil
		return err
	}
	return nil
}

func consoleEncoder() zapcore.Encoder {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	return zapcore.NewConsoleEncoder(cfg)
}

func (l *Logger) log(level zapcore.Level, message string, fields map[string]interface{}) {
	l.mu.RLock()
	z := l.zap
	l.mu.RUnlock()

	ce := z.Check(level, message)
	if ce == nil {
		return
	}

	zfields := make([]zap.Field, 0, len(fields))
	for key, value := range fields {
		if err, ok := value.(error); ok {
			zfields = append(zfields, zap.NamedError(key, err))
			continue
		}
		zfields = append(zfields, zap.Any(key, value))
	}
	ce.Write(zfields...)
}

// Debug logs a debug message
func (l *Logger) Debug(message string, fields map[string]interface{}) {
	l.log(zapcore.DebugLevel, message, fields)
}

// Info logs an info message
func (l *Logger) Info(message string, fields map[string]interface{}) {
	l.log(zapcore.InfoLevel, message, fields)
}

// Warn logs a warning message
func (l *Logger) Warn(message string, fields map[string]interface{}) {
	l.log(zapcore.WarnLevel, message, fields)
}

// Error logs an error message
func (l *Logger) Error(message string, fields map[string]interface{}) {
	l.log(zapcore.ErrorLevel, message, fields)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(message string, fields map[string]interface{}) {
	l.log(zapcore.FatalLevel, message, fields)
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log(zapcore.DebugLevel, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(zapcore.InfoLevel, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(zapcore.WarnLevel, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(zapcore.ErrorLevel, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.log(zapcore.FatalLevel, fmt.Sprintf(format, args...), nil)
}
