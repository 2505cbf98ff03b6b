package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EarlyLog writes to stderr before the configured logger exists, such as
// while the config file is being read.
type EarlyLog struct {
	sugar *zap.SugaredLogger
}

func NewEarlyLog() *EarlyLog {
	encoderCfg := zap.NewDevelopmentEncoderConfig()
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.Lock(os.Stderr), zapcore.DebugLevel)
	return &EarlyLog{sugar: zap.New(core).Sugar()}
}

func (l *EarlyLog) Error(msg string, args ...interface{}) {
	l.sugar.Errorf(msg, args...)
}

func (l *EarlyLog) Warn(msg string, args ...interface{}) {
	l.sugar.Warnf(msg, args...)
}

func (l *EarlyLog) Info(msg string, args ...interface{}) {
	l.sugar.Infof(msg, args...)
}

func (l *EarlyLog) Sync() {
	_ = l.sugar.Sync()
}
