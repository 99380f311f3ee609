// Package hublog provides the hub's structured logging: a
// go.uber.org/zap logger for operator-facing output, and a per-job
// rotated logfile (gopkg.in/natefinch/lumberjack.v2) whose path is
// recorded on the job's HubDB status record, mirroring the teacher's
// own "logfile"/"pid" status fields.
package hublog

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// New builds the hub's base logger. Debug enables development-mode
// (human readable, caller info) encoding; otherwise JSON is used.
func New(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// JobLogger opens (creating if necessary) a rotated logfile for one
// job run under logDir/<category>/<source>-<step>.log and returns a
// zap.Logger writing to it plus the logfile path to persist on the
// job's status record.
func JobLogger(base *zap.Logger, logDir, category, source, step string) (*zap.Logger, string, error) {
	path := filepath.Join(logDir, category, fmt.Sprintf("%s-%s.log", source, step))

	writer := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    50, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(writer),
		zapcore.DebugLevel,
	)

	logger := base.WithOptions(zap.WrapCore(func(zapcore.Core) zapcore.Core {
		return core
	})).With(
		zap.String("category", category),
		zap.String("source", source),
		zap.String("step", step),
	)

	return logger, path, nil
}
