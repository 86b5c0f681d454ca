// internal/logger/logger.go
//
// Structured JSON logger (Zap + Lumberjack).
//
// Context
// -------
// The whiteboard writes lifecycle and error events to one JSON log per day
// under `<root>/logs/YYYY-MM-DD.log`.  When running in an interactive TTY
// we tee the same events to stdout.  Rotation, compression, and retention
// are handled by Lumberjack; no external log-rotate job is required.
//
// Usage
// -----
//
//	log, err := logger.New(cfg.Paths.Root, cfg.Log.Tee, cfg.Log.Level)
//	if err != nil { … }
//	log.Infow("context registered", "path", "/app")
//
// Notes
// -----
// • Zap core uses ISO-8601 timestamps and lowercase levels.
// • Errors are written to the same sink via `ErrorOutput`.
// • The level is an AtomicLevel so a config reload can change it in place
//   through SetLevel.
// • Oxford commas, two spaces after periods.
package logger

import (
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var level = zap.NewAtomicLevelAt(zap.InfoLevel)

// SetLevel changes the level of every logger built by New.  Unknown names
// leave the level untouched and return the parse error.
func SetLevel(name string) error {
	if name == "" {
		return nil
	}
	return level.UnmarshalText([]byte(name))
}

// Level reports the current level.
func Level() zapcore.Level { return level.Level() }

// New returns a *zap.SugaredLogger that writes JSON to
// <root>/logs/YYYY-MM-DD.log at the given level ("" means info).  When
// tee == true, a console core is also attached.  The logger is installed
// as the process-wide default via zap.ReplaceGlobals.
func New(rootDir string, tee bool, lvl string) (*zap.SugaredLogger, error) {
	if err := SetLevel(lvl); err != nil {
		return nil, err
	}

	logDir := filepath.Join(rootDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, err
	}

	fileName := time.Now().Format("2006-01-02") + ".log"
	fileSink := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, fileName),
		MaxSize:    50, // MB
		MaxBackups: 7,  // keep last seven files
		MaxAge:     14, // days
		Compress:   true,
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:      "ts",
		LevelKey:     "level",
		NameKey:      "logger",
		MessageKey:   "msg",
		CallerKey:    "caller",
		EncodeTime:   zapcore.ISO8601TimeEncoder,
		EncodeLevel:  zapcore.LowercaseLevelEncoder,
		EncodeCaller: zapcore.ShortCallerEncoder,
	}
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(fileSink), level),
	}

	if tee {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(encCfg),
			zapcore.AddSync(os.Stdout),
			level,
		))
	}

	z := zap.New(
		zapcore.NewTee(cores...),
		zap.ErrorOutput(zapcore.AddSync(fileSink)),
		zap.AddCaller(),
	).Sugar()

	// Make this the global logger so zap.L() works everywhere after startup.
	zap.ReplaceGlobals(z.Desugar())

	z.Infow("logger online", "tee", tee, "level", level.String())
	return z, nil
}
