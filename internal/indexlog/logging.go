// Package indexlog sets up the process logger used throughout the
// indexing pipeline. Adapted from the teacher's turbo/logging package:
// console + rotating file sinks behind github.com/ledgerwatch/log/v3,
// trimmed to the urfave/cli-only config surface this module uses (spec.md
// §9 calls out picking one CLI framework rather than mixing urfave/cobra).
package indexlog

import (
	"os"
	"path/filepath"

	"github.com/ledgerwatch/log/v3"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config is the subset of CLI flags the logger needs.
type Config struct {
	ConsoleLevel log.Lvl
	ConsoleJSON  bool
	DirPath      string
	DirLevel     log.Lvl
	DirJSON      bool
}

// FromCLI builds a Config from urfave/cli flags, mirroring
// turbo/logging.SetupLoggerCtx's flag resolution with graceful fallback to
// info level on unparseable verbosity strings.
func FromCLI(ctx *cli.Context) Config {
	cfg := Config{ConsoleLevel: log.LvlInfo, DirLevel: log.LvlInfo}
	if lvl, err := log.LvlFromString(ctx.String("log.console.verbosity")); err == nil {
		cfg.ConsoleLevel = lvl
	} else if lvl, err := log.LvlFromString(ctx.String("verbosity")); err == nil {
		cfg.ConsoleLevel = lvl
	}
	if lvl, err := log.LvlFromString(ctx.String("log.dir.verbosity")); err == nil {
		cfg.DirLevel = lvl
	}
	cfg.ConsoleJSON = ctx.Bool("log.json")
	cfg.DirJSON = ctx.Bool("log.dir.json")
	cfg.DirPath = ctx.String("log.dir.path")
	return cfg
}

// Setup installs the console + optional rotating-file handler on the root
// logger and returns it for callers to pass down explicitly.
func Setup(cfg Config) log.Logger {
	logger := log.Root()

	format := log.TerminalFormatNoColor()
	if cfg.ConsoleJSON {
		format = log.JSONFormat()
	}
	consoleHandler := log.LvlFilterHandler(cfg.ConsoleLevel, log.StreamHandler(os.Stderr, format))
	logger.SetHandler(consoleHandler)

	if cfg.DirPath == "" {
		logger.Info("console logging only")
		return logger
	}

	if err := os.MkdirAll(cfg.DirPath, 0o764); err != nil {
		logger.Warn("failed to create log dir, console logging only", "err", err)
		return logger
	}

	dirFormat := log.TerminalFormatNoColor()
	if cfg.DirJSON {
		dirFormat = log.JSONFormat()
	}
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.DirPath, "indexer.log"),
		MaxSize:    100, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}
	fileHandler := log.LvlFilterHandler(cfg.DirLevel, log.StreamHandler(rotator, dirFormat))
	logger.SetHandler(log.MultiHandler(consoleHandler, fileHandler))
	logger.Info("logging to file system", "dir", cfg.DirPath, "level", cfg.DirLevel, "json", cfg.DirJSON)
	return logger
}
