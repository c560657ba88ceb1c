// Package logging builds the process logger from an env_logger-style
// filter string, e.g. "debug" or "info,dag=debug".
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/xerrors"
)

// New parses filter and returns a logger writing console lines to stderr.
// Directives are comma separated: a bare LEVEL sets the default level, and
// NAME=LEVEL sets the level for the named logger only. The default level
// is info.
func New(filter string) (*zap.Logger, error) {
	def, byName, err := parseFilter(filter)
	if err != nil {
		return nil, err
	}
	min := def
	for _, l := range byName {
		if l < min {
			min = l
		}
	}
	enc := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), min)
	return zap.New(&filterCore{Core: core, def: def, byName: byName}), nil
}

func parseFilter(filter string) (zapcore.Level, map[string]zapcore.Level, error) {
	def := zapcore.InfoLevel
	byName := make(map[string]zapcore.Level)
	for _, directive := range strings.Split(filter, ",") {
		directive = strings.TrimSpace(directive)
		if directive == "" {
			continue
		}
		name := ""
		level := directive
		if idx := strings.Index(directive, "="); idx >= 0 {
			name, level = directive[:idx], directive[idx+1:]
		}
		l, err := zapcore.ParseLevel(level)
		if err != nil {
			return 0, nil, xerrors.Errorf("log filter directive %q: %w", directive, err)
		}
		if name == "" {
			def = l
		} else {
			byName[name] = l
		}
	}
	return def, byName, nil
}

// filterCore gates entries on a per-logger-name level before handing them
// to the wrapped core.
type filterCore struct {
	zapcore.Core
	def    zapcore.Level
	byName map[string]zapcore.Level
}

func (c *filterCore) level(name string) zapcore.Level {
	if l, ok := c.byName[name]; ok {
		return l
	}
	return c.def
}

func (c *filterCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if ent.Level < c.level(ent.LoggerName) {
		return ce
	}
	return c.Core.Check(ent, ce)
}

func (c *filterCore) With(fields []zapcore.Field) zapcore.Core {
	return &filterCore{Core: c.Core.With(fields), def: c.def, byName: c.byName}
}
