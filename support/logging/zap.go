// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package logging

import (
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level returns the zap level for a verbosity count. quiet overrides
// verbosity and only reports errors.
func Level(verbosity int, quiet bool) zapcore.Level {
	switch {
	case quiet:
		return zapcore.ErrorLevel
	case verbosity <= 0:
		return zapcore.WarnLevel
	case verbosity == 1:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// New builds a console zap logger writing to w at the level selected by
// verbosity and quiet.
//
// The returned logger satisfies L. The caller should Sync it before exiting.
func New(w io.Writer, verbosity int, quiet bool) *zap.SugaredLogger {
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.Lock(zapcore.AddSync(w)),
		Level(verbosity, quiet))

	var opts []zap.Option
	if verbosity >= 2 {
		opts = append(opts, zap.AddCaller())
	}
	return zap.New(core, opts...).Sugar()
}

var _ L = (*zap.SugaredLogger)(nil)
