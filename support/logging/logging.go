// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package logging holds the logger interface used throughout the upgrader
// and the zap configuration behind it.
package logging

import (
	"go.uber.org/zap"
)

// L is the subset of zap.SugaredLogger used by the upgrader. A nil L means
// no logging; wrap it with Must before use.
type L interface {
	Error(args ...interface{})
	Warn(args ...interface{})
	Info(args ...interface{})
	Debug(args ...interface{})

	Errorf(fmt string, args ...interface{})
	Warnf(fmt string, args ...interface{})
	Infof(fmt string, args ...interface{})
	Debugf(fmt string, args ...interface{})
}

// Nop discards everything logged to it.
var Nop L = zap.NewNop().Sugar()

// Must returns l, or Nop if l is nil.
func Must(l L) L {
	if l == nil {
		return Nop
	}
	return l
}
