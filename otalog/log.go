/*
 * COPYRIGHT 2024 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package otalog builds the pair of zap loggers ("structured" and
// "sugared") shared by cl.otad and ap.otad. Mode selection (dev vs prod
// encoding) defaults to a TTY probe on stderr but can be forced by the
// caller; cl.otad and ap.otad force dev mode with --verbose.
package otalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// Mode selects the logger's encoding style.
type Mode string

const (
	// ModeAuto picks dev or prod based on whether stderr is a terminal.
	ModeAuto Mode = ""
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

// ParseMode validates a log type string such as "dev" or "prod".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return ModeAuto, nil
	case "dev", "development":
		return ModeDev, nil
	case "prod", "production":
		return ModeProd, nil
	}
	return ModeAuto, fmt.Errorf("unknown log type %q; try [dev|prod]", s)
}

var (
	mu            sync.Mutex
	globalLog     *zap.Logger
	globalSugared *zap.SugaredLogger
)

// Setup creates the global logger pair, if not already created. Repeated
// calls return the existing pair; use ResetupLogs to rebuild after flags
// change.
func Setup(mode Mode, level zapcore.Level) (*zap.Logger, *zap.SugaredLogger) {
	mu.Lock()
	defer mu.Unlock()
	if globalLog != nil {
		return globalLog, globalSugared
	}

	isTerm := term.IsTerminal(int(os.Stderr.Fd()))
	if mode == ModeAuto {
		if isTerm {
			mode = ModeDev
		} else {
			mode = ModeProd
		}
	}

	pname, err := os.Executable()
	if err != nil {
		pname = os.Args[0]
	}
	pname = filepath.Base(pname)

	atomicLevel := zap.NewAtomicLevelAt(level)
	zapOptions := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}

	var config zap.Config
	if mode == ModeDev {
		config = zap.NewDevelopmentConfig()
		config.Level = atomicLevel
		if isTerm {
			config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
	} else {
		config = zap.NewProductionConfig()
		config.Level = atomicLevel
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	log, err := config.Build(zapOptions...)
	if err != nil {
		panic(fmt.Sprintf("can't zap: %v", err))
	}
	log = log.Named(pname)
	log.Debug(fmt.Sprintf("zap %s logging at %s", mode, config.Level))

	globalLog = log
	globalSugared = log.Sugar()
	return globalLog, globalSugared
}

// ResetupLogs discards the current global logger pair and rebuilds it;
// callers use this after parsing CLI flags that affect mode or level.
func ResetupLogs(mode Mode, level zapcore.Level) (*zap.Logger, *zap.SugaredLogger) {
	mu.Lock()
	globalLog = nil
	globalSugared = nil
	mu.Unlock()
	return Setup(mode, level)
}

// GetLogs returns the current global logger pair, which may be nil if
// Setup has not yet been called.
func GetLogs() (*zap.Logger, *zap.SugaredLogger) {
	mu.Lock()
	defer mu.Unlock()
	return globalLog, globalSugared
}
