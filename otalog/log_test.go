package otalog

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{
		"":     ModeAuto,
		"auto": ModeAuto,
		"dev":  ModeDev,
		"Prod": ModeProd,
	}
	for in, want := range cases {
		got, err := ParseMode(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	_, err := ParseMode("bogus")
	require.Error(t, err)
}

func TestSetupIsIdempotent(t *testing.T) {
	log, sugared := Setup(ModeProd, zapcore.InfoLevel)
	require.NotNil(t, log)
	require.NotNil(t, sugared)

	again, _ := Setup(ModeDev, zapcore.DebugLevel)
	require.Same(t, log, again)

	reset, _ := ResetupLogs(ModeDev, zapcore.DebugLevel)
	require.NotNil(t, reset)
}
