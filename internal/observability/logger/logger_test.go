package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":    zapcore.DebugLevel,
		" WARN ":   zapcore.WarnLevel,
		"warning":  zapcore.WarnLevel,
		"error":    zapcore.ErrorLevel,
		"info":     zapcore.InfoLevel,
		"":         zapcore.InfoLevel,
		"nonsense": zapcore.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestBuild_LevelAndFields(t *testing.T) {
	l := build(Config{Env: "prod", Level: "warn", ServiceName: "verifier", Version: "1.2.3"})
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))

	dev := build(Config{Env: "dev", Level: "debug"})
	assert.True(t, dev.Core().Enabled(zapcore.DebugLevel))
}

func TestFrom_FallsBackToGlobal(t *testing.T) {
	assert.Same(t, L(), From(context.Background()))

	scoped := zap.NewNop()
	ctx := ToContext(context.Background(), scoped)
	assert.Same(t, scoped, From(ctx))
}

func TestFields(t *testing.T) {
	assert.Equal(t, "kid", KID("k1").Key)
	assert.Equal(t, "k1", KID("k1").String)
	assert.Equal(t, "kind", Kind("token_expired").Key)
	assert.Equal(t, "sub", Subject("u1").Key)
	assert.Equal(t, int64(401), Status(401).Integer)
}
