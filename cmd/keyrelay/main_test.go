package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/dropDatabas3/keyrelay/internal/cache"
	"github.com/dropDatabas3/keyrelay/internal/config"
	"github.com/dropDatabas3/keyrelay/internal/keys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWiringFromDefaults(t *testing.T) {
	cfg := config.Default()

	pc := publisherConfig(cfg)
	assert.Equal(t, cfg.RecordTTL(), pc.RecordTTL)
	assert.GreaterOrEqual(t, pc.RecordTTL, pc.MinRecordTTL())

	rc := rotatorConfig(cfg)
	assert.Equal(t, keys.EdDSA, rc.Algorithm)
	assert.Equal(t, time.Hour, rc.Interval)

	assert.Equal(t, cfg.Vault.LocalTTL, vaultConfig(cfg).LocalTTL)
	assert.Equal(t, cfg.Tokens.ClockSkew, validatorConfig(cfg).ClockSkew)
	assert.Equal(t, cfg.Tokens.AccessTTL, issuerConfig(cfg).AccessTTL)
	assert.Equal(t, cfg.Keys.RotationInterval, pc.RotationInterval)

	pub, err := keys.NewPublisher(cache.NewMemory(""), pc, zap.NewNop())
	require.NoError(t, err)
	_, err = keys.NewRotator(pub, rc, keys.WithRotatorLogger(zap.NewNop()))
	require.NoError(t, err)
}

func TestVaultConfig_NegativeTTL(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, 30*time.Second, vaultConfig(cfg).NegativeTTL)

	t.Setenv("KEYRELAY_VAULT_NEGATIVE_TTL", "-1s")
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Zero(t, vaultConfig(cfg).NegativeTTL)
}

func TestWarnLocalStore(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	log := zap.New(core)

	cfg := config.Default()
	assert.True(t, warnLocalStore(log, cfg, "verifier"))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "verifier", logs.All()[0].ContextMap()["role"])

	cfg.Store.Driver = "redis"
	assert.False(t, warnLocalStore(log, cfg, "verifier"))
	assert.Equal(t, 1, logs.Len())
}

func TestPrintRecord(t *testing.T) {
	pair, err := keys.Generate(keys.EdDSA, 0, time.Unix(1_700_000_000, 0))
	require.NoError(t, err)
	rec, err := keys.NewRecord(pair, 90*time.Minute)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, printRecord(&buf, rec, "text"))
	assert.Contains(t, buf.String(), pair.KID)
	assert.Contains(t, buf.String(), "1h30m0s")

	buf.Reset()
	require.NoError(t, printRecord(&buf, rec, "json"))
	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, pair.KID, out["kid"])
	assert.EqualValues(t, 5400, out["ttlSeconds"])
}

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"issuer", "verifier", "inspect"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestInspect_UnknownKIDWithMemoryStore(t *testing.T) {
	t.Setenv("KEYRELAY_STORE_DRIVER", "memory")
	root := newRootCmd()
	root.SetArgs([]string{"inspect", "missing-kid", "--env-file", ""})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not published")
}
