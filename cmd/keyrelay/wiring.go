package main

import (
	"context"
	"strings"

	"github.com/dropDatabas3/keyrelay/internal/cache"
	"github.com/dropDatabas3/keyrelay/internal/config"
	"github.com/dropDatabas3/keyrelay/internal/jwt"
	"github.com/dropDatabas3/keyrelay/internal/keys"
	"github.com/dropDatabas3/keyrelay/internal/observability/logger"
	"github.com/dropDatabas3/keyrelay/internal/vault"
	"go.uber.org/zap"
)

func openStore(ctx context.Context, cfg *config.Config) (cache.Client, error) {
	return cache.New(ctx, cache.Config{
		Driver:   cfg.Store.Driver,
		Addr:     cfg.Store.Redis.Addr,
		Password: cfg.Store.Redis.Password,
		DB:       cfg.Store.Redis.DB,
		DSN:      cfg.Store.Postgres.DSN,
		Prefix:   cfg.Store.Prefix,
	})
}

// warnLocalStore avisa si el store es el driver en memoria: los registros no salen
// de este proceso, así que un verifier separado nunca resuelve ningún kid.
func warnLocalStore(log *zap.Logger, cfg *config.Config, role string) bool {
	if d := strings.ToLower(strings.TrimSpace(cfg.Store.Driver)); d != "memory" && d != "" {
		return false
	}
	log.Warn("store.driver is memory, public keys are not shared with other processes",
		zap.String("role", role), logger.Driver("memory"))
	return true
}

func publisherConfig(cfg *config.Config) keys.PublisherConfig {
	return keys.PublisherConfig{
		MaxTokenTTL:      cfg.MaxTokenTTL(),
		SafetyMargin:     cfg.Keys.SafetyMargin,
		RotationInterval: cfg.Keys.RotationInterval,
		RecordTTL:        cfg.RecordTTL(),
		WriteTimeout:     cfg.Store.WriteTimeout,
	}
}

func rotatorConfig(cfg *config.Config) keys.RotatorConfig {
	return keys.RotatorConfig{
		Algorithm:     keys.Algorithm(cfg.Keys.Algorithm),
		RSABits:       cfg.Keys.RSABits,
		Interval:      cfg.Keys.RotationInterval,
		RetryInterval: cfg.Keys.RetryInterval,
	}
}

func issuerConfig(cfg *config.Config) jwt.IssuerConfig {
	return jwt.IssuerConfig{
		AccessTTL:  cfg.Tokens.AccessTTL,
		RefreshTTL: cfg.Tokens.RefreshTTL,
	}
}

func vaultConfig(cfg *config.Config) vault.Config {
	return vault.Config{
		Algorithm:    keys.Algorithm(cfg.Keys.Algorithm),
		LocalTTL:     cfg.Vault.LocalTTL,
		MaxEntries:   cfg.Vault.MaxEntries,
		NegativeTTL:  cfg.NegativeCacheTTL(),
		FetchTimeout: cfg.Vault.FetchTimeout,
	}
}

func validatorConfig(cfg *config.Config) jwt.ValidatorConfig {
	return jwt.ValidatorConfig{
		Algorithm: keys.Algorithm(cfg.Keys.Algorithm),
		ClockSkew: cfg.Tokens.ClockSkew,
	}
}
