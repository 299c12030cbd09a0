// Package config carga la configuración de keyrelay: YAML, defaults, overrides por
// variables de entorno KEYRELAY_* y validación de las relaciones entre TTLs.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PublicKeysCache es el nombre del requirement que fija el TTL de los registros públicos.
const PublicKeysCache = "public-keys"

const envPrefix = "KEYRELAY_"

type Config struct {
	App struct {
		// dev | staging | prod
		Env     string `yaml:"env"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	// issue_api_key protege POST /v1/tokens del issuer; vacía => emisión deshabilitada.
	Server struct {
		Addr        string `yaml:"addr"`
		IssueAPIKey string `yaml:"issue_api_key"`
	} `yaml:"server"`

	Store struct {
		// redis | postgres | memory
		Driver       string        `yaml:"driver"`
		Prefix       string        `yaml:"prefix"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
		Redis        struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
		Postgres struct {
			DSN string `yaml:"dsn"`
		} `yaml:"postgres"`
	} `yaml:"store"`

	Keys struct {
		// RS256 | EdDSA
		Algorithm        string        `yaml:"algorithm"`
		RSABits          int           `yaml:"rsa_bits"`
		RotationInterval time.Duration `yaml:"rotation_interval"`
		RetryInterval    time.Duration `yaml:"retry_interval"`
		SafetyMargin     time.Duration `yaml:"safety_margin"`
		// RecordTTL explícito; vacío => rotation_interval + max token ttl + safety_margin.
		RecordTTL time.Duration `yaml:"record_ttl"`
	} `yaml:"keys"`

	Tokens struct {
		AccessTTL  time.Duration `yaml:"access_ttl"`
		RefreshTTL time.Duration `yaml:"refresh_ttl"`
		ClockSkew  time.Duration `yaml:"clock_skew"`
	} `yaml:"tokens"`

	// negative_ttl: vacío => 30s; negativo (p.ej. -1s) desactiva el cache negativo.
	Vault struct {
		LocalTTL     time.Duration `yaml:"local_ttl"`
		MaxEntries   int           `yaml:"max_entries"`
		NegativeTTL  time.Duration `yaml:"negative_ttl"`
		FetchTimeout time.Duration `yaml:"fetch_timeout"`
	} `yaml:"vault"`

	Gate struct {
		PublicPaths []string `yaml:"public_paths"`
	} `yaml:"gate"`

	Cache struct {
		Requirements []CacheRequirement `yaml:"requirements"`
	} `yaml:"cache"`
}

// CacheRequirement declara el TTL mínimo que un cache con nombre necesita.
type CacheRequirement struct {
	CacheName  string `yaml:"cache_name"`
	TTLMinutes int    `yaml:"ttl_minutes"`
}

func (r CacheRequirement) TTL() time.Duration {
	return time.Duration(r.TTLMinutes) * time.Minute
}

// Default retorna la configuración con todos los defaults aplicados.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load lee path (si no es vacío), aplica defaults, pisa con env y valida.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	c.applyDefaults()
	if err := c.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.Store.Prefix == "" {
		c.Store.Prefix = "keyrelay"
	}
	if c.Store.WriteTimeout == 0 {
		c.Store.WriteTimeout = 5 * time.Second
	}
	if c.Store.Redis.Addr == "" {
		c.Store.Redis.Addr = "localhost:6379"
	}
	if c.Keys.Algorithm == "" {
		c.Keys.Algorithm = "EdDSA"
	}
	if c.Keys.RSABits == 0 {
		c.Keys.RSABits = 2048
	}
	if c.Keys.RotationInterval == 0 {
		c.Keys.RotationInterval = time.Hour
	}
	if c.Keys.RetryInterval == 0 {
		c.Keys.RetryInterval = 30 * time.Second
	}
	if c.Keys.SafetyMargin == 0 {
		c.Keys.SafetyMargin = 5 * time.Minute
	}
	if c.Tokens.AccessTTL == 0 {
		c.Tokens.AccessTTL = 15 * time.Minute
	}
	if c.Tokens.RefreshTTL == 0 {
		c.Tokens.RefreshTTL = 24 * time.Hour
	}
	if c.Tokens.ClockSkew == 0 {
		c.Tokens.ClockSkew = 30 * time.Second
	}
	if c.Vault.LocalTTL == 0 {
		c.Vault.LocalTTL = 5 * time.Minute
	}
	if c.Vault.MaxEntries == 0 {
		c.Vault.MaxEntries = 1024
	}
	if c.Vault.NegativeTTL == 0 {
		c.Vault.NegativeTTL = 30 * time.Second
	}
	if c.Vault.FetchTimeout == 0 {
		c.Vault.FetchTimeout = 2 * time.Second
	}
}

// NegativeCacheTTL es el TTL efectivo del cache negativo del resolver; 0 = desactivado.
func (c *Config) NegativeCacheTTL() time.Duration {
	return max(c.Vault.NegativeTTL, 0)
}

// MaxTokenTTL es max(access_ttl, refresh_ttl).
func (c *Config) MaxTokenTTL() time.Duration {
	return max(c.Tokens.AccessTTL, c.Tokens.RefreshTTL)
}

// MinRecordTTL cubre el peor caso: un token emitido justo antes de rotar, con el TTL
// más largo, más el margen.
func (c *Config) MinRecordTTL() time.Duration {
	return c.Keys.RotationInterval + c.MaxTokenTTL() + c.Keys.SafetyMargin
}

// RecordTTL efectivo: requirement "public-keys" > keys.record_ttl > MinRecordTTL.
func (c *Config) RecordTTL() time.Duration {
	if r, ok := c.Requirement(PublicKeysCache); ok {
		return r.TTL()
	}
	if c.Keys.RecordTTL > 0 {
		return c.Keys.RecordTTL
	}
	return c.MinRecordTTL()
}

// Requirement busca un cache requirement por nombre.
func (c *Config) Requirement(name string) (CacheRequirement, bool) {
	for _, r := range c.Cache.Requirements {
		if r.CacheName == name {
			return r, true
		}
	}
	return CacheRequirement{}, false
}

var ErrInvalidConfig = errors.New("invalid_config")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Validate chequea valores y las relaciones entre TTLs.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "redis":
	case "postgres", "pg":
		if strings.TrimSpace(c.Store.Postgres.DSN) == "" {
			return invalid("store.postgres.dsn is required for driver %q", c.Store.Driver)
		}
	default:
		return invalid("unknown store.driver %q", c.Store.Driver)
	}

	switch c.Keys.Algorithm {
	case "EdDSA":
	case "RS256":
		if c.Keys.RSABits < 2048 {
			return invalid("keys.rsa_bits must be >= 2048, got %d", c.Keys.RSABits)
		}
	default:
		return invalid("unsupported keys.algorithm %q", c.Keys.Algorithm)
	}

	if c.Keys.RotationInterval <= 0 {
		return invalid("keys.rotation_interval must be positive")
	}
	if c.Keys.RetryInterval <= 0 || c.Keys.RetryInterval > c.Keys.RotationInterval {
		return invalid("keys.retry_interval must be in (0, rotation_interval]")
	}
	if c.Keys.SafetyMargin < 0 {
		return invalid("keys.safety_margin must not be negative")
	}
	if c.Tokens.AccessTTL <= 0 || c.Tokens.RefreshTTL <= 0 {
		return invalid("tokens.access_ttl and tokens.refresh_ttl must be positive")
	}
	if c.Tokens.ClockSkew < 0 {
		return invalid("tokens.clock_skew must not be negative")
	}

	seen := map[string]bool{}
	for _, r := range c.Cache.Requirements {
		if strings.TrimSpace(r.CacheName) == "" {
			return invalid("cache.requirements: cache_name is required")
		}
		if seen[r.CacheName] {
			return invalid("cache.requirements: duplicate cache_name %q", r.CacheName)
		}
		seen[r.CacheName] = true
		if r.TTLMinutes <= 0 {
			return invalid("cache.requirements[%s]: ttl_minutes must be positive", r.CacheName)
		}
	}

	if ttl := c.RecordTTL(); ttl < c.MinRecordTTL() {
		return invalid("public key record ttl %s is below rotation_interval + max token ttl + safety_margin = %s", ttl, c.MinRecordTTL())
	}
	if c.Vault.LocalTTL <= 0 || c.Vault.LocalTTL >= c.RecordTTL() {
		return invalid("vault.local_ttl must be positive and below the record ttl (%s)", c.RecordTTL())
	}
	if c.Vault.MaxEntries < 0 || c.Vault.FetchTimeout <= 0 {
		return invalid("vault: max_entries or fetch_timeout out of range")
	}
	return nil
}

// ─── env ───

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(envPrefix + key)
	return v, v != ""
}

func getEnvInt(key string) (int, bool, error) {
	s, ok := getEnvStr(key)
	if !ok {
		return 0, false, nil
	}
	i, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false, fmt.Errorf("config: %s%s: %w", envPrefix, key, err)
	}
	return i, true, nil
}

func getEnvDur(key string) (time.Duration, bool, error) {
	s, ok := getEnvStr(key)
	if !ok {
		return 0, false, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, false, fmt.Errorf("config: %s%s: %w", envPrefix, key, err)
	}
	return d, true, nil
}

func getEnvCSV(key string) ([]string, bool) {
	s, ok := getEnvStr(key)
	if !ok {
		return nil, false
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, true
}

// applyEnvOverrides pisa el YAML con KEYRELAY_*. Un valor mal formado es error,
// no se ignora.
func (c *Config) applyEnvOverrides() error {
	strs := map[string]*string{
		"APP_ENV":        &c.App.Env,
		"APP_VERSION":    &c.App.Version,
		"LOG_LEVEL":      &c.Log.Level,
		"SERVER_ADDR":    &c.Server.Addr,
		"ISSUE_API_KEY":  &c.Server.IssueAPIKey,
		"STORE_DRIVER":   &c.Store.Driver,
		"STORE_PREFIX":   &c.Store.Prefix,
		"REDIS_ADDR":     &c.Store.Redis.Addr,
		"REDIS_PASSWORD": &c.Store.Redis.Password,
		"POSTGRES_DSN":   &c.Store.Postgres.DSN,
		"KEYS_ALGORITHM": &c.Keys.Algorithm,
	}
	for k, dst := range strs {
		if v, ok := getEnvStr(k); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	c.App.Env = strings.ToLower(c.App.Env)

	ints := map[string]*int{
		"REDIS_DB":          &c.Store.Redis.DB,
		"KEYS_RSA_BITS":     &c.Keys.RSABits,
		"VAULT_MAX_ENTRIES": &c.Vault.MaxEntries,
	}
	for k, dst := range ints {
		v, ok, err := getEnvInt(k)
		if err != nil {
			return err
		}
		if ok {
			*dst = v
		}
	}

	durs := map[string]*time.Duration{
		"STORE_WRITE_TIMEOUT":    &c.Store.WriteTimeout,
		"KEYS_ROTATION_INTERVAL": &c.Keys.RotationInterval,
		"KEYS_RETRY_INTERVAL":    &c.Keys.RetryInterval,
		"KEYS_SAFETY_MARGIN":     &c.Keys.SafetyMargin,
		"KEYS_RECORD_TTL":        &c.Keys.RecordTTL,
		"TOKENS_ACCESS_TTL":      &c.Tokens.AccessTTL,
		"TOKENS_REFRESH_TTL":     &c.Tokens.RefreshTTL,
		"TOKENS_CLOCK_SKEW":      &c.Tokens.ClockSkew,
		"VAULT_LOCAL_TTL":        &c.Vault.LocalTTL,
		"VAULT_NEGATIVE_TTL":     &c.Vault.NegativeTTL,
		"VAULT_FETCH_TIMEOUT":    &c.Vault.FetchTimeout,
	}
	for k, dst := range durs {
		v, ok, err := getEnvDur(k)
		if err != nil {
			return err
		}
		if ok {
			*dst = v
		}
	}

	if v, ok := getEnvCSV("GATE_PUBLIC_PATHS"); ok {
		c.Gate.PublicPaths = v
	}
	return nil
}
