package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	migrations "github.com/dropDatabas3/keyrelay/migrations/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgClient implementa Client sobre una tabla shared_keys.
// El TTL se materializa en expires_at; las filas vencidas son invisibles para Get
// y se purgan en cada escritura.
type pgClient struct {
	pool   *pgxpool.Pool
	prefix string
}

// NewPostgres abre el pool, verifica la conexión y aplica el schema embebido.
func NewPostgres(ctx context.Context, cfg Config) (*pgClient, error) {
	if cfg.DSN == "" {
		return nil, errors.New("cache: postgres dsn required")
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("cache: postgres open: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("cache: postgres ping failed: %w", err)
	}

	if err := applySchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &pgClient{pool: pool, prefix: cfg.Prefix}, nil
}

func applySchema(ctx context.Context, pool *pgxpool.Pool) error {
	entries, err := fs.ReadDir(migrations.FS, migrations.Dir)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		b, err := fs.ReadFile(migrations.FS, migrations.Dir+"/"+name)
		if err != nil {
			return err
		}
		if _, err := pool.Exec(ctx, string(b)); err != nil {
			return fmt.Errorf("cache: postgres migration %s: %w", name, err)
		}
	}
	return nil
}

func (c *pgClient) Get(ctx context.Context, key string) (string, error) {
	const q = `
SELECT value FROM shared_keys
WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())`
	var v string
	if err := c.pool.QueryRow(ctx, q, prefixed(c.prefix, key)).Scan(&v); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return v, nil
}

func (c *pgClient) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl).UTC()
		expiresAt = &t
	}

	b := &pgx.Batch{}
	b.Queue(`
INSERT INTO shared_keys (key, value, expires_at)
VALUES ($1, $2, $3)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
		prefixed(c.prefix, key), value, expiresAt)
	b.Queue(`DELETE FROM shared_keys WHERE expires_at IS NOT NULL AND expires_at <= now()`)

	return c.pool.SendBatch(ctx, b).Close()
}

func (c *pgClient) TTL(ctx context.Context, key string) (time.Duration, error) {
	const q = `
SELECT expires_at FROM shared_keys
WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())`
	var expiresAt *time.Time
	if err := c.pool.QueryRow(ctx, q, prefixed(c.prefix, key)).Scan(&expiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	if expiresAt == nil {
		return 0, nil
	}
	return time.Until(*expiresAt), nil
}

func (c *pgClient) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

func (c *pgClient) Close() error {
	c.pool.Close()
	return nil
}
