// Package cache define el store compartido con TTL donde el issuer publica las claves
// públicas y donde cada servicio verificador las busca por kid.
//
// Drivers:
//   - redis    (distribuido, producción)
//   - postgres (distribuido, TTL vía columna expires_at)
//   - memory   (in-process, desarrollo/testing; go-cache)
//
// Los registros son inmutables una vez escritos y la única vía de borrado es la
// expiración del propio store.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Client define las operaciones mínimas que el core necesita del store compartido.
type Client interface {
	// Get obtiene un valor. Retorna ErrNotFound si no existe o ya expiró.
	Get(ctx context.Context, key string) (string, error)

	// Set guarda un valor con TTL. Si ttl es 0, no expira.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// TTL retorna el tiempo de vida restante de una key.
	// Retorna ErrNotFound si no existe; 0 si no expira.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Ping verifica la conexión.
	Ping(ctx context.Context) error

	// Close cierra la conexión.
	Close() error
}

// Config configuración para crear un cliente de cache.
type Config struct {
	Driver   string // "memory" | "redis" | "postgres"
	Addr     string // host:port (redis)
	Password string
	DB       int
	DSN      string // postgres
	Prefix   string // Prefijo para todas las keys
}

var (
	ErrNotFound      = errors.New("cache: key not found")
	ErrUnknownDriver = errors.New("cache: unknown driver")
)

// IsNotFound verifica si el error es porque la key no existe.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// New crea un cliente de cache según la configuración.
func New(ctx context.Context, cfg Config) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "redis":
		return NewRedis(ctx, cfg)
	case "postgres", "pg":
		return NewPostgres(ctx, cfg)
	case "memory", "":
		return NewMemory(cfg.Prefix), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}

func prefixed(prefix, k string) string {
	if prefix == "" {
		return k
	}
	return prefix + ":" + k
}
