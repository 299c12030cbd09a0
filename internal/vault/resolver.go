// Package vault resolves public verification keys by kid for token validators.
//
// Cada servicio verificador tiene su propio Resolver: un LRU acotado con TTL local
// delante del store compartido, más un cache negativo para kids desconocidos.
// Las búsquedas concurrentes del mismo kid se colapsan en un solo fetch.
package vault

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"time"

	"github.com/dropDatabas3/keyrelay/internal/cache"
	"github.com/dropDatabas3/keyrelay/internal/keys"
	"github.com/dropDatabas3/keyrelay/internal/metrics"
	"github.com/dropDatabas3/keyrelay/internal/observability/logger"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var ErrPublicKeyNotFound = errors.New("public_key_not_found")

// Config del resolver. LocalTTL debe ser menor que el TTL de los registros.
type Config struct {
	Algorithm keys.Algorithm
	// LocalTTL de cada entrada positiva. Default 5m.
	LocalTTL time.Duration
	// MaxEntries acota ambos caches. Default 1024.
	MaxEntries int
	// NegativeTTL de los kids no encontrados. 0 desactiva el cache negativo.
	NegativeTTL time.Duration
	// FetchTimeout acota cada lectura al store. Default 2s.
	FetchTimeout time.Duration
}

// Resolver es seguro para uso concurrente.
type Resolver struct {
	store cache.Client
	cfg   Config
	log   *zap.Logger

	keys     *expirable.LRU[string, crypto.PublicKey]
	negative *expirable.LRU[string, struct{}]
	sf       singleflight.Group
}

type Option func(*Resolver)

func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) { r.log = l }
}

func New(store cache.Client, cfg Config, opts ...Option) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("vault: resolver requires a store")
	}
	if _, err := keys.ParseAlgorithm(string(cfg.Algorithm)); err != nil {
		return nil, err
	}
	if cfg.LocalTTL <= 0 {
		cfg.LocalTTL = 5 * time.Minute
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1024
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 2 * time.Second
	}
	if cfg.NegativeTTL < 0 {
		cfg.NegativeTTL = 0
	}

	r := &Resolver{
		store: store,
		cfg:   cfg,
		keys:  expirable.NewLRU[string, crypto.PublicKey](cfg.MaxEntries, nil, cfg.LocalTTL),
	}
	if cfg.NegativeTTL > 0 {
		r.negative = expirable.NewLRU[string, struct{}](cfg.MaxEntries, nil, cfg.NegativeTTL)
	}
	for _, o := range opts {
		o(r)
	}
	if r.log == nil {
		r.log = logger.Named("vault")
	}
	return r, nil
}

// Resolve retorna la clave pública de kid. Cualquier fallo se reporta como
// ErrPublicKeyNotFound (fail closed); la causa queda envuelta.
func (r *Resolver) Resolve(ctx context.Context, kid string) (crypto.PublicKey, error) {
	if kid == "" {
		metrics.ResolverLookups.WithLabelValues("miss").Inc()
		return nil, ErrPublicKeyNotFound
	}
	if r.negative != nil {
		if _, ok := r.negative.Get(kid); ok {
			metrics.ResolverLookups.WithLabelValues("negative").Inc()
			return nil, ErrPublicKeyNotFound
		}
	}
	if pub, ok := r.keys.Get(kid); ok {
		metrics.ResolverLookups.WithLabelValues("cache").Inc()
		return pub, nil
	}

	// El fetch compartido no hereda la cancelación del primer caller; sólo FetchTimeout lo corta.
	fetchCtx := context.WithoutCancel(ctx)
	ch := r.sf.DoChan(kid, func() (any, error) {
		return r.fetch(fetchCtx, kid)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(crypto.PublicKey), nil
	case <-ctx.Done():
		metrics.ResolverLookups.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %w", ErrPublicKeyNotFound, ctx.Err())
	}
}

func (r *Resolver) fetch(ctx context.Context, kid string) (crypto.PublicKey, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	defer cancel()

	key := keys.RecordKey(kid)
	val, err := r.store.Get(ctx, key)
	if err != nil {
		if cache.IsNotFound(err) {
			r.remember(kid)
			metrics.ResolverLookups.WithLabelValues("miss").Inc()
			return nil, ErrPublicKeyNotFound
		}
		metrics.ResolverLookups.WithLabelValues("error").Inc()
		r.log.Warn("public key fetch failed", logger.KID(kid), logger.Err(err))
		return nil, fmt.Errorf("%w: %w", ErrPublicKeyNotFound, err)
	}

	rec, err := keys.UnmarshalRecord(val)
	if err == nil && rec.KID != kid {
		err = fmt.Errorf("%w: kid %q stored under %q", keys.ErrInvalidRecord, rec.KID, kid)
	}
	var pub crypto.PublicKey
	if err == nil {
		pub, err = rec.PublicKeyFor(r.cfg.Algorithm)
	}
	if err != nil {
		r.remember(kid)
		metrics.ResolverLookups.WithLabelValues("miss").Inc()
		r.log.Warn("unusable public key record", logger.KID(kid), logger.Err(err))
		return nil, fmt.Errorf("%w: %w", ErrPublicKeyNotFound, err)
	}

	// Un registro a punto de expirar no se cachea más allá de su vida en el store.
	if ttl, err := r.store.TTL(ctx, key); err == nil && ttl > 0 && ttl < r.cfg.LocalTTL {
		r.log.Debug("record expires before local ttl, not caching", logger.KID(kid), logger.TTL(ttl))
	} else {
		r.keys.Add(kid, pub)
	}
	metrics.ResolverLookups.WithLabelValues("store").Inc()
	return pub, nil
}

func (r *Resolver) remember(kid string) {
	if r.negative != nil {
		r.negative.Add(kid, struct{}{})
	}
}

// Invalidate descarta kid de ambos caches.
func (r *Resolver) Invalidate(kid string) {
	r.keys.Remove(kid)
	if r.negative != nil {
		r.negative.Remove(kid)
	}
}

// Len retorna la cantidad de claves cacheadas (positivas).
func (r *Resolver) Len() int { return r.keys.Len() }
