package keys

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dropDatabas3/keyrelay/internal/cache"
	"github.com/dropDatabas3/keyrelay/internal/metrics"
	"github.com/dropDatabas3/keyrelay/internal/observability/logger"
	"go.uber.org/zap"
)

// PublisherConfig fija el TTL de los registros públicos.
type PublisherConfig struct {
	// MaxTokenTTL es max(accessTTL, refreshTTL).
	MaxTokenTTL time.Duration
	// SafetyMargin se suma a MaxTokenTTL para el TTL mínimo del registro.
	SafetyMargin time.Duration
	// RotationInterval es el tiempo que una clave sigue firmando después de publicada.
	RotationInterval time.Duration
	// RecordTTL explícito; 0 => RotationInterval + MaxTokenTTL + SafetyMargin.
	RecordTTL time.Duration
	// WriteTimeout acota cada escritura al store. Default 5s.
	WriteTimeout time.Duration
}

// MinRecordTTL es el TTL mínimo que garantiza que ningún token sobreviva a su registro:
// un token de MaxTokenTTL emitido justo antes de rotar vence en
// publicación + RotationInterval + MaxTokenTTL.
func (c PublisherConfig) MinRecordTTL() time.Duration {
	return c.minRecordTTL(c.RotationInterval)
}

func (c PublisherConfig) minRecordTTL(interval time.Duration) time.Duration {
	return interval + c.MaxTokenTTL + c.SafetyMargin
}

// Publisher escribe PublicKeyRecords en el store compartido.
type Publisher struct {
	store   cache.Client
	cfg     PublisherConfig
	ttl     time.Duration
	timeout time.Duration
	log     *zap.Logger
}

func NewPublisher(store cache.Client, cfg PublisherConfig, log *zap.Logger) (*Publisher, error) {
	if store == nil {
		return nil, errors.New("keys: publisher requires a store")
	}
	if cfg.MaxTokenTTL <= 0 {
		return nil, errors.New("keys: max token ttl must be positive")
	}
	if cfg.RotationInterval < 0 {
		return nil, errors.New("keys: rotation interval must not be negative")
	}
	ttl := cfg.RecordTTL
	if ttl == 0 {
		ttl = cfg.MinRecordTTL()
	}
	if ttl < cfg.MinRecordTTL() {
		return nil, fmt.Errorf("%w: %s < %s", ErrRecordTTLTooShort, ttl, cfg.MinRecordTTL())
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log == nil {
		log = logger.Named("publisher")
	}
	return &Publisher{store: store, cfg: cfg, ttl: ttl, timeout: timeout, log: log}, nil
}

// TTL retorna el TTL con el que se escriben los registros.
func (p *Publisher) TTL() time.Duration { return p.ttl }

// coversInterval indica si el TTL alcanza para una clave que firma durante interval.
func (p *Publisher) coversInterval(interval time.Duration) (time.Duration, bool) {
	need := p.cfg.minRecordTTL(interval)
	return need, p.ttl >= need
}

// Publish escribe el registro del par. Cualquier error del store se reporta como
// ErrStoreUnavailable para que el rotator reintente; nunca se traga.
func (p *Publisher) Publish(ctx context.Context, pair *SigningKeyPair) (PublicKeyRecord, error) {
	rec, err := NewRecord(pair, p.ttl)
	if err != nil {
		return PublicKeyRecord{}, err
	}
	val, err := rec.Marshal()
	if err != nil {
		return PublicKeyRecord{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	err = p.store.Set(ctx, RecordKey(rec.KID), val, p.ttl)
	metrics.ObservePublish(start)
	if err != nil {
		return PublicKeyRecord{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	p.log.Debug("public key published", logger.KID(rec.KID), logger.Alg(rec.Alg), logger.TTL(p.ttl))
	return rec, nil
}

// Lookup lee un registro publicado junto con su TTL restante.
func (p *Publisher) Lookup(ctx context.Context, kid string) (PublicKeyRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	val, err := p.store.Get(ctx, RecordKey(kid))
	if err != nil {
		if cache.IsNotFound(err) {
			return PublicKeyRecord{}, ErrRecordNotFound
		}
		return PublicKeyRecord{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	rec, err := UnmarshalRecord(val)
	if err != nil {
		return PublicKeyRecord{}, err
	}
	if ttl, err := p.store.TTL(ctx, RecordKey(kid)); err == nil {
		rec.TTL = ttl
	}
	return rec, nil
}
