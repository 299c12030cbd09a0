package keys

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dropDatabas3/keyrelay/internal/metrics"
	"github.com/dropDatabas3/keyrelay/internal/observability/logger"
	"go.uber.org/zap"
)

// RotatorConfig configura la generación y la cadencia de rotación.
type RotatorConfig struct {
	Algorithm Algorithm
	RSABits   int
	// Interval entre rotaciones exitosas.
	Interval time.Duration
	// RetryInterval tras una rotación fallida (<= Interval). Default min(Interval, 30s).
	RetryInterval time.Duration
	// HistorySize acota History(). Default 16.
	HistorySize int
}

// Rotator es dueño de la clave de firma actual y la reemplaza periódicamente.
//
// Política de publicación: un par sólo pasa a ser "current" después de que su
// registro público quedó escrito en el store. Si publicar falla, el par anterior
// sigue vigente y el intento se repite en el próximo tick; nunca se firma con una
// clave que los verificadores no puedan resolver.
type Rotator struct {
	cfg RotatorConfig
	pub *Publisher
	log *zap.Logger
	now func() time.Time

	mu      sync.Mutex // serializa Rotate
	current atomic.Pointer[SigningKeyPair]

	ready     chan struct{}
	readyOnce sync.Once

	histMu  sync.RWMutex
	history []string
}

type RotatorOption func(*Rotator)

func WithRotatorLogger(l *zap.Logger) RotatorOption {
	return func(r *Rotator) { r.log = l }
}

// WithRotatorClock inyecta el reloj (tests).
func WithRotatorClock(now func() time.Time) RotatorOption {
	return func(r *Rotator) { r.now = now }
}

func NewRotator(pub *Publisher, cfg RotatorConfig, opts ...RotatorOption) (*Rotator, error) {
	if pub == nil {
		return nil, errors.New("keys: rotator requires a publisher")
	}
	if _, err := ParseAlgorithm(string(cfg.Algorithm)); err != nil {
		return nil, err
	}
	if cfg.Algorithm == RS256 && cfg.RSABits != 0 && cfg.RSABits < MinRSABits {
		return nil, fmt.Errorf("%w: rsa %d bits", ErrWeakKey, cfg.RSABits)
	}
	if cfg.Interval <= 0 {
		return nil, errors.New("keys: rotation interval must be positive")
	}
	// La clave firma durante todo Interval; su registro tiene que cubrirlo.
	if need, ok := pub.coversInterval(cfg.Interval); !ok {
		return nil, fmt.Errorf("%w: %s < interval %s + max token ttl + safety margin = %s",
			ErrRecordTTLTooShort, pub.TTL(), cfg.Interval, need)
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = min(cfg.Interval, 30*time.Second)
	}
	if cfg.RetryInterval > cfg.Interval {
		cfg.RetryInterval = cfg.Interval
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 16
	}

	r := &Rotator{
		cfg:   cfg,
		pub:   pub,
		now:   time.Now,
		ready: make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	if r.log == nil {
		r.log = logger.Named("rotator")
	}
	return r, nil
}

// Current retorna el snapshot vigente. Seguro en paralelo con Rotate.
func (r *Rotator) Current() (*SigningKeyPair, error) {
	p := r.current.Load()
	if p == nil {
		return nil, ErrNoActiveKey
	}
	return p, nil
}

// Ready se cierra tras la primera rotación exitosa.
func (r *Rotator) Ready() <-chan struct{} { return r.ready }

// WaitReady bloquea hasta que exista una clave publicada o se cancele ctx.
func (r *Rotator) WaitReady(ctx context.Context) error {
	select {
	case <-r.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Rotate genera un par nuevo, lo publica y recién entonces lo instala como actual.
func (r *Rotator) Rotate(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	pair, err := Generate(r.cfg.Algorithm, r.cfg.RSABits, r.now())
	if err != nil {
		metrics.KeyRotations.WithLabelValues("generate_failed").Inc()
		r.log.Error("key generation failed", logger.Alg(string(r.cfg.Algorithm)), logger.Err(err))
		return fmt.Errorf("keys: generate: %w", err)
	}

	rec, err := r.pub.Publish(ctx, pair)
	if err != nil {
		metrics.KeyRotations.WithLabelValues("publish_failed").Inc()
		fields := []zap.Field{logger.KID(pair.KID), logger.Err(err)}
		if prev := r.current.Load(); prev != nil {
			fields = append(fields, zap.String("current_kid", prev.KID))
		}
		r.log.Error("key publish failed, keeping current key", fields...)
		return err
	}
	pair.publishedUntil = pair.GeneratedAt.Add(rec.TTL)

	prev := r.current.Swap(pair)
	metrics.KeyRotations.WithLabelValues("ok").Inc()

	fields := []zap.Field{logger.KID(pair.KID), logger.Alg(string(pair.Alg)), logger.TTL(rec.TTL)}
	if prev != nil {
		fields = append(fields, zap.String("previous_kid", prev.KID))
	}
	r.log.Info("signing key rotated", fields...)

	r.pushHistory(pair.KID)
	r.readyOnce.Do(func() { close(r.ready) })
	return nil
}

// Run rota una vez al arrancar y luego cada Interval hasta que ctx se cancela.
// Un fallo sólo adelanta el próximo intento a RetryInterval.
func (r *Rotator) Run(ctx context.Context) {
	t := time.NewTimer(r.tick(ctx))
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			t.Reset(r.tick(ctx))
		}
	}
}

func (r *Rotator) tick(ctx context.Context) (next time.Duration) {
	next = r.cfg.RetryInterval
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("rotation panicked", zap.Any("panic", rec))
		}
	}()
	if ctx.Err() != nil {
		return next
	}
	if err := r.Rotate(ctx); err != nil {
		return next
	}
	return r.cfg.Interval
}

// History retorna los kids rotados por este proceso, el más reciente primero.
func (r *Rotator) History() []string {
	r.histMu.RLock()
	defer r.histMu.RUnlock()
	out := make([]string, len(r.history))
	copy(out, r.history)
	return out
}

func (r *Rotator) pushHistory(kid string) {
	r.histMu.Lock()
	defer r.histMu.Unlock()
	r.history = append([]string{kid}, r.history...)
	if len(r.history) > r.cfg.HistorySize {
		r.history = r.history[:r.cfg.HistorySize]
	}
}
