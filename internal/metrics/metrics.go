// Package metrics holds the Prometheus collectors for key rotation, key resolution
// and token validation. They live in a standalone package so keys, vault, jwt and
// middlewares can record without importing each other.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "keyrelay"

var (
	KeyRotations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "key_rotations_total",
		Help:      "Rotaciones de clave de firma por resultado (ok|publish_failed|generate_failed)",
	}, []string{"result"})

	KeyPublishSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "key_publish_seconds",
		Help:      "Latencia de escritura del registro de clave pública en el store compartido",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	ResolverLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "resolver_lookups_total",
		Help:      "Resoluciones de clave pública por origen (cache|negative|store|miss|error)",
	}, []string{"source"})

	TokenValidations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_validations_total",
		Help:      "Validaciones de token por resultado (ok o código de fallo)",
	}, []string{"result"})

	TokensIssued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tokens_issued_total",
		Help:      "Tokens emitidos por tipo",
	}, []string{"type"})
)

// Register registers the collectors on the given registry (or default if nil).
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{
		KeyRotations,
		KeyPublishSeconds,
		ResolverLookups,
		TokenValidations,
		TokensIssued,
	} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}
	return nil
}

// ObservePublish records a publish attempt duration.
func ObservePublish(start time.Time) {
	KeyPublishSeconds.Observe(time.Since(start).Seconds())
}
