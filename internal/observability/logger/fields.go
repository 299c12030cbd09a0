package logger

import (
	"time"

	"go.uber.org/zap"
)

// ─── HTTP ───

func RequestID(v string) zap.Field { return zap.String("request_id", v) }
func Method(v string) zap.Field    { return zap.String("method", v) }
func Path(v string) zap.Field      { return zap.String("path", v) }
func Status(v int) zap.Field       { return zap.Int("status", v) }

// ─── Claves y tokens ───

// KID identifica la clave de firma involucrada.
func KID(v string) zap.Field { return zap.String("kid", v) }

// Alg es el algoritmo de firma configurado o declarado por el token.
func Alg(v string) zap.Field { return zap.String("alg", v) }

// Kind es el código de fallo de validación (token_expired, invalid_signature...).
// Sólo para logs/métricas; nunca se devuelve al cliente.
func Kind(v string) zap.Field { return zap.String("kind", v) }

// Subject es el sub del token. No loguear el token completo.
func Subject(v string) zap.Field { return zap.String("sub", v) }

func TokenType(v string) zap.Field { return zap.String("token_type", v) }

func TTL(v time.Duration) zap.Field { return zap.Duration("ttl", v) }

// ─── Sistema ───

func Component(v string) zap.Field       { return zap.String("component", v) }
func Op(v string) zap.Field              { return zap.String("op", v) }
func Driver(v string) zap.Field          { return zap.String("driver", v) }
func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }
func Err(err error) zap.Field            { return zap.Error(err) }
