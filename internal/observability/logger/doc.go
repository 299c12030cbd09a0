// Package logger provides the process-wide zap logger used by the issuer and the
// verifiers, plus ctx scoping and the field helpers shared by every component.
//
// Init se llama una vez en cmd/keyrelay; los componentes reciben un *zap.Logger
// (por defecto logger.Named("<componente>")) y nunca construyen el suyo.
//
//	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level, ServiceName: "verifier"})
//	defer logger.Sync()
//
//	log := logger.From(ctx)
//	log.Debug("token rejected", logger.Kind(kind), logger.KID(kid))
package logger
