package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dropDatabas3/keyrelay/internal/http/server"
	"github.com/dropDatabas3/keyrelay/internal/jwt"
	"github.com/dropDatabas3/keyrelay/internal/keys"
	"github.com/dropDatabas3/keyrelay/internal/observability/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newIssuerCmd(f *rootFlags) *cobra.Command {
	var waitKey time.Duration
	cmd := &cobra.Command{
		Use:   "issuer",
		Short: "Rota claves de firma, publica las públicas y emite tokens",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.load("issuer")
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			log := logger.Named("main")
			warnLocalStore(log, cfg, "issuer")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			pub, err := keys.NewPublisher(store, publisherConfig(cfg), nil)
			if err != nil {
				return err
			}
			rot, err := keys.NewRotator(pub, rotatorConfig(cfg))
			if err != nil {
				return err
			}
			iss, err := jwt.NewIssuer(rot, issuerConfig(cfg))
			if err != nil {
				return err
			}
			metricsHandler, err := server.MetricsHandler(nil)
			if err != nil {
				return err
			}

			if cfg.Server.IssueAPIKey == "" {
				log.Warn("server.issue_api_key not set, POST /v1/tokens will answer 503")
			}

			go rot.Run(ctx)

			// No bloquea el arranque: mientras no haya clave, /v1/tokens responde 503.
			waitCtx, cancel := context.WithTimeout(ctx, waitKey)
			if err := rot.WaitReady(waitCtx); err != nil {
				log.Warn("no signing key published yet, serving anyway", logger.Err(err))
			}
			cancel()

			log.Info("issuer starting",
				zap.String("addr", cfg.Server.Addr),
				logger.Alg(cfg.Keys.Algorithm),
				logger.Driver(cfg.Store.Driver),
				logger.TTL(pub.TTL()),
			)
			return server.Start(ctx, cfg.Server.Addr, server.NewIssuerRouter(server.IssuerDeps{
				Store:   store,
				Rotator: rot,
				Issuer:  iss,
				APIKey:  cfg.Server.IssueAPIKey,
				Metrics: metricsHandler,
			}))
		},
	}
	cmd.Flags().DurationVar(&waitKey, "wait-key", 10*time.Second, "cuánto esperar la primera clave publicada antes de servir")
	return cmd
}
