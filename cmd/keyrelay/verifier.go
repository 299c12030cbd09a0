package main

import (
	"os"
	"os/signal"
	"syscall"

	mw "github.com/dropDatabas3/keyrelay/internal/http/middlewares"
	"github.com/dropDatabas3/keyrelay/internal/http/server"
	"github.com/dropDatabas3/keyrelay/internal/jwt"
	"github.com/dropDatabas3/keyrelay/internal/observability/logger"
	"github.com/dropDatabas3/keyrelay/internal/vault"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newVerifierCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "verifier",
		Short: "Valida bearer tokens resolviendo claves públicas por kid",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.load("verifier")
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			log := logger.Named("main")
			warnLocalStore(log, cfg, "verifier")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			res, err := vault.New(store, vaultConfig(cfg))
			if err != nil {
				return err
			}
			val, err := jwt.NewValidator(res, validatorConfig(cfg))
			if err != nil {
				return err
			}
			gate, err := mw.NewGate(val)
			if err != nil {
				return err
			}
			metricsHandler, err := server.MetricsHandler(nil)
			if err != nil {
				return err
			}

			log.Info("verifier starting",
				zap.String("addr", cfg.Server.Addr),
				logger.Alg(cfg.Keys.Algorithm),
				logger.Driver(cfg.Store.Driver),
			)
			return server.Start(ctx, cfg.Server.Addr, server.NewVerifierRouter(server.VerifierDeps{
				Store:       store,
				Gate:        gate,
				PublicPaths: cfg.Gate.PublicPaths,
				Metrics:     metricsHandler,
			}))
		},
	}
}
