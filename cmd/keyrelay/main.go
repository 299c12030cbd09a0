// Command keyrelay corre los roles del core de autenticación:
//
//	keyrelay issuer          rota claves, publica las públicas y emite tokens
//	keyrelay verifier        valida bearer tokens resolviendo claves por kid
//	keyrelay inspect <kid>   muestra el registro publicado de un kid
package main

import (
	"fmt"
	"os"

	"github.com/dropDatabas3/keyrelay/internal/config"
	"github.com/dropDatabas3/keyrelay/internal/observability/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

type rootFlags struct {
	configPath string
	envFile    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:           "keyrelay",
		Short:         "Emisión y validación stateless de bearer tokens con claves rotadas",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	root.PersistentFlags().StringVar(&f.configPath, "config", envOr("KEYRELAY_CONFIG", ""), "ruta a config.yaml (env KEYRELAY_CONFIG); vacío = defaults + env")
	root.PersistentFlags().StringVar(&f.envFile, "env-file", ".env", "ruta a .env (se ignora si no existe)")

	root.AddCommand(newIssuerCmd(f), newVerifierCmd(f), newInspectCmd(f))
	return root
}

// load lee .env, config y arranca el logger con el rol como service name.
func (f *rootFlags) load(role string) (*config.Config, error) {
	if f.envFile != "" {
		_ = godotenv.Load(f.envFile)
	}
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       cfg.Log.Level,
		ServiceName: role,
		Version:     firstNonEmpty(cfg.App.Version, version),
	})
	return cfg, nil
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
