package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dropDatabas3/keyrelay/internal/keys"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newInspectCmd(f *rootFlags) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "inspect <kid>",
		Short: "Muestra el registro de clave pública publicado para un kid y su TTL restante",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load("inspect")
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			pub, err := keys.NewPublisher(store, publisherConfig(cfg), zap.NewNop())
			if err != nil {
				return err
			}
			rec, err := pub.Lookup(cmd.Context(), args[0])
			if errors.Is(err, keys.ErrRecordNotFound) {
				return fmt.Errorf("kid %q: not published or expired", args[0])
			}
			if err != nil {
				return err
			}
			return printRecord(cmd.OutOrStdout(), rec, out)
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "text", "text | json")
	return cmd
}

func printRecord(w io.Writer, rec keys.PublicKeyRecord, format string) error {
	if format == "json" {
		v := struct {
			keys.PublicKeyRecord
			TTLSeconds int64 `json:"ttlSeconds"`
		}{rec, int64(rec.TTL / time.Second)}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	ttl := "no expiry"
	if rec.TTL > 0 {
		ttl = rec.TTL.Round(time.Second).String()
	}
	_, err := fmt.Fprintf(w, "kid:          %s\nalg:          %s\ngenerated_at: %s\nttl:          %s\npublic_key:   %s\n",
		rec.KID, rec.Alg, rec.GeneratedTime().Format(time.RFC3339), ttl, rec.PublicKey)
	return err
}
