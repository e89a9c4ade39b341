package main

import (
	"github.com/spf13/cobra"

	"github.com/joelkehle/greenlight/internal/config"
	"github.com/joelkehle/greenlight/internal/logger"
	"github.com/joelkehle/greenlight/internal/store"
)

func newSignupsCmd(cfg *config.Config) *cobra.Command {
	signups := &cobra.Command{
		Use:   "signups",
		Short: "Manage the email signup list",
	}
	signups.AddCommand(&cobra.Command{
		Use:   "export",
		Short: "Write all signups to stdout as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := store.Open(store.Config{Path: cfg.Store.Path})
			if err != nil {
				return err
			}
			defer st.Close()
			n, err := st.WriteSignupsCSV(cmd.Context(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			logger.FromContext(cmd.Context()).Info("signups exported", "count", n)
			return nil
		},
	})
	return signups
}
