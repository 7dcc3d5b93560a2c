package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"plcserver/internal/adapters/history"
	"plcserver/internal/blob"
)

func newExportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Archive every reading sequence as CSV into the configured blob store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}
			log, err := openLog(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer log.Close()
			store, err := blob.Open(cmd.Context(), cfg.BlobOptions())
			if err != nil {
				return err
			}
			res, err := history.NewArchiver(log, store, history.WithLogger(logger)).Archive(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
}
