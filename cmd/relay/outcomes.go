package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"badgeup.io/relay/internal/persistence/indexdb"
)

func newOutcomesCommand(opts *RootOptions) *cobra.Command {
	var (
		dataDir string
		subject string
		limit   int
	)
	cmd := &cobra.Command{
		Use:       "outcomes [summary|recent]",
		Short:     "Query the delivery outcome index",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"summary", "recent"},
		RunE: func(cmd *cobra.Command, args []string) error {
			q := "summary"
			if len(args) > 0 {
				q = args[0]
			}
			if dataDir == "" {
				cfg, err := opts.load()
				if err != nil {
					return err
				}
				dataDir = cfg.Data.Dir
			}
			path := indexdb.PathFor(dataDir)
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("no outcome index: %w", err)
			}
			idx, err := indexdb.OpenSQLite(path, nil)
			if err != nil {
				return err
			}
			defer idx.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetEscapeHTML(false)
			switch q {
			case "summary":
				sum, err := idx.Summarize(cmd.Context())
				if err != nil {
					return err
				}
				return enc.Encode(sum)
			case "recent":
				rows, err := idx.Recent(cmd.Context(), subject, limit)
				if err != nil {
					return err
				}
				for _, r := range rows {
					if err := enc.Encode(r); err != nil {
						return err
					}
				}
				return nil
			default:
				return fmt.Errorf("unknown query %q (summary|recent)", q)
			}
		},
	}
	cmd.Flags().StringVar(&dataDir, "data", "", "data dir (default: data.dir from config)")
	cmd.Flags().StringVar(&subject, "subject", "", "only this subject (recent)")
	cmd.Flags().IntVar(&limit, "limit", 20, "result limit (recent)")
	return cmd
}
