package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

func nightlyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "nightly",
		Short: "Regenerate today's suggestions for every user once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.nightly.Run(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}
