package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"auditlog/config"
)

func setupCmd(load func() (config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Create the audit index and its write alias",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			name, err := a.service.CreateIndex(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Index: %s created!\n", name)
			return nil
		},
	}
}
