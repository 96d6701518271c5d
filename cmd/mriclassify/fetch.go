package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (a *app) fetchModelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch-model",
		Short: "Download the model file if it is not present",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			downloaded, err := ensureModel(cmd.Context(), a.cfg)
			if err != nil {
				return err
			}
			if downloaded {
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Downloaded model to %s\n", a.cfg.Model.Path)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Model already present at %s\n", a.cfg.Model.Path)
			}
			return nil
		},
	}
}
