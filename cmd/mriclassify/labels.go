package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Brownie44l1/mri-classifier/internal/render"
)

func (a *app) labelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "labels",
		Short: "List the tumor types the model predicts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), render.LegendText())
			return err
		},
	}
}
