package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/roadbook/tools/pdfgen"
)

func pdfgenCMD() *cobra.Command {
	var state string
	var fromURL string
	var out string

	var cmd = &cobra.Command{
		Use:   "pdfgen",
		Short: "Generate a manual PDF for seeding or testing the index",
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				return fmt.Errorf("--out is required")
			}
			g := pdfgen.New()
			ctx := context.Background()
			if fromURL != "" {
				if err := g.FromURL(ctx, fromURL, out); err != nil {
					return err
				}
				fmt.Printf("wrote %s from %s\n", out, fromURL)
				return nil
			}
			if state == "" {
				return fmt.Errorf("--state or --url is required")
			}
			if err := g.FromManual(ctx, pdfgen.SampleManual(state), out); err != nil {
				return err
			}
			fmt.Printf("wrote sample %s manual to %s\n", state, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "generate a synthetic manual for this state")
	cmd.Flags().StringVar(&fromURL, "url", "", "render this page as a PDF instead")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output PDF path")

	return cmd
}
