package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/roadbook/config"
	"github.com/mohammad-safakhou/roadbook/internal/helpers"
	"github.com/mohammad-safakhou/roadbook/internal/search"
)

func diagnoseCMD() *cobra.Command {
	var cfgPath string
	var state string
	var filter string
	var topK int

	var diagnose = &cobra.Command{
		Use:   "diagnose [query]",
		Short: "Run raw retrieval against the index without generation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			ctx := context.Background()
			_, searcher, tele, err := buildAgent(ctx, cfg)
			if err != nil {
				return err
			}
			defer tele.Shutdown()

			if filter == "" && state != "" {
				filter = search.StateFilter(state)
			}
			hits, err := searcher.Search(ctx, search.Params{
				Query:  strings.Join(args, " "),
				Filter: filter,
				TopK:   topK,
			})
			if err != nil {
				return err
			}
			if filter != "" {
				fmt.Printf("filter: %s\n", filter)
			}
			for i, hit := range hits {
				fmt.Printf("[%d] score=%.4f %s (page %d)\n    %s\n",
					i+1, hit.Score, hit.DocumentName, hit.PageNumber,
					helpers.Truncate(helpers.CollapseWhitespace(hit.Content), 200))
				for _, u := range hit.ImageURLs {
					fmt.Printf("    image: %s\n", u)
				}
			}
			if len(hits) == 0 {
				fmt.Println("no hits")
			}
			return nil
		},
	}
	diagnose.Flags().StringVar(&state, "state", "", "US state to scope retrieval")
	diagnose.Flags().StringVar(&filter, "filter", "", "raw OData filter (overrides --state)")
	diagnose.Flags().IntVar(&topK, "top-k", 0, "number of chunks to retrieve (0 = configured default)")
	diagnose.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return diagnose
}
