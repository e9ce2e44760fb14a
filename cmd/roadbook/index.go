package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/roadbook/config"
	"github.com/mohammad-safakhou/roadbook/internal/indexer"
)

func indexCMD() *cobra.Command {
	var cfgPath string

	var index = &cobra.Command{
		Use:   "index",
		Short: "Manage the document ingestion pipeline",
	}
	index.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	newClient := func() (*indexer.Client, *config.Config, error) {
		cfg, err := config.LoadConfig(cfgPath)
		if err != nil {
			return nil, nil, err
		}
		return indexer.NewClient(cfg.Indexer, cfg.Search.Index), cfg, nil
	}

	var wait bool
	run := &cobra.Command{
		Use:   "run",
		Short: "Trigger an indexer run",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cfg, err := newClient()
			if err != nil {
				return err
			}
			ctx := context.Background()
			if !wait {
				return client.Run(ctx)
			}
			res, err := client.RunAndWait(ctx, cfg.Indexer.PollInterval, cfg.Indexer.PollTimeout)
			if err != nil {
				return err
			}
			fmt.Print(indexer.FormatResult(res))
			return nil
		},
	}
	run.Flags().BoolVar(&wait, "wait", false, "block until the run completes")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show indexer status and run history",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newClient()
			if err != nil {
				return err
			}
			report, err := client.Monitor(context.Background())
			if err != nil {
				return err
			}
			fmt.Print(report)
			return nil
		},
	}

	reset := &cobra.Command{
		Use:   "reset",
		Short: "Reset indexer change tracking (next run reprocesses everything)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newClient()
			if err != nil {
				return err
			}
			return client.Reset(context.Background())
		},
	}

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Validate the deployed pipeline components and index content",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newClient()
			if err != nil {
				return err
			}
			rep, err := client.Validate(context.Background())
			if err != nil {
				return err
			}
			fmt.Print(indexer.FormatReport(rep))
			if !rep.Healthy() {
				return fmt.Errorf("pipeline validation failed")
			}
			return nil
		},
	}

	watch := &cobra.Command{
		Use:   "watch",
		Short: "Wait for the current indexer run to finish",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cfg, err := newClient()
			if err != nil {
				return err
			}
			res, err := client.WaitForCompletion(context.Background(), cfg.Indexer.PollInterval, cfg.Indexer.PollTimeout)
			if err != nil {
				return err
			}
			fmt.Print(indexer.FormatResult(res))
			return nil
		},
	}

	upload := &cobra.Command{
		Use:   "upload <file-or-dir>",
		Short: "Upload manual PDFs to blob storage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			u := indexer.NewUploader(cfg.Indexer)
			ctx := context.Background()

			if fi, err := os.Stat(args[0]); err != nil {
				return err
			} else if fi.IsDir() {
				uploaded, err := u.UploadDir(ctx, args[0])
				if err != nil {
					return err
				}
				for name, meta := range uploaded {
					fmt.Printf("uploaded %s (state=%s year=%s version=%s)\n", name, meta.State, meta.Year, meta.Version)
				}
				return nil
			}
			meta, err := u.Upload(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("uploaded %s (state=%s year=%s version=%s)\n", args[0], meta.State, meta.Year, meta.Version)
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List uploaded documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			blobs, err := indexer.NewUploader(cfg.Indexer).List(context.Background())
			if err != nil {
				return err
			}
			for _, b := range blobs {
				fmt.Printf("%-50s %10d  %s\n", b.Name, b.Size, b.LastModified)
			}
			return nil
		},
	}

	index.AddCommand(run, status, reset, validate, watch, upload, list)
	return index
}
