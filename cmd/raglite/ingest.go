package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/raglite/internal/indexer"
	"github.com/hyperjump/raglite/internal/models"
)

func newIngestCommand(opts *rootOptions) *cobra.Command {
	var (
		embedder   string
		extensions []string
	)
	cmd := &cobra.Command{
		Use:   "ingest <dataset-id> <path>...",
		Short: "Ingest files or directories into a dataset",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if len(extensions) == 0 {
				extensions = cfg.Watch.Extensions
			}

			ctx := cmd.Context()
			c, err := initializeComponents(ctx, cfg, logger, true)
			if err != nil {
				return err
			}
			defer c.Close()

			datasetID := args[0]
			files, err := collectFiles(args[1:], extensions)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			var failed int
			for _, path := range files {
				acc, err := c.Uploader.AcceptFile(ctx, opts.tenant, datasetID, path, embedder)
				var dup *indexer.DuplicateError
				switch {
				case errors.As(err, &dup):
					fmt.Fprintf(out, "duplicate\t%s\t%s\n", path, dup.Existing.ID)
				case acc == nil:
					return fmt.Errorf("ingest %s: %w", path, err)
				case err != nil:
					failed++
					logger.Warn("ingest failed", zap.String("path", path), zap.String("job_id", acc.Job.ID), zap.Error(err))
					fmt.Fprintf(out, "failed\t%s\t%s\n", path, acc.Document.ID)
				default:
					fmt.Fprintf(out, "indexed\t%s\t%s\n", path, acc.Document.ID)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed to ingest", failed, len(files))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&embedder, "embedder", "", "Embedding model (defaults to the dataset's)")
	cmd.Flags().StringSliceVar(&extensions, "ext", nil, "File extensions to include when walking directories")
	return cmd
}

// collectFiles expands directories into the regular files below them. Explicit file
// arguments are always included; files found by walking must match extensions.
func collectFiles(paths []string, extensions []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			name := d.Name()
			if d.IsDir() {
				if path != p && strings.HasPrefix(name, ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if d.Type().IsRegular() && !strings.HasPrefix(name, ".") && hasExtension(name, extensions) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

func hasExtension(name string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

func newReindexCommand(opts *rootOptions) *cobra.Command {
	var embedder string
	cmd := &cobra.Command{
		Use:   "reindex <dataset-id>",
		Short: "Re-chunk and re-embed every live document in a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx := cmd.Context()
			c, err := initializeComponents(ctx, cfg, logger, true)
			if err != nil {
				return err
			}
			defer c.Close()

			job, err := c.Uploader.RequestReindex(ctx, opts.tenant, args[0], embedder)
			if job == nil {
				return err
			}
			if err != nil {
				return fmt.Errorf("reindex job %s failed: %w", job.ID, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reindexed dataset %s (job %s)\n", args[0], job.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&embedder, "embedder", "", "Switch the dataset to this embedding model")
	return cmd
}

func newDatasetsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "datasets",
		Short: "Manage datasets",
	}

	var (
		description string
		embedder    string
	)
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			c, err := initializeComponents(cmd.Context(), cfg, logger, true)
			if err != nil {
				return err
			}
			defer c.Close()

			ds := &models.Dataset{
				TenantID:    opts.tenant,
				Name:        args[0],
				Description: description,
				Embedder:    embedder,
			}
			if err := c.Storage.CreateDataset(cmd.Context(), ds); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ds.ID)
			return nil
		},
	}
	create.Flags().StringVar(&description, "description", "", "Dataset description")
	create.Flags().StringVar(&embedder, "embedder", "", "Embedding model for the dataset")

	list := &cobra.Command{
		Use:   "list",
		Short: "List the tenant's datasets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			c, err := initializeComponents(cmd.Context(), cfg, logger, true)
			if err != nil {
				return err
			}
			defer c.Close()

			list, err := c.Storage.ListDatasets(cmd.Context(), opts.tenant)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tEMBEDDER")
			for _, ds := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", ds.ID, ds.Name, ds.Embedder)
			}
			return tw.Flush()
		},
	}

	cmd.AddCommand(create, list)
	return cmd
}
