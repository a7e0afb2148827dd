package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperjump/raglite/internal/cli"
	"github.com/hyperjump/raglite/internal/models"
	"github.com/hyperjump/raglite/internal/storage"
)

const clientTimeout = 60 * time.Second

type queryOptions struct {
	serverURL  string
	datasetIDs []string
	k          int
	minScore   float64
	noRewrite  bool
	answer     bool
	embedder   string
	output     string
}

func newQueryCommand(opts *rootOptions) *cobra.Command {
	qo := &queryOptions{}
	cmd := &cobra.Command{
		Use:   "query <text>...",
		Short: "Run a hybrid query against one or more datasets",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseFormat(qo.output)
			if err != nil {
				return err
			}
			req := buildQuery(args, qo, cmd.Flags().Changed("min-score"))

			var resp *models.QueryResponse
			if qo.serverURL != "" {
				ctx, cancel := context.WithTimeout(cmd.Context(), clientTimeout)
				defer cancel()
				resp, err = cli.NewClient(qo.serverURL, opts.tenant, clientTimeout).Query(ctx, req)
			} else {
				resp, err = queryDirect(cmd.Context(), opts, req)
			}
			if err != nil {
				return err
			}
			return cli.WriteQueryResults(cmd.OutOrStdout(), resp, format)
		},
	}
	f := cmd.Flags()
	f.StringVar(&qo.serverURL, "server", "", "Query a running server at this URL instead of opening the stores")
	f.StringSliceVarP(&qo.datasetIDs, "dataset", "d", nil, "Dataset id to search (repeatable)")
	f.IntVar(&qo.k, "k", models.DefaultK, "Number of results")
	f.Float64Var(&qo.minScore, "min-score", 0, "Drop results scoring below this value")
	f.BoolVar(&qo.noRewrite, "no-rewrite", false, "Disable query rewriting")
	f.BoolVar(&qo.answer, "answer", false, "Generate an answer from the results")
	f.StringVar(&qo.embedder, "embedder", "", "Embedding model for the query")
	f.StringVarP(&qo.output, "output", "o", string(cli.OutputText), "Output format: text, compact or json")
	return cmd
}

// buildQuery assembles a request from the positional words and flags. MinScore is
// only set when the flag was given, so the server default applies otherwise.
func buildQuery(args []string, qo *queryOptions, minScoreSet bool) *models.QueryRequest {
	req := &models.QueryRequest{
		Query:      strings.TrimSpace(strings.Join(args, " ")),
		DatasetIDs: qo.datasetIDs,
		K:          qo.k,
		Embedder:   qo.embedder,
		Answer:     qo.answer,
	}
	if minScoreSet {
		ms := qo.minScore
		req.MinScore = &ms
	}
	if qo.noRewrite {
		off := false
		req.Rewrite = &off
	}
	return req
}

func queryDirect(ctx context.Context, opts *rootOptions, req *models.QueryRequest) (*models.QueryResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	cfg, logger, err := opts.setup()
	if err != nil {
		return nil, err
	}
	defer func() { _ = logger.Sync() }()
	c, err := initializeComponents(ctx, cfg, logger, true)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return c.Engine.Query(ctx, opts.tenant, req)
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show document and chunk counts and disk usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if serverURL != "" {
				ctx, cancel := context.WithTimeout(cmd.Context(), clientTimeout)
				defer cancel()
				st, err := cli.NewClient(serverURL, opts.tenant, clientTimeout).Status(ctx)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}

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

			docs, err := c.Storage.CountDocuments(cmd.Context())
			if err != nil {
				return err
			}
			chunks, err := c.Storage.CountChunks(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Documents: %d\n", docs)
			fmt.Fprintf(out, "Chunks:    %d\n", chunks)
			fmt.Fprintf(out, "Vector:    %s\n", cfg.Vector.Backend)
			fmt.Fprintf(out, "Embedder:  %s\n", cfg.Embedding.DefaultModel)
			if usage, err := storage.MeasureUsage(cfg.Storage.DatabasePath, cfg.Blob.Root); err == nil {
				fmt.Fprintf(out, "Disk:      %d bytes database, %d bytes blobs\n", usage.DatabaseBytes, usage.BlobBytes)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "Ask a running server instead of opening the stores")
	return cmd
}
