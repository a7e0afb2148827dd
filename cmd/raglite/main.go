// Command raglite runs the RAGLite ingestion and retrieval server and its CLI.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/raglite/internal/config"
	"github.com/hyperjump/raglite/pkg/utils"
)

const (
	defaultConfigPath = "/usr/local/etc/raglite/config.yaml"
	defaultEnvFile    = ".env"
)

var version = "dev"

type rootOptions struct {
	configPath string
	envFile    string
	debug      bool
	tenant     string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "raglite",
		Short:         "Multi-tenant document ingestion and hybrid retrieval",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfigPath, "Path to config file")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", defaultEnvFile, "Path to .env file")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&opts.tenant, "tenant", "default", "Tenant id for CLI operations")

	root.AddCommand(
		newServeCommand(opts),
		newIngestCommand(opts),
		newReindexCommand(opts),
		newQueryCommand(opts),
		newStatusCommand(opts),
		newDatasetsCommand(opts),
		newVersionCommand(),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "raglite %s\n", version)
		},
	}
}

// setup loads the env file and config and builds the logger.
func (o *rootOptions) setup() (*config.Config, *zap.Logger, error) {
	if err := config.LoadEnvFile(o.envFile); err != nil {
		return nil, nil, err
	}
	cfg, err := loadConfig(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := utils.NewLogger(o.debug || cfg.Debug)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, logger, nil
}

// loadConfig loads configuration from path. When path is the default and ./config.yaml
// exists, the local file wins. A missing default file falls back to built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path == defaultConfigPath {
		if _, err := os.Stat("config.yaml"); err == nil {
			return config.Load("config.yaml")
		}
		cfg, err := config.Load(path)
		if errors.Is(err, fs.ErrNotExist) {
			cfg = config.Default()
			if err := cfg.Validate(); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return cfg, err
	}
	return config.Load(path)
}
