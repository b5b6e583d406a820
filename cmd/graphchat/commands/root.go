// Package commands defines all Cobra CLI commands for the graphchat binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/graphchat-go/internal/audit"
	"github.com/54b3r/graphchat-go/internal/config"
	"github.com/54b3r/graphchat-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "graphchat",
		Short: "graphchat: chat with your PDFs and map the conversation as a knowledge graph",
		Long: `graphchat answers questions over the PDFs you upload and builds a
knowledge graph of the entities and relations found in the conversation
and the documents.

The model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.graphchat/config.yaml). A .env file in the working
directory is loaded first and never overrides the process environment.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Env vars always override YAML values.
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}

			audit.LogCommandStart(log, cmd.CommandPath(), path)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.graphchat/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewAskCmd(),
		NewIngestCmd(),
		NewGraphCmd(),
		NewVersionCmd(),
	)

	return root
}
