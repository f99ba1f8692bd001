// Command walletchatd relays wallet chat to a hosted model provider.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tokligence/walletchat/internal/bootstrap"
	"github.com/tokligence/walletchat/internal/prompt"
	"github.com/tokligence/walletchat/internal/version"
)

var configRoot string

var rootCmd = &cobra.Command{
	Use:           "walletchatd",
	Short:         "Wallet chat relay for hosted language models",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server (default)",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "walletchatd "+version.FullInfo())
	},
}

var initOpts bootstrap.InitOptions

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write starter configuration files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := initOpts
		opts.Root = configRoot
		if opts.WithPrompts {
			opts.Prompts = prompt.DefaultYAML()
		}
		if err := bootstrap.Init(opts); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "configuration written under %s/config\n", configRoot)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configRoot, "root", ".", "directory containing config/ and .env")

	initCmd.Flags().StringVar(&initOpts.Environment, "env", "dev", "environment name")
	initCmd.Flags().StringVar(&initOpts.HTTPAddress, "addr", ":8080", "listen address")
	initCmd.Flags().StringVar(&initOpts.ChatModel, "model", "gpt-4o-mini", "chat model")
	initCmd.Flags().StringVar(&initOpts.LogFile, "log-file", "logs/walletchatd.log", "log file path, '-' disables")
	initCmd.Flags().BoolVar(&initOpts.WithPrompts, "with-prompts", false, "also write config/prompts.yaml")
	initCmd.Flags().BoolVar(&initOpts.Force, "force", false, "overwrite existing files")

	rootCmd.AddCommand(serveCmd, versionCmd, initCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "walletchatd:", err)
		os.Exit(1)
	}
}
