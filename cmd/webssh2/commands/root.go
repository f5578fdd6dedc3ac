// Package commands implements the webssh2 CLI.
package commands

import (
	"github.com/spf13/cobra"
)

// Version information injected at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "webssh2",
	Short: "WebSSH2 - web-to-SSH gateway",
	Long: `WebSSH2 bridges browsers to SSH targets: clients open a WebSocket,
the gateway authenticates them, dials the target host, and proxies the
interactive shell, exec, and SFTP traffic in both directions.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	// Running the bare binary starts the gateway.
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

// Execute runs the CLI. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
