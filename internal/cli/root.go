package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ngdi-portal/portal/internal/cli/commands"
	"github.com/ngdi-portal/portal/internal/logger"
)

var version = "dev" // Will be set during build

// NewRootCmd builds the ngdi command tree around env
func NewRootCmd(env *commands.Env) *cobra.Command {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:   "ngdi",
		Short: "NGDI portal command-line client",
		Long: `ngdi - Work with the National Geospatial Data Infrastructure portal.

Sign in once, then list, inspect and edit metadata records from the terminal.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				env.Logger = logger.New(os.Stderr, "debug", "console")
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&env.APIURL, "api", "", "Portal URL (or set NGDI_API_URL)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log requests and session handling to stderr")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(env.Out, "ngdi version %s\n", version)
		},
	})

	rootCmd.AddCommand(commands.NewSetupCmd(env))
	rootCmd.AddCommand(commands.NewLoginCmd(env))
	rootCmd.AddCommand(commands.NewLogoutCmd(env))
	rootCmd.AddCommand(commands.NewWhoamiCmd(env))
	rootCmd.AddCommand(commands.NewMetadataCmd(env))
	rootCmd.AddCommand(commands.NewHealthCmd(env))
	rootCmd.AddCommand(commands.NewDashCmd(env))

	return rootCmd
}

// Execute runs the root command
func Execute() error {
	if err := NewRootCmd(commands.NewEnv()).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
