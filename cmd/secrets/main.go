package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "secrets",
		Short: "A small site with a page only logged in users can see",
		Long: `secrets serves a landing page, local registration and login,
Google and Facebook sign in, and a protected /secrets page.

Configuration comes from the environment (SECRETS_*, CLIENT_ID/CLIENT_SECRET
for Google, APP_ID/APP_SECRET for Facebook).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serve := serveCmd()
	rootCmd.AddCommand(
		serve,
		versionCmd(),
	)
	// Running bare "secrets" serves
	rootCmd.RunE = serve.RunE
	rootCmd.Flags().AddFlagSet(serve.Flags())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
