package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "faceseek",
	Short: "Face matching engine over pluggable recognition providers",
	Long: `Faceseek matches a query photo against the registered corpus using a
configurable recognition backend (cloud vendors, a self-hosted service,
or a local fallback). It serves an HTTP API and offers one-off searches
and corpus regeneration from the command line.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
