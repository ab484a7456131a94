package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Manage recognition provider configurations",
}

var providersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured providers",
	RunE:  runProvidersList,
}

var providersActivateCmd = &cobra.Command{
	Use:   "activate <id>",
	Short: "Make a provider config the active one",
	Args:  cobra.ExactArgs(1),
	RunE:  runProvidersActivate,
}

func init() {
	rootCmd.AddCommand(providersCmd)
	providersCmd.AddCommand(providersListCmd)
	providersCmd.AddCommand(providersActivateCmd)
}

func runProvidersList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	application, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer application.Close()

	configs, err := application.providers.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list providers: %w", err)
	}
	if len(configs) == 0 {
		fmt.Println("No provider configs. Create one through the HTTP API.")
		return nil
	}

	fmt.Printf("%-38s  %-16s  %-7s  %-8s  %-10s  %s\n",
		"ID", "TYPE", "ACTIVE", "ENABLED", "THRESHOLD", "MAX RESULTS")
	for _, cfg := range configs {
		fmt.Printf("%-38s  %-16s  %-7v  %-8v  %-10.2f  %d\n",
			cfg.ID, cfg.Type, cfg.Active, cfg.Enabled, cfg.SimilarityThreshold, cfg.MaxResults)
	}
	return nil
}

func runProvidersActivate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	application, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer application.Close()

	id := args[0]
	if err := application.providers.Activate(ctx, id); err != nil {
		return fmt.Errorf("failed to activate provider: %w", err)
	}
	application.registry.Invalidate()

	fmt.Printf("Provider %s is now active.\n", id)
	return nil
}
