package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/veridate/faceseek/internal/recognition"
)

var searchCmd = &cobra.Command{
	Use:   "search <photo>",
	Short: "Match a photo against the registered corpus",
	Long: `Run a one-off match search from the terminal.
The photo argument is a local file path, an http(s) URL, or a base64
payload. Results print as a similarity-ordered table.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().Float64("threshold", -1, "Override the provider's similarity threshold (0-1)")
}

// loadQueryImage resolves the CLI photo argument. Local paths are read
// inline; everything else goes through the API's wire parsing.
func loadQueryImage(arg string) (*recognition.Image, error) {
	if !strings.HasPrefix(arg, "http://") && !strings.HasPrefix(arg, "https://") {
		if _, err := os.Stat(arg); err == nil {
			data, err := os.ReadFile(arg)
			if err != nil {
				return nil, fmt.Errorf("failed to read photo file: %w", err)
			}
			return recognition.ImageFromBytes(data), nil
		}
	}
	return recognition.ParseImage(arg)
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	img, err := loadQueryImage(args[0])
	if err != nil {
		return fmt.Errorf("unusable photo argument: %w", err)
	}

	application, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer application.Close()

	var override *float64
	if t := mustGetFloat64(cmd, "threshold"); t >= 0 {
		if t > 1 {
			return fmt.Errorf("threshold must be between 0 and 1, got %v", t)
		}
		override = &t
	}

	active, err := application.registry.Active(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve provider: %w", err)
	}
	if active == nil {
		fmt.Println("No recognition provider is active; matching is unavailable.")
		return nil
	}
	fmt.Printf("Searching with provider %s...\n", active.Type)

	results, err := application.searcher.Search(ctx, img, override)
	if err != nil {
		return err
	}

	if len(results) == 0 {
		fmt.Println("No matches above the threshold.")
		return nil
	}

	fmt.Printf("%-12s  %-24s  %-16s  %s\n", "SIMILARITY", "NAME", "PHONE", "PHOTO")
	for _, r := range results {
		fmt.Printf("%-12.3f  %-24s  %-16s  %s\n", r.Similarity, r.Name, r.Phone, r.PhotoURL)
	}
	return nil
}
