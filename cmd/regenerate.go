package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/veridate/faceseek/internal/match"
)

var regenerateCmd = &cobra.Command{
	Use:   "regenerate",
	Short: "Rebuild descriptors for the whole corpus",
	Long: `Re-extract the face descriptor of every registered entity with the
active provider. Entities are processed in rate-limited batches; run this
after switching providers so searches stop re-extracting on the fly.`,
	RunE: runRegenerate,
}

func init() {
	regenerateCmd.Flags().Bool("retry-failed", false,
		"only process entities without a usable descriptor (failed, stale, or missing)")
	rootCmd.AddCommand(regenerateCmd)
}

func runRegenerate(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nCancelling after the current batch...")
		cancel()
	}()

	application, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer application.Close()

	var bar *progressbar.ProgressBar
	job := application.newRegenerationJob()
	job.RetryOnly = mustGetBool(cmd, "retry-failed")
	job.OnProgress = func(processed, total int) {
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription("Regenerating descriptors"),
				progressbar.OptionShowCount(),
				progressbar.OptionShowIts(),
				progressbar.OptionSetItsString("entities"),
				progressbar.OptionShowElapsedTimeOnFinish(),
				progressbar.OptionSetPredictTime(true),
				progressbar.OptionFullWidth(),
			)
		}
		_ = bar.Set(processed)
	}

	report, err := job.Run(ctx)
	if bar != nil {
		_ = bar.Finish()
		fmt.Println()
	}
	if err != nil {
		if report != nil {
			printReport(report)
		}
		return err
	}

	printReport(report)
	return nil
}

func printReport(report *match.Report) {
	fmt.Printf("Processed %d entities: %d succeeded, %d failed\n",
		report.Total, report.Success, report.Failed)
	for _, msg := range report.Errors {
		fmt.Printf("  - %s\n", msg)
	}
}
