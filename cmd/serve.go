package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/veridate/faceseek/internal/web"
	"github.com/veridate/faceseek/internal/web/handlers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the faceseek HTTP API.
The API serves match searches, provider configuration, and asynchronous
descriptor regeneration jobs.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
}

// resolveServeHostPort resolves port and host from flags and environment variables.
func resolveServeHostPort(cmd *cobra.Command) (int, string) {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")

	if envPort := os.Getenv("WEB_PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", &port)
	}
	if envHost := os.Getenv("WEB_HOST"); envHost != "" {
		host = envHost
	}
	return port, host
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	fmt.Println("Connecting to databases...")
	application, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer application.Close()

	port, host := resolveServeHostPort(cmd)

	server := web.NewServer(application.cfg, port, host, web.Deps{
		Searcher:  application.searcher,
		Providers: application.providers,
		Registry:  application.registry,
		NewRegeneration: func(onProgress func(processed, total int), retryOnly bool) handlers.Regenerator {
			job := application.newRegenerationJob()
			job.OnProgress = onProgress
			job.RetryOnly = retryOnly
			return job
		},
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting faceseek API on http://%s:%d\n", host, port)
	fmt.Println("Press Ctrl+C to stop")

	return server.Start()
}
