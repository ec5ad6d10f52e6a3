package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"

	"github.com/chiweic/rag-08122025/internal/app"
)

var (
	opts     app.Options
	autoInit bool
)

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "Serve the retrieval-augmented QA API",
	Long: `Starts the HTTP API. Unless --init=false is given the vector collection is built or reused
in the background, /health reports readiness in the meantime.`,
	SilenceUsage: true,
	RunE:         runServer,
}

func init() {
	rootCmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "config.yaml", "config file, hot reloaded for provider changes")
	rootCmd.Flags().IntVarP(&opts.Port, "port", "p", 0, "listen port (overrides API_PORT)")
	rootCmd.Flags().StringVar(&opts.Backend, "backend", "", "vector index backend: qdrant or memory")
	rootCmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "zerolog level")
	rootCmd.Flags().BoolVar(&opts.Pretty, "pretty", false, "human readable logs")
	rootCmd.Flags().BoolVar(&autoInit, "init", true, "initialize the collection at startup")
}

func runServer(cmd *cobra.Command, _ []string) error {
	a, err := app.New(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.Serve(ctx, autoInit)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
