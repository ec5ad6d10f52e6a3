package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"

	"github.com/chiweic/rag-08122025/internal/app"
	"github.com/chiweic/rag-08122025/internal/corpus"
	"github.com/chiweic/rag-08122025/internal/pipeline"
)

var (
	opts      app.Options
	recreate  bool
	batchSize int
)

var rootCmd = &cobra.Command{
	Use:   "setup",
	Short: "Embed the chunk corpus and load it into the vector collection",
	Long: `Loads the text, audio and event chunk files, embeds them with the configured provider and
upserts them into the collection. An existing collection with every record is left as is
unless --recreate is given.`,
	SilenceUsage: true,
	RunE:         runSetup,
}

func init() {
	rootCmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "config.yaml", "config file")
	rootCmd.Flags().BoolVar(&recreate, "recreate", false, "drop and rebuild the collection")
	rootCmd.Flags().IntVar(&batchSize, "batch-size", 0, "points per upsert batch (default from config)")
	rootCmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "zerolog level")
	opts.Pretty = true
}

func runSetup(cmd *cobra.Command, _ []string) error {
	a, err := app.New(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if recreate {
		cmd.Println("Recreating collection " + a.Config.Index.Collection + "...")
	}
	timeStart := time.Now()
	res, err := a.Pipeline.Initialize(ctx, pipeline.InitializeRequest{Recreate: recreate, BatchSize: batchSize})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	variants := make([]corpus.Variant, 0, len(res.Records))
	for v := range res.Records {
		variants = append(variants, v)
	}
	slices.Sort(variants)
	for _, v := range variants {
		cmd.Printf("  %-6s %d records\n", v, res.Records[v])
	}
	cmd.Printf("Collection %s: %d points (%d indexed now), dimension %d\n", res.Collection, res.Points, res.Indexed, res.Dimension)
	cmd.Println("Done in: ", time.Since(timeStart))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
