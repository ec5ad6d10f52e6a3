package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"

	"github.com/chiweic/rag-08122025/internal/app"
	"github.com/chiweic/rag-08122025/internal/handlers"
	"github.com/chiweic/rag-08122025/internal/pipeline"
	"github.com/chiweic/rag-08122025/internal/synthesis"
)

var (
	opts        app.Options
	showSources bool
	recommend   bool
)

var rootCmd = &cobra.Command{
	Use:   "cli",
	Short: "Ask questions against the corpus from the terminal",
	Long: `Interactive question loop. Answers are streamed as they are generated, followed by
related books, events, audio and questions. Type "exit" to leave.`,
	SilenceUsage: true,
	RunE:         runCLI,
}

func init() {
	rootCmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "config.yaml", "config file")
	rootCmd.Flags().StringVar(&opts.Backend, "backend", "", "vector index backend: qdrant or memory")
	rootCmd.Flags().StringVar(&opts.LogLevel, "log-level", "warn", "zerolog level")
	rootCmd.Flags().BoolVar(&showSources, "sources", true, "print the retrieved sources")
	rootCmd.Flags().BoolVar(&recommend, "recommend", true, "print recommendations after each answer")
	opts.Pretty = true
}

func runCLI(cmd *cobra.Command, _ []string) error {
	a, err := app.New(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Preparing the collection...")
	if _, err := a.Pipeline.Initialize(ctx, pipeline.InitializeRequest{}); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	reader := bufio.NewReader(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "Enter your prompt: ")
		input, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}
		question := strings.TrimSpace(input)
		switch question {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		if msg := handlers.CheckQuestion(question); msg != "" {
			fmt.Fprintln(out, msg)
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		ask(ctx, out, a.Pipeline, question)
	}
}

// ask - Stream one answer, then print its sources and the recommendations for it.
func ask(ctx context.Context, out io.Writer, p *pipeline.Pipeline, question string) {
	var (
		answer  strings.Builder
		sources synthesis.Frame
	)
	fmt.Fprint(out, "Model: ")
	for frame := range p.Stream(ctx, pipeline.QueryRequest{Question: question, IncludeSources: showSources}) {
		switch frame.Type {
		case synthesis.FrameSources:
			sources = frame
		case synthesis.FrameAnswer:
			answer.WriteString(frame.Content)
			fmt.Fprint(out, frame.Content)
		case synthesis.FrameError:
			fmt.Fprintf(out, "\nError: %s\n", frame.Message)
			return
		}
	}
	fmt.Fprintln(out)
	printSources(out, sources)
	if !recommend {
		return
	}

	recs, err := p.Recommend(ctx, question, answer.String())
	if err != nil {
		fmt.Fprintf(out, "Recommendations unavailable: %v\n", err)
		return
	}
	printRecommendations(out, recs)
}

func printSources(out io.Writer, frame synthesis.Frame) {
	if len(frame.Sources) == 0 {
		return
	}
	fmt.Fprintln(out, "Sources:")
	for i, src := range frame.Sources {
		fmt.Fprintf(out, "  [%d] %s (%s, %.3f)\n", i+1, src.Title, src.Variant, src.Score)
	}
}

func printRecommendations(out io.Writer, recs pipeline.Recommendations) {
	for _, b := range recs.Books {
		fmt.Fprintf(out, "  Book:  %s (%.2f)\n", b.Title, b.SimilarityScore)
	}
	for _, e := range recs.Events {
		fmt.Fprintf(out, "  Event: %s %s\n", e.Title, e.TimePeriod)
	}
	for _, a := range recs.Audio {
		fmt.Fprintf(out, "  Audio: %s %s\n", a.Title, a.TimestampStart)
	}
	for _, q := range recs.Queries {
		fmt.Fprintf(out, "  Ask:   %s\n", q.Text)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
