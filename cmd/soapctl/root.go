package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"soap-evaluator/internal/app"
	"soap-evaluator/internal/config"
	"soap-evaluator/internal/llm"
	"soap-evaluator/internal/logger"
	"soap-evaluator/internal/observe"
)

var version = "dev"

var debugLogging bool

// newGenerator builds the note generator. Tests replace it.
var newGenerator = func(ctx context.Context, cfg config.Config, log *slog.Logger) (llm.Generator, error) {
	return app.BuildGenerator(ctx, cfg, log, observe.DefaultMetrics())
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "soapctl",
		Short: "soapctl - generate and score SOAP notes from the command line",
		Long: `soapctl generates SOAP notes from clinical transcripts and scores them
against reference notes with ROUGE-1 and BLEU-1.

Provider credentials are read from OPENAI_API_KEY and GOOGLE_API_KEY (a .env
file in the working directory is loaded when present).`,
		Version:      version,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().BoolVar(&debugLogging, "debug", false, "Enable debug logging")

	cmd.AddCommand(newScoreCommand())
	cmd.AddCommand(newGenerateCommand())
	cmd.AddCommand(newRunCommand())

	return cmd
}

func execute() error {
	rootCmd := newRootCommand()
	return rootCmd.Execute()
}

// cliLogger writes structured logs to stderr so stdout stays parseable.
func cliLogger(cfg config.Config) *slog.Logger {
	level := cfg.LogLevel
	if debugLogging {
		level = "debug"
	}
	return logger.NewWriter(os.Stderr, level)
}
