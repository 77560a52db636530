package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"soap-evaluator/internal/config"
	"soap-evaluator/internal/llm"
	"soap-evaluator/internal/transcript"
)

var (
	generateTranscriptPath string
	generateReferencePath  string
	generateModel          string
	generateOutputFormat   string
)

func newGenerateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a SOAP note from a transcript",
		Long: `Send a transcript to the selected model and print the generated SOAP note.

Models whose name contains "gemini" are routed to Google Gemini; every other
model is routed to OpenAI. An optional reference note is included in the
prompt as a style example.`,
		Args: cobra.NoArgs,
		RunE: generateCommandE,
	}

	cmd.Flags().StringVar(&generateTranscriptPath, "transcript", "", "Path to the transcript (.txt or .pdf)")
	cmd.Flags().StringVar(&generateReferencePath, "reference", "", "Optional path to a reference note")
	cmd.Flags().StringVar(&generateModel, "model", "", "Model identifier (defaults to DEFAULT_MODEL)")
	cmd.Flags().StringVarP(&generateOutputFormat, "format", "f", formatTable, "Output format: table, json or yaml")
	_ = cmd.MarkFlagRequired("transcript")

	return cmd
}

func generateCommandE(cmd *cobra.Command, _ []string) error {
	if err := validateFormat(generateOutputFormat); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := cliLogger(cfg)

	text, err := transcript.ReadFile(generateTranscriptPath)
	if err != nil {
		return fmt.Errorf("failed to read transcript: %w", err)
	}
	req := llm.Request{Transcript: text, Model: modelOrDefault(generateModel, cfg)}
	if generateReferencePath != "" {
		reference, err := transcript.ReadFile(generateReferencePath)
		if err != nil {
			return fmt.Errorf("failed to read reference: %w", err)
		}
		req.Reference = &reference
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	gen, err := newGenerator(ctx, cfg, log)
	if err != nil {
		return err
	}

	outcome, err := gen.Generate(ctx, req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if generateOutputFormat == formatTable {
		printOutcome(out, outcome)
	} else if err := encode(out, generateOutputFormat, outcome); err != nil {
		return err
	}
	if outcome.Status == llm.StatusQuotaExceeded {
		return &QuotaError{Message: llm.QuotaMessage}
	}
	return nil
}

// loadConfig reads .env when present, then the environment.
func loadConfig() (config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return config.Config{}, fmt.Errorf("failed to load environment variables: %w", err)
	}
	return config.Load(), nil
}

func modelOrDefault(model string, cfg config.Config) string {
	if m := strings.TrimSpace(model); m != "" {
		return m
	}
	return cfg.DefaultModel
}

func printOutcome(w io.Writer, o llm.Outcome) {
	fmt.Fprintf(w, "Model:    %s\n", o.Model)
	fmt.Fprintf(w, "Provider: %s\n", o.Provider)
	fmt.Fprintf(w, "Status:   %s\n\n", o.Status)
	fmt.Fprintln(w, o.Note)
}
