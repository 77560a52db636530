package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"soap-evaluator/internal/llm"
	"soap-evaluator/internal/pipeline"
	"soap-evaluator/internal/report"
	"soap-evaluator/internal/scoring"
	"soap-evaluator/internal/store"
	"soap-evaluator/internal/transcript"
)

var (
	runTranscriptPath string
	runReferencePath  string
	runModel          string
	runOutputFormat   string
	runExportDir      string
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Generate and evaluate a SOAP note in one step",
		Long: `Run the whole workflow for one transcript: upload, generate a SOAP note,
score it against the reference and print the analysis report.

The session lives in memory for the duration of the command. Use --export to
also write the report to <dir>/<session>/soap_evaluation_results.json.`,
		Args: cobra.NoArgs,
		RunE: runCommandE,
	}

	cmd.Flags().StringVar(&runTranscriptPath, "transcript", "", "Path to the transcript (.txt or .pdf)")
	cmd.Flags().StringVar(&runReferencePath, "reference", "", "Path to the reference note (.txt or .pdf)")
	cmd.Flags().StringVar(&runModel, "model", "", "Model identifier (defaults to DEFAULT_MODEL)")
	cmd.Flags().StringVarP(&runOutputFormat, "format", "f", formatTable, "Output format: table, json or yaml")
	cmd.Flags().StringVar(&runExportDir, "export", "", "Directory to write the report to")
	_ = cmd.MarkFlagRequired("transcript")
	_ = cmd.MarkFlagRequired("reference")

	return cmd
}

func runCommandE(cmd *cobra.Command, _ []string) error {
	if err := validateFormat(runOutputFormat); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := cliLogger(cfg)

	text, err := transcript.ReadFile(runTranscriptPath)
	if err != nil {
		return fmt.Errorf("failed to read transcript: %w", err)
	}
	reference, err := transcript.ReadFile(runReferencePath)
	if err != nil {
		return fmt.Errorf("failed to read reference: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	gen, err := newGenerator(ctx, cfg, log)
	if err != nil {
		return err
	}

	o := pipeline.New("cli", pipeline.Deps{
		Log:       log,
		Store:     store.NewMemory(),
		Generator: gen,
		Evaluator: scoring.NewEvaluator(log, nil, 0),
	})
	defer o.Close()

	if _, err := o.Resume(ctx); err != nil {
		return err
	}
	err = o.Upload(ctx, pipeline.Upload{
		Transcript: text,
		Reference:  reference,
		Model:      modelOrDefault(runModel, cfg),
	})
	if err != nil {
		return err
	}

	outcome, err := o.Generate(ctx)
	if err != nil {
		return err
	}
	if outcome.Status == llm.StatusQuotaExceeded {
		return &QuotaError{Message: llm.QuotaMessage}
	}
	if _, err := o.Evaluate(ctx); err != nil {
		return err
	}

	r, err := report.Build(o.Snapshot(), time.Now())
	if err != nil {
		return err
	}
	if runExportDir != "" {
		path, err := report.Write(runExportDir, o.SessionID(), r)
		if err != nil {
			return err
		}
		log.Info("report written", "path", path)
	}

	out := cmd.OutOrStdout()
	if runOutputFormat == formatTable {
		return printReport(out, r)
	}
	return encode(out, runOutputFormat, r)
}

func printReport(w io.Writer, r report.Report) error {
	fmt.Fprintf(w, "Model:    %s (%s)\n", r.Model, r.Provider)
	fmt.Fprintf(w, "ROUGE-1:  %.4f\n", r.Metrics.Rouge1)
	fmt.Fprintf(w, "BLEU-1:   %.4f\n", r.Metrics.Bleu1)
	fmt.Fprintf(w, "Combined: %.4f\n\n", r.Metrics.Combined)
	_, err := fmt.Fprintln(w, r.SoapNote)
	return err
}
