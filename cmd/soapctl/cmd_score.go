package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"soap-evaluator/internal/scoring"
	"soap-evaluator/internal/transcript"
)

var (
	scoreReferencePath string
	scoreCandidatePath string
	scoreOutputFormat  string
)

func newScoreCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score a candidate note against a reference note",
		Long: `Compute ROUGE-1 F1, BLEU-1 and their mean for a candidate note against a
reference note. Both files may be plain text or PDF.`,
		Args: cobra.NoArgs,
		RunE: scoreCommandE,
	}

	cmd.Flags().StringVar(&scoreReferencePath, "reference", "", "Path to the reference note (.txt or .pdf)")
	cmd.Flags().StringVar(&scoreCandidatePath, "candidate", "", "Path to the candidate note (.txt or .pdf)")
	cmd.Flags().StringVarP(&scoreOutputFormat, "format", "f", formatTable, "Output format: table, json or yaml")
	_ = cmd.MarkFlagRequired("reference")
	_ = cmd.MarkFlagRequired("candidate")

	return cmd
}

func scoreCommandE(cmd *cobra.Command, _ []string) error {
	if err := validateFormat(scoreOutputFormat); err != nil {
		return err
	}

	reference, err := transcript.ReadFile(scoreReferencePath)
	if err != nil {
		return fmt.Errorf("failed to read reference: %w", err)
	}
	candidate, err := transcript.ReadFile(scoreCandidatePath)
	if err != nil {
		return fmt.Errorf("failed to read candidate: %w", err)
	}
	if strings.TrimSpace(candidate) == "" {
		return errors.New("candidate note is empty")
	}

	metrics, err := scoring.Evaluate(reference, []scoring.Candidate{{
		ID:    scoreCandidatePath,
		Label: scoreCandidatePath,
		Text:  candidate,
	}})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if scoreOutputFormat == formatTable {
		return printMetricsTable(out, metrics)
	}
	return encode(out, scoreOutputFormat, metrics)
}

func printMetricsTable(w io.Writer, metrics []scoring.Metric) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CANDIDATE\tROUGE-1\tBLEU-1\tCOMBINED")
	for _, m := range metrics {
		fmt.Fprintf(tw, "%s\t%.4f\t%.4f\t%.4f\n", m.Label, m.Rouge1, m.Bleu1, m.Combined)
	}
	return tw.Flush()
}
