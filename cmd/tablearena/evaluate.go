package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/tablearena/tablearena/internal/evaluation"
	"github.com/tablearena/tablearena/internal/normalize"
	"github.com/tablearena/tablearena/internal/scorer"
)

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score a predictions file against the ground truth",
		Long: `Score a predictions file (a JSON object mapping table ids to table
text) against the ground truth and print the result as JSON.

Progress is written to stderr, one line per ground-truth table.

Examples:
  tablearena evaluate --predictions preds.json
  tablearena evaluate --ground-truth gt.json --predictions preds.json --scorer exact`,
		RunE: runEvaluate,
	}

	cmd.Flags().String("ground-truth", "", "ground truth JSON file (overrides config)")
	cmd.Flags().StringP("predictions", "p", "", "predictions JSON file (required)")
	cmd.Flags().String("scorer", "", "scorer type: http or exact (overrides config)")
	cmd.Flags().String("scorer-url", "", "similarity scorer URL (overrides config)")
	cmd.Flags().String("empty-reference", "", "empty ground truth policy: skip or invalid (overrides config)")
	cmd.Flags().BoolP("quiet", "q", false, "suppress progress output")
	_ = cmd.MarkFlagRequired("predictions")

	return cmd
}

func runEvaluate(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("ground-truth") {
		cfg.Data.GroundTruthPath, _ = cmd.Flags().GetString("ground-truth")
	}
	if cmd.Flags().Changed("scorer") {
		cfg.Scorer.Type, _ = cmd.Flags().GetString("scorer")
	}
	if cmd.Flags().Changed("scorer-url") {
		cfg.Scorer.URL, _ = cmd.Flags().GetString("scorer-url")
	}
	if cmd.Flags().Changed("empty-reference") {
		cfg.Eval.EmptyReference, _ = cmd.Flags().GetString("empty-reference")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	predsPath, _ := cmd.Flags().GetString("predictions")
	quiet, _ := cmd.Flags().GetBool("quiet")

	gt, err := evaluation.LoadGroundTruth(cfg.Data.GroundTruthPath)
	if err != nil {
		return fmt.Errorf("failed to load ground truth: %w", err)
	}

	data, err := os.ReadFile(predsPath)
	if err != nil {
		return fmt.Errorf("failed to read predictions: %w", err)
	}
	preds, err := evaluation.ParsePredictions(data)
	if err != nil {
		return err
	}

	sc, closer, err := scorer.New(cfg.Scorer, nil, log)
	if err != nil {
		return err
	}
	defer closer.Close()

	evaluator := evaluation.NewEvaluator(sc,
		evaluation.WithEmptyReferencePolicy(evaluation.ParseEmptyReferencePolicy(cfg.Eval.EmptyReference)))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	var onProgress evaluation.ProgressFunc
	if !quiet {
		stderr := cmd.ErrOrStderr()
		onProgress = func(current, total int, id string) {
			fmt.Fprintf(stderr, "[%d/%d] %s\n", current, total, id)
		}
	}

	log.Debug("Evaluating", "ground_truth", gt.Len(), "predictions", len(preds), "scorer", cfg.Scorer.Type)
	result, err := evaluator.Evaluate(ctx, gt, preds, onProgress)
	if err != nil {
		if ctx.Err() == context.Canceled {
			return fmt.Errorf("evaluation interrupted")
		}
		return err
	}

	return writeJSON(cmd.OutOrStdout(), result)
}

func normalizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "normalize [file]",
		Short: "Print the canonical HTML form of a table",
		Long: `Read a table in HTML, LaTeX tabular or Markdown pipe syntax from a file
(or stdin when no file is given) and print its canonical HTML form.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			data, err := io.ReadAll(in)
			if err != nil {
				return err
			}

			showKind, _ := cmd.Flags().GetBool("kind")
			if showKind {
				fmt.Fprintln(cmd.ErrOrStderr(), "format:", normalize.Kind(string(data)))
			}
			fmt.Fprintln(cmd.OutOrStdout(), normalize.Normalize(string(data)))
			return nil
		},
	}

	cmd.Flags().Bool("kind", false, "also print the detected input format to stderr")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
