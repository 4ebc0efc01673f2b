package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"vrlforge/internal/classify"
	"vrlforge/internal/lint"
	"vrlforge/internal/sandbox"
	"vrlforge/internal/vrl"
)

var validateCmd = &cobra.Command{
	Use:   "validate <script.vrl> <sample-file>",
	Short: "Run one script against a sample in the sandbox",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		scriptBytes, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		script := string(scriptBytes)

		lines, err := readLines(args[1])
		if err != nil {
			return err
		}

		if res := lint.Check(script); !res.OK {
			rec := classify.Classify(res.Message)
			printErrorRecord(rec)
			return fmt.Errorf("script rejected before execution")
		}

		runner, err := sandbox.NewVectorRunner(sandbox.VectorConfig{
			Runner:     cfg.Sandbox.Runner,
			Image:      cfg.Sandbox.Image,
			BinaryPath: cfg.Sandbox.BinaryPath,
		}, logger)
		if err != nil {
			return err
		}

		timeout := time.Duration(cfg.Loop.AttemptTimeout)
		outcome, err := runner.Execute(cmd.Context(), script, vrl.SampleInput{Lines: lines}, timeout)
		if err != nil {
			return err
		}

		switch outcome.Status {
		case vrl.StatusSuccess:
			fmt.Printf("valid: %d field(s) extracted in %v\n", outcome.ExtractedFieldCount, outcome.Duration.Round(time.Millisecond))
			for _, f := range outcome.Fields {
				fmt.Println("  " + f)
			}
			return nil
		case vrl.StatusTimeout:
			return fmt.Errorf("execution exceeded the %v limit", timeout)
		default:
			rec := classify.Classify(outcome.Stderr)
			printErrorRecord(rec)
			return fmt.Errorf("script failed validation (exit %d)", outcome.ExitCode)
		}
	},
}

func printErrorRecord(rec vrl.ErrorRecord) {
	fmt.Fprintf(os.Stderr, "error kind: %s\n", rec.Kind)
	if rec.Symbol != "" {
		fmt.Fprintf(os.Stderr, "symbol:     %s\n", rec.Symbol)
	}
	if rec.Location != nil {
		fmt.Fprintf(os.Stderr, "location:   line %d", rec.Location.Line)
		if rec.Location.Column > 0 {
			fmt.Fprintf(os.Stderr, ", column %d", rec.Location.Column)
		}
		fmt.Fprintln(os.Stderr)
	}
	if rec.SuggestedFix != "" {
		fmt.Fprintf(os.Stderr, "fix:        %s\n", rec.SuggestedFix)
	}
	if rec.RawMessage != "" {
		fmt.Fprintf(os.Stderr, "diagnostic:\n%s\n", rec.RawMessage)
	}
}
