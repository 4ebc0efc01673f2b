package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vrlforge/internal/proposer"
	"vrlforge/internal/regen"
	"vrlforge/internal/sandbox"
	"vrlforge/internal/store"
	"vrlforge/internal/vrl"
)

var (
	genDescription string
	genOutput      string
	genBudget      int
	genNoArchive   bool
)

var generateCmd = &cobra.Command{
	Use:   "generate <sample-file>",
	Short: "Generate a validated VRL script for a log sample",
	Long: `Generate proposes a VRL program for the sample, validates it in the
sandbox, and repairs failures until the script works or the attempt budget
is spent. Use "-" to read the sample from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lines, err := readLines(args[0])
		if err != nil {
			return err
		}

		session, err := runGeneration(cmd.Context(), vrl.SampleInput{Lines: lines}, genDescription)
		if err != nil {
			return err
		}
		return reportSession(session)
	},
}

func init() {
	generateCmd.Flags().StringVarP(&genDescription, "description", "d", "", "what to extract from the logs")
	generateCmd.Flags().StringVarP(&genOutput, "output", "o", "", "write the final script to a file instead of stdout")
	generateCmd.Flags().IntVar(&genBudget, "budget", 0, "override the retry budget for this run")
	generateCmd.Flags().BoolVar(&genNoArchive, "no-archive", false, "skip writing the session to the archive")
}

// runGeneration wires the components from config and runs one session.
func runGeneration(ctx context.Context, sample vrl.SampleInput, description string) (*vrl.Session, error) {
	runner, err := sandbox.NewVectorRunner(sandbox.VectorConfig{
		Runner:     cfg.Sandbox.Runner,
		Image:      cfg.Sandbox.Image,
		BinaryPath: cfg.Sandbox.BinaryPath,
	}, logger)
	if err != nil {
		return nil, err
	}
	executor := sandbox.NewLimiter(runner, cfg.Sandbox.ConcurrencyLimit, logger)

	client, err := proposer.NewClient(ctx, proposer.ClientConfig{
		Provider: cfg.Proposer.Provider,
		APIKey:   cfg.Proposer.APIKey,
		Model:    cfg.Proposer.Model,
		BaseURL:  cfg.Proposer.BaseURL,
		Timeout:  time.Duration(cfg.Proposer.Timeout),
	})
	if err != nil {
		return nil, err
	}

	loopCfg := regen.Config{
		RetryBudget:    cfg.Loop.RetryBudget,
		AttemptTimeout: time.Duration(cfg.Loop.AttemptTimeout),
	}
	if genBudget > 0 {
		loopCfg.RetryBudget = genBudget
	}

	controller, err := regen.New(loopCfg, executor, proposer.New(client, logger), logger)
	if err != nil {
		return nil, err
	}

	session := controller.Run(ctx, proposer.Request{Sample: sample, Description: description})

	if !genNoArchive {
		if err := archiveSession(session); err != nil {
			logger.Warn("failed to archive session", zap.Error(err))
		}
	}
	return session, nil
}

func archiveSession(session *vrl.Session) error {
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()
	return st.Save(session)
}

// reportSession prints the terminal result and sets the exit status: only
// a validated script exits zero.
func reportSession(session *vrl.Session) error {
	switch session.Status {
	case vrl.SessionSucceeded:
		fmt.Fprintf(os.Stderr, "session %s: succeeded after %d attempt(s), %d field(s) extracted\n",
			session.ID, len(session.Attempts), session.ExtractedFieldCount)
		if genOutput != "" {
			if err := os.WriteFile(genOutput, []byte(session.FinalScript+"\n"), 0o644); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "script written to %s\n", genOutput)
			return nil
		}
		fmt.Println(session.FinalScript)
		return nil

	case vrl.SessionExhausted:
		msg := fmt.Sprintf("exhausted %d attempt(s) without a valid script", len(session.Attempts))
		if session.LastError != nil {
			msg += fmt.Sprintf(" (last error: %s)", session.LastError.Kind)
		}
		return fmt.Errorf("session %s: %s", session.ID, msg)

	case vrl.SessionCancelled:
		return fmt.Errorf("session %s: cancelled after %d attempt(s)", session.ID, len(session.Attempts))

	case vrl.SessionInfraError:
		return fmt.Errorf("session %s: infrastructure failure: %s", session.ID, session.InfraCause)

	default:
		return fmt.Errorf("session %s ended in unexpected state %s", session.ID, session.Status)
	}
}
