package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"vrlforge/internal/store"
)

var sessionsLimit int

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect the session archive",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived sessions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer st.Close()

		sums, err := st.List(sessionsLimit)
		if err != nil {
			return err
		}
		if len(sums) == 0 {
			fmt.Println("no archived sessions")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tATTEMPTS\tFIELDS\tSTARTED\tDURATION")
		for _, s := range sums {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
				s.ID, s.Status, s.Attempts, s.FieldCount,
				s.StartedAt.Local().Format(time.RFC3339),
				s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
		}
		return w.Flush()
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show one archived session with its full attempt log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer st.Close()

		session, err := st.Get(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("session:  %s\n", session.ID)
		fmt.Printf("status:   %s\n", session.Status)
		fmt.Printf("attempts: %d\n", len(session.Attempts))
		if session.InfraCause != "" {
			fmt.Printf("cause:    %s\n", session.InfraCause)
		}
		for _, a := range session.Attempts {
			fmt.Printf("\n--- attempt %d (%s) -> %s\n",
				a.Candidate.Index, a.Candidate.Provenance, a.Outcome.Status)
			fmt.Println(a.Candidate.Script)
			if a.Error != nil {
				fmt.Printf("error: %s", a.Error.Kind)
				if a.Error.Symbol != "" {
					fmt.Printf(" (%s)", a.Error.Symbol)
				}
				fmt.Println()
			}
		}
		if session.FinalScript != "" {
			fmt.Printf("\n=== final script (%d fields) ===\n%s\n",
				session.ExtractedFieldCount, session.FinalScript)
		}
		return nil
	},
}

var sessionsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Aggregate statistics over the archive",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := st.Stats()
		if err != nil {
			return err
		}

		fmt.Printf("sessions:       %d\n", stats.Sessions)
		for status, n := range stats.ByStatus {
			fmt.Printf("  %-14s%d\n", status+":", n)
		}
		fmt.Printf("total attempts: %d\n", stats.TotalAttempts)
		if len(stats.ErrorKinds) > 0 {
			fmt.Println("error kinds:")
			for kind, n := range stats.ErrorKinds {
				fmt.Printf("  %-18s%d\n", kind+":", n)
			}
		}
		return nil
	},
}

func init() {
	sessionsListCmd.Flags().IntVarP(&sessionsLimit, "limit", "n", 20, "maximum sessions to list (0 for all)")
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsStatsCmd)
}
