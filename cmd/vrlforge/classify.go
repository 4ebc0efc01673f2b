package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"

	"vrlforge/internal/classify"
)

var classifyJSON bool

var classifyCmd = &cobra.Command{
	Use:   "classify [diagnostic-file]",
	Short: "Classify a raw validation diagnostic",
	Long: `Classify reads a Vector diagnostic from a file (or stdin when omitted)
and prints the derived error kind, captures, and suggested fix.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var data []byte
		var err error
		if len(args) == 0 || args[0] == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(args[0])
		}
		if err != nil {
			return err
		}

		rec := classify.Classify(string(data))
		if classifyJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		}
		printErrorRecord(rec)
		return nil
	},
}

func init() {
	classifyCmd.Flags().BoolVar(&classifyJSON, "json", false, "emit the record as JSON")
}
