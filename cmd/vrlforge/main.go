// vrlforge generates VRL log-transform scripts from raw samples: an LLM
// proposes candidates, a sandboxed Vector runtime validates them, and
// classified failures drive bounded repair.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vrlforge/internal/config"
	"vrlforge/internal/logging"
)

var (
	cfgPath string
	debug   bool

	cfg    config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "vrlforge",
	Short: "Generate and repair VRL log-transform scripts",
	Long: `vrlforge turns raw log samples into validated VRL transform programs.

Candidates come from an LLM, are executed against the sample inside an
isolated Vector runtime, and failures are classified and fed back for
repair within a bounded attempt budget. Generation either produces a
script that demonstrably works on the sample, or reports exactly why it
could not.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		if debug {
			cfg.Debug = true
		}
		logger, err = logging.New(cfg.Debug)
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", defaultConfigPath(), "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&debug, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home + "/.vrlforge/config.yaml"
}

// readLines loads sample lines from a file, or stdin when path is "-".
func readLines(path string) ([]string, error) {
	var r *os.File
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("no sample lines in %s", path)
	}
	return lines, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
