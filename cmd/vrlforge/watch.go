package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vrlforge/internal/vrl"
)

var watchDescription string

const watchDebounce = 500 * time.Millisecond

var watchCmd = &cobra.Command{
	Use:   "watch <sample-file>",
	Short: "Re-run generation whenever the sample file changes",
	Long: `Watch monitors a sample file and runs a fresh generation session on
every change. Useful while iterating on which log lines to feed the
generator. Stop with Ctrl-C.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		if _, err := os.Stat(path); err != nil {
			return err
		}

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("creating watcher: %w", err)
		}
		defer watcher.Close()
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}

		logger.Info("watching sample file", zap.String("path", path))
		runWatchedGeneration(cmd, path)

		var timer *time.Timer
		pending := make(chan struct{}, 1)
		for {
			select {
			case <-cmd.Context().Done():
				return nil

			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				// Editors fire bursts of writes; collapse them.
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(watchDebounce, func() {
					select {
					case pending <- struct{}{}:
					default:
					}
				})

			case <-pending:
				logger.Info("sample changed, regenerating", zap.String("path", path))
				runWatchedGeneration(cmd, path)

			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				logger.Warn("watch error", zap.Error(err))
			}
		}
	},
}

func init() {
	watchCmd.Flags().StringVarP(&watchDescription, "description", "d", "", "what to extract from the logs")
}

// runWatchedGeneration runs one session and reports without terminating
// the watch loop on failure.
func runWatchedGeneration(cmd *cobra.Command, path string) {
	lines, err := readLines(path)
	if err != nil {
		logger.Warn("could not read sample", zap.Error(err))
		return
	}
	session, err := runGeneration(cmd.Context(), vrl.SampleInput{Lines: lines}, watchDescription)
	if err != nil {
		logger.Warn("generation failed to start", zap.Error(err))
		return
	}
	if err := reportSession(session); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
}
