package cmd

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/corey/bakewatch/internal/app"
	"github.com/corey/bakewatch/internal/ports"
)

// Flag values shared by commands that load the project configuration.
var (
	flagInput    string
	flagBackend  string
	flagDebounce time.Duration
	flagPoll     time.Duration
	flagLogLevel string
	flagLogFmt   string
)

var rootCmd = &cobra.Command{
	Use:           "bakewatch",
	Short:         "Rebuild a static site when its sources change",
	Long:          "Watches the site source tree and runs the build command after changes settle.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// projectRoot returns the project root (cwd by default).
func projectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	return dir
}

// loadSettings reads bakewatch.yaml and applies flags the user set.
func loadSettings(cmd *cobra.Command, root string) (*app.Settings, error) {
	s, err := app.LoadSettings(app.NewPaths(root).Config)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("input") {
		// A command derived from the old input follows the new one.
		if slices.Equal(s.Build.Command, []string{"jbake", "-b", s.Input, s.Output}) {
			s.Build.Command = nil
		}
		s.Input = flagInput
	}
	if flags.Changed("backend") {
		s.Watch.Backend = flagBackend
	}
	if flags.Changed("debounce") {
		s.Watch.Debounce = app.Duration(flagDebounce)
	}
	if flags.Changed("poll") {
		s.Watch.PollInterval = app.Duration(flagPoll)
	}
	if flags.Changed("log-level") {
		s.Log.Level = flagLogLevel
	}
	if flags.Changed("log-format") {
		s.Log.Format = flagLogFmt
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	return err
}

// ExitCode maps an error returned by Execute to a process exit code:
// 2 for watch setup failures, 3 for a locked database, 1 otherwise.
func ExitCode(err error) int {
	var setupErr *ports.SetupError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &setupErr):
		return 2
	case isDBLockError(err):
		return 3
	}
	return 1
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagInput, "input", "src", "site source directory")
	pf.StringVar(&flagBackend, "backend", app.BackendFsnotify, "watch backend: fsnotify or notify")
	pf.DurationVar(&flagDebounce, "debounce", 400*time.Millisecond, "quiet period before a coalesced refresh")
	pf.DurationVar(&flagPoll, "poll", 100*time.Millisecond, "event poll interval")
	pf.StringVar(&flagLogLevel, "log-level", "info", "debug, info, warn or error")
	pf.StringVar(&flagLogFmt, "log-format", "text", "text or json")

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(rebuildCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(logLevelCmd)
}
