package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/corey/bakewatch/internal/adapters/socket"
	"github.com/corey/bakewatch/internal/app"
	"github.com/corey/bakewatch/internal/logging"
)

var buildReinit bool

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Run the site build once and record it",
	RunE:  runBuild,
}

func init() {
	buildCmd.Flags().BoolVar(&buildReinit, "reinit", false, "ask the build to start from a clean state")
}

func runBuild(cmd *cobra.Command, args []string) error {
	root := projectRoot()
	if socket.NewClient(socket.SocketPath(root)).Ping() {
		return fmt.Errorf("a watcher is running for this project; use: bakewatch rebuild")
	}
	settings, err := loadSettings(cmd, root)
	if err != nil {
		return err
	}
	logger, err := logging.New(os.Stderr, settings.Log.Level, settings.Log.Format)
	if err != nil {
		return err
	}

	a, err := app.New(app.Config{ProjectRoot: root, Settings: settings, Logger: logger.Logger})
	if err != nil {
		return withLockHint(root, err)
	}
	defer a.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rec, err := a.BuildOnce(ctx, buildReinit)
	fmt.Println(formatRecord(rec))
	return err
}
