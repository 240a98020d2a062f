package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/corey/bakewatch/internal/app"
	"github.com/corey/bakewatch/internal/logging"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Build once, then rebuild on every change (foreground)",
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	root := projectRoot()
	settings, err := loadSettings(cmd, root)
	if err != nil {
		return err
	}
	logger, err := logging.New(os.Stderr, settings.Log.Level, settings.Log.Format)
	if err != nil {
		return err
	}

	a, err := app.New(app.Config{
		ProjectRoot: root,
		Settings:    settings,
		Logger:      logger.Logger,
		SetLogLevel: logger.SetLevel,
	})
	if err != nil {
		return withLockHint(root, err)
	}
	if err := a.Start(); err != nil {
		a.Stop()
		return err
	}

	fmt.Printf("%s %s\n", paint(colorBold, "⚡ bakewatch watching"), a.InputDir())
	fmt.Printf("   socket: %s\n", a.Server.Addr())
	fmt.Println("   press Ctrl-C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logger.Info("received signal", "signal", sig.String())
	case <-a.Server.ShutdownCh():
		logger.Info("shutdown requested")
	case <-a.Done():
	}

	if err := a.Stop(); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	fmt.Println("⚡ bakewatch stopped")
	return nil
}
