package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corey/bakewatch/internal/adapters/socket"
	"github.com/corey/bakewatch/internal/logging"
)

var logLevelCmd = &cobra.Command{
	Use:   "log-level <debug|info|warn|error>",
	Short: "Change the running watcher's log level",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := logging.ParseLevel(args[0]); err != nil {
			return err
		}
		client := socket.NewClient(socket.SocketPath(projectRoot()))
		if !client.Ping() {
			return fmt.Errorf("bakewatch is not running; start it with: bakewatch watch")
		}
		if err := client.SetLogLevel(args[0]); err != nil {
			return fmt.Errorf("log level: %w", err)
		}
		fmt.Printf("⚡ log level set to %s\n", args[0])
		return nil
	},
}
