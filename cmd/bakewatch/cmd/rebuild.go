package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corey/bakewatch/internal/adapters/socket"
)

var rebuildReinit bool

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Ask the running watcher to rebuild now",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := socket.NewClient(socket.SocketPath(projectRoot()))
		if !client.Ping() {
			return fmt.Errorf("bakewatch is not running; start it with: bakewatch watch")
		}
		res, err := client.Rebuild(rebuildReinit)
		if err != nil {
			return fmt.Errorf("rebuild: %w", err)
		}
		if res.Queued {
			fmt.Println("⚡ rebuild queued")
		}
		return nil
	},
}

func init() {
	rebuildCmd.Flags().BoolVar(&rebuildReinit, "reinit", false, "ask the build to start from a clean state")
}
