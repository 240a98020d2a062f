package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/corey/bakewatch/internal/adapters/socket"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running watcher",
	RunE: func(cmd *cobra.Command, args []string) error {
		root := projectRoot()
		client := socket.NewClient(socket.SocketPath(root))

		if !client.Ping() {
			fmt.Println("⚡ bakewatch is not running")
			return nil
		}
		if err := client.Shutdown(); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		// The watcher removes its socket on the way out.
		deadline := time.Now().Add(5 * time.Second)
		for client.Ping() {
			if time.Now().After(deadline) {
				return fmt.Errorf("watcher did not exit within 5s")
			}
			time.Sleep(100 * time.Millisecond)
		}
		fmt.Println("⚡ bakewatch stopped")
		return nil
	},
}
