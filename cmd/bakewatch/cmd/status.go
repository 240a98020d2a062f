package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corey/bakewatch/internal/adapters/socket"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running watcher's state",
	RunE: func(cmd *cobra.Command, args []string) error {
		root := projectRoot()
		client := socket.NewClient(socket.SocketPath(root))

		if !client.Ping() {
			fmt.Println("⚡ bakewatch is not running")
			return nil
		}
		h, err := client.Health()
		if err != nil {
			return fmt.Errorf("health check: %w", err)
		}
		if statusJSON {
			return printJSON(h)
		}
		fmt.Print(formatHealth(h))
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the raw health response")
}
