package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/corey/bakewatch/internal/adapters/socket"
	"github.com/corey/bakewatch/internal/app"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the resolved configuration and state paths",
	RunE: func(cmd *cobra.Command, args []string) error {
		root := projectRoot()
		settings, err := loadSettings(cmd, root)
		if err != nil {
			return err
		}
		paths := app.NewPaths(root)

		source := paths.Config
		if _, err := os.Stat(paths.Config); os.IsNotExist(err) {
			source = "(defaults, no " + app.ConfigFileName + ")"
		}
		fmt.Printf("%s\n", paint(colorBold, "⚡ bakewatch config"))
		fmt.Printf("  project:  %s\n", root)
		fmt.Printf("  config:   %s\n", source)
		fmt.Printf("  input:    %s\n", settings.InputDir(root))
		fmt.Printf("  history:  %s\n", paths.DB)
		fmt.Printf("  socket:   %s\n", socket.SocketPath(root))
		fmt.Println()

		data, err := settings.Encode()
		if err != nil {
			return err
		}
		fmt.Print(string(data))
		return nil
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
