package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/corey/bakewatch/internal/adapters/bbolt"
	"github.com/corey/bakewatch/internal/adapters/socket"
	"github.com/corey/bakewatch/internal/app"
	"github.com/corey/bakewatch/internal/ports"
)

var (
	historyLimit int
	historyJSON  bool
	historyClear bool
	historyForce bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent builds",
	Long:  "Lists recent builds, newest first. Reads from the running watcher when there is one, otherwise from .bakewatch/history.db.",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of builds to show")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "print records as JSON")
	historyCmd.Flags().BoolVar(&historyClear, "clear", false, "delete all recorded builds")
	historyCmd.Flags().BoolVarP(&historyForce, "force", "f", false, "skip the confirmation prompt for --clear")
}

func runHistory(cmd *cobra.Command, args []string) error {
	root := projectRoot()
	client := socket.NewClient(socket.SocketPath(root))
	running := client.Ping()

	if historyClear {
		if running {
			return fmt.Errorf("watcher is running; stop it first: bakewatch stop")
		}
		return clearHistory(root)
	}

	var (
		recs []ports.BuildRecord
		err  error
	)
	if running {
		recs, err = client.History(historyLimit)
	} else {
		recs, err = readHistory(root, historyLimit)
	}
	if err != nil {
		return withLockHint(root, err)
	}

	if historyJSON {
		return printJSON(recs)
	}
	if len(recs) == 0 {
		fmt.Println("no builds recorded")
		return nil
	}
	for _, r := range recs {
		fmt.Println(formatRecord(r))
	}
	return nil
}

func readHistory(root string, limit int) ([]ports.BuildRecord, error) {
	paths := app.NewPaths(root)
	if _, err := os.Stat(paths.DB); os.IsNotExist(err) {
		return nil, nil
	}
	store, err := bbolt.NewStore(paths.DB)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.Recent(limit)
}

func clearHistory(root string) error {
	paths := app.NewPaths(root)
	if _, err := os.Stat(paths.DB); os.IsNotExist(err) {
		fmt.Println("no builds recorded")
		return nil
	}
	if !historyForce {
		fmt.Print("⚡ This will delete all recorded builds. Continue? [y/N] ")
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		answer = strings.TrimSpace(strings.ToLower(answer))
		if answer != "y" && answer != "yes" {
			fmt.Println("  Aborted.")
			return nil
		}
	}

	store, err := bbolt.NewStore(paths.DB)
	if err != nil {
		return withLockHint(root, err)
	}
	defer store.Close()
	if err := store.Clear(); err != nil {
		return err
	}
	fmt.Println("⚡ history cleared")
	return nil
}
