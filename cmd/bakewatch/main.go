// bakewatch watches a static-site source tree and re-runs the site build
// whenever it changes.
package main

import (
	"os"

	"github.com/corey/bakewatch/cmd/bakewatch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(cmd.ExitCode(err))
	}
}
