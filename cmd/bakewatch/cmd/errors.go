package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/corey/bakewatch/internal/adapters/socket"
)

// isDBLockError returns true if the error chain contains a bbolt lock timeout.
// bbolt returns the string "timeout" when it cannot acquire the file lock
// within the configured deadline.
func isDBLockError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "bbolt open") && strings.Contains(err.Error(), "timeout")
}

// diagnoseDBLock returns guidance when the history database is locked. It
// distinguishes a live watcher, a stale socket and an unknown lock holder.
func diagnoseDBLock(root string) string {
	sockPath := socket.SocketPath(root)
	client := socket.NewClient(sockPath)

	if client.Ping() {
		return "history database is locked by the running watcher\n" +
			"  → stop it first:  bakewatch stop\n" +
			"  → then retry your command"
	}

	if _, err := os.Stat(sockPath); err == nil {
		return fmt.Sprintf("history database is locked; watcher socket exists but is not responding\n"+
			"  → a previous watcher may have crashed\n"+
			"  → find the process:  ps aux | grep 'bakewatch watch'\n"+
			"  → kill it:           kill <PID>\n"+
			"  → clean up socket:   rm %s", sockPath)
	}

	return "history database is locked by another process\n" +
		"  → find the process:  ps aux | grep bakewatch\n" +
		"  → kill it:           kill <PID>\n" +
		"  → then retry your command"
}

// withLockHint appends diagnoseDBLock guidance to lock errors.
func withLockHint(root string, err error) error {
	if isDBLockError(err) {
		return fmt.Errorf("%w\n%s", err, diagnoseDBLock(root))
	}
	return err
}
