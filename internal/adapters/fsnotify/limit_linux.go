//go:build linux

package fsnotify

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// describeLimit annotates inotify resource exhaustion with the sysctl to raise.
func describeLimit(err error) error {
	switch {
	case errors.Is(err, unix.ENOSPC):
		return fmt.Errorf("inotify watch limit reached (raise fs.inotify.max_user_watches): %w", err)
	case errors.Is(err, unix.EMFILE):
		return fmt.Errorf("inotify instance limit reached (raise fs.inotify.max_user_instances): %w", err)
	default:
		return err
	}
}
