//go:build !linux

package fsnotify

func describeLimit(err error) error {
	return err
}
