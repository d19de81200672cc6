//go:build linux

package validate

import "golang.org/x/sys/unix"

func executionAccess(path string) error {
	return unix.Access(path, unix.X_OK)
}
