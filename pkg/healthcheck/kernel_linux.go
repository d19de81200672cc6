//go:build linux

package healthcheck

import (
	"github.com/serum-errors/go-serum"
	"golang.org/x/sys/unix"
)

func uname() (kernelInfo, error) {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return kernelInfo{}, serum.Errorf(CodeRunFailure, "uname syscall failed: %w", err)
	}
	return kernelInfo{
		Sysname: unix.ByteSliceToString(u.Sysname[:]),
		Release: unix.ByteSliceToString(u.Release[:]),
		Version: unix.ByteSliceToString(u.Version[:]),
		Machine: unix.ByteSliceToString(u.Machine[:]),
	}, nil
}
