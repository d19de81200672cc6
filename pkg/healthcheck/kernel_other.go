//go:build !linux

package healthcheck

import "github.com/serum-errors/go-serum"

func uname() (kernelInfo, error) {
	return kernelInfo{}, serum.Errorf(CodeRunAmbiguous, "kernel info only for Linux systems")
}
