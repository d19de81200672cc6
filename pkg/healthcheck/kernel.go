package healthcheck

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/serum-errors/go-serum"
)

// KernelInfo reports the host the worker runs on.
type KernelInfo struct{}

// Run executes the checker
// Errors:
//
//    - dandi-error-healthcheck-run-fail -- syscall failure
//    - dandi-error-healthcheck-run-ambiguous -- returns kernel info
func (k *KernelInfo) Run(ctx context.Context) error {
	u, err := uname()
	if err != nil {
		return err
	}
	return serum.Errorf(CodeRunAmbiguous, "%s", kernelInfoString(u))
}

func (k *KernelInfo) String() string {
	return "Kernel info"
}

type kernelInfo struct {
	Sysname, Release, Version, Machine string
}

func kernelInfoString(u kernelInfo) string {
	f := strings.Repeat("\t%10s: %s\n", 4)
	f = strings.TrimRightFunc(f, unicode.IsSpace)
	return fmt.Sprintf("\n"+f,
		"Sysname", u.Sysname,
		"Release", u.Release,
		"Version", u.Version,
		"Machine", u.Machine,
	)
}
