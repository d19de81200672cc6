package validate

import (
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/dandiarchive/dandipub/dpapi"
)

func isExecutable(m fs.FileMode) bool {
	return m&0111 != 0
}

// LookupBinary resolves name through PATH (or as given, when it contains a separator)
// and checks it is a regular file this process may execute.
//
// Errors:
//
//   - dandi-error-validator-unavailable -- when the binary is missing or not executable
func LookupBinary(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", dpapi.ErrorValidatorUnavailable(name, err)
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	fi, err := os.Stat(path)
	if err != nil {
		return "", dpapi.ErrorValidatorUnavailable(path, err)
	}
	if !fi.Mode().IsRegular() {
		return "", dpapi.ErrorValidatorUnavailable(path, fmt.Errorf("not a regular file"))
	}
	if !isExecutable(fi.Mode()) {
		return "", dpapi.ErrorValidatorUnavailable(path, fmt.Errorf("not executable"))
	}
	if err := executionAccess(path); err != nil {
		return "", dpapi.ErrorValidatorUnavailable(path, err)
	}
	return path, nil
}

// maxLinkHops bounds ResolveLink; the same limit Linux applies to path lookup.
const maxLinkHops = 40

// ResolveLink follows symlinks from path, returning "" if any step fails
// or the chain is longer than maxLinkHops, as a cycle is.
func ResolveLink(path string) string {
	fi, err := os.Lstat(path)
	if err != nil {
		return ""
	}
	for hops := 0; fi.Mode()&fs.ModeSymlink != 0; hops++ {
		if hops == maxLinkHops {
			return ""
		}
		target, err := os.Readlink(path)
		if err != nil {
			return ""
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(path), target)
		}
		path = target
		if fi, err = os.Lstat(path); err != nil {
			return ""
		}
	}
	return path
}
