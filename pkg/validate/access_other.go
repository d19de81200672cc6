//go:build !linux

package validate

// executionAccess is only checked on linux; elsewhere the mode bits decide.
func executionAccess(path string) error {
	return nil
}
