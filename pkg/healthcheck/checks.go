package healthcheck

import (
	"context"
	"fmt"
	"time"

	"github.com/serum-errors/go-serum"

	"github.com/dandiarchive/dandipub/pkg/validate"
)

// DefaultTimeout bounds each PingCheck.
const DefaultTimeout = 5 * time.Second

// ValidatorCheck looks for the validator binary the gate will run.
type ValidatorCheck struct {
	Path   string
	Policy validate.Policy
}

func (c *ValidatorCheck) String() string {
	return fmt.Sprintf("Validator: %q", c.Path)
}

// Run checks that the validator can be executed.
// Errors:
//
//    - dandi-error-healthcheck-run-okay -- when the binary is found and executable
//    - dandi-error-healthcheck-run-fail -- when it is not and the policy is enforce
//    - dandi-error-healthcheck-run-ambiguous -- when it is not but the policy does not need it
func (c *ValidatorCheck) Run(ctx context.Context) error {
	if c.Policy == validate.PolicyOff {
		return serum.Errorf(CodeRunAmbiguous, "validation is off")
	}
	path, err := validate.LookupBinary(c.Path)
	if err != nil {
		if c.Policy == validate.PolicyAdvisory {
			return serum.Errorf(CodeRunAmbiguous, "policy is advisory, publishes will skip validation: %w", err)
		}
		return serum.Errorf(CodeRunFailure, "%w", err)
	}
	if target := validate.ResolveLink(path); target != "" && target != path {
		return serum.Errorf(CodeRunOkay, "path: %s -> %s", path, target)
	}
	return serum.Errorf(CodeRunOkay, "path: %s", path)
}

// PingCheck reports whether a dependency answers.
type PingCheck struct {
	Name string
	// Target is printed on success, e.g. the bucket URI.
	Target  string
	Ping    func(ctx context.Context) error
	Timeout time.Duration
}

func (c *PingCheck) String() string {
	return c.Name
}

// Run calls Ping with a deadline.
// Errors:
//
//    - dandi-error-healthcheck-run-okay -- when Ping succeeds
//    - dandi-error-healthcheck-run-fail -- when Ping fails or times out
func (c *PingCheck) Run(ctx context.Context) error {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()
	if err := c.Ping(ctx); err != nil {
		return serum.Errorf(CodeRunFailure, "unreachable: %w", err)
	}
	elapsed := time.Since(start).Round(time.Millisecond)
	if c.Target != "" {
		return serum.Errorf(CodeRunOkay, "%s (%s)", c.Target, elapsed)
	}
	return serum.Errorf(CodeRunOkay, "reachable (%s)", elapsed)
}

// SkipCheck reports a dependency this deployment does not use.
type SkipCheck struct {
	Name   string
	Reason string
}

func (c *SkipCheck) String() string {
	return c.Name
}

// Run always reports ambiguous with the reason.
// Errors:
//
//    - dandi-error-healthcheck-run-ambiguous -- always
func (c *SkipCheck) Run(ctx context.Context) error {
	return serum.Errorf(CodeRunAmbiguous, "%s", c.Reason)
}
