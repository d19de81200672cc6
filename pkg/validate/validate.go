// Package validate runs the domain validator over spooled files and decides,
// according to a Policy, whether a failed validation stops a publish.
package validate

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dandiarchive/dandipub/dpapi"
	"github.com/dandiarchive/dandipub/pkg/config"
	"github.com/dandiarchive/dandipub/pkg/logging"
	"github.com/dandiarchive/dandipub/pkg/metrics"
	"github.com/dandiarchive/dandipub/pkg/tracing"
)

const LOG_TAG = "validate"

// maxOutput bounds the validator output kept for error messages; the full
// output always goes to the log.
const maxOutput = 4096

// Result is the outcome of a validator run that started and exited normally.
type Result struct {
	Passed bool
	Output string
}

type Validator interface {
	// Validate checks the file at path. A file the validator rejects is a
	// Result with Passed false, not an error.
	//
	// Errors:
	//
	//   - dandi-error-validator-unavailable -- when the validator cannot be started or crashes
	Validate(ctx context.Context, path string) (Result, error)
}

// Func adapts a function to Validator.
type Func func(ctx context.Context, path string) (Result, error)

func (f Func) Validate(ctx context.Context, path string) (Result, error) {
	return f(ctx, path)
}

// Command runs an external validator as `Path Args... <file>`.
// Exit status zero passes; any other exit status fails.
type Command struct {
	Path string
	Args []string
}

func (c Command) Validate(ctx context.Context, path string) (result Result, err error) {
	ctx, span := tracing.Start(ctx, "validate", trace.WithAttributes(
		tracing.AttrFullExecNameValidator, tracing.AttrFullExecOperationValidate))
	defer tracing.EndWithError(ctx, span, &err)

	bin, err := LookupBinary(c.Path)
	if err != nil {
		return Result{}, err
	}
	args := append(append([]string{}, c.Args...), path)
	log := logging.Ctx(ctx)
	log.Debug(LOG_TAG, "running %s %v", bin, args)

	var captured bytes.Buffer
	out := io.MultiWriter(&captured, log.InfoWriter(LOG_TAG))
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = out
	cmd.Stderr = out
	runErr := cmd.Run()

	output := captured.String()
	if len(output) > maxOutput {
		output = "..." + output[len(output)-maxOutput:]
	}
	if runErr == nil {
		return Result{Passed: true, Output: output}, nil
	}
	if ctx.Err() != nil {
		return Result{}, dpapi.ErrorValidatorUnavailable(bin, ctx.Err())
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) && exitErr.ExitCode() > 0 {
		span.SetAttributes(attribute.Int(tracing.AttrKeyExecExitCode, exitErr.ExitCode()))
		return Result{Passed: false, Output: output}, nil
	}
	// not started, or killed by a signal
	return Result{}, dpapi.ErrorValidatorUnavailable(bin, runErr)
}

type Policy int

const (
	// PolicyEnforce aborts the publish when a file fails validation.
	PolicyEnforce Policy = iota
	// PolicyAdvisory logs failures and publishes anyway.
	PolicyAdvisory
	// PolicyOff never runs the validator.
	PolicyOff
)

func (p Policy) String() string {
	switch p {
	case PolicyEnforce:
		return config.PolicyEnforce
	case PolicyAdvisory:
		return config.PolicyAdvisory
	case PolicyOff:
		return config.PolicyOff
	default:
		return "invalid"
	}
}

// ParsePolicy reads a config policy name.
//
// Errors:
//
//   - dandi-error-config -- when name is not a known policy
func ParsePolicy(name string) (Policy, error) {
	switch name {
	case config.PolicyEnforce:
		return PolicyEnforce, nil
	case config.PolicyAdvisory:
		return PolicyAdvisory, nil
	case config.PolicyOff:
		return PolicyOff, nil
	default:
		return 0, dpapi.ErrorConfig("validator.policy", "unknown policy "+name)
	}
}

// Gate applies a Policy to a Validator.
type Gate struct {
	Validator Validator
	Policy    Policy
	Metrics   *metrics.Metrics
}

// Check validates the spooled copy of the file called name.
// It returns nil when the file may be published.
//
// Errors:
//
//   - dandi-error-validation-failed -- when the file fails and the policy is enforce
//   - dandi-error-validator-unavailable -- when the validator cannot run and the policy is enforce
func (g Gate) Check(ctx context.Context, name, path string) error {
	if g.Policy == PolicyOff || g.Validator == nil {
		return nil
	}
	log := logging.Ctx(ctx)
	result, err := g.Validator.Validate(ctx, path)
	if err != nil {
		if g.Policy == PolicyEnforce {
			return err
		}
		log.Warn(LOG_TAG, "validator unavailable for %s, publishing anyway: %s", name, err)
		return nil
	}
	if result.Passed {
		log.Debug(LOG_TAG, "%s passed validation", name)
		return nil
	}
	g.Metrics.RecordValidationFailure()
	if g.Policy == PolicyEnforce {
		return dpapi.ErrorValidationFailed(name, result.Output)
	}
	log.Warn(LOG_TAG, "%s failed validation, publishing anyway", name)
	return nil
}
