// Package healthcheck runs a list of independent checks against the
// dependencies of a deployment and prints one status line per check.
package healthcheck

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/serum-errors/go-serum"

	"github.com/dandiarchive/dandipub/dpapi"
	"github.com/dandiarchive/dandipub/pkg/logging"
)

const LOG_TAG = "health"

const (
	CodeRunOkay      = "dandi-error-healthcheck-run-okay"
	CodeRunFailure   = "dandi-error-healthcheck-run-fail"
	CodeRunAmbiguous = "dandi-error-healthcheck-run-ambiguous"
)

type HealthCheckStatus int

const (
	// StatusNone is the zero value and used for unset status value
	StatusNone HealthCheckStatus = iota
	StatusOkay
	StatusFail
	StatusAmbiguous
	StatusUnknown
)

// Characters used to display status
const (
	StatusCharacter_None      = "∅"
	StatusCharacter_Okay      = "✔"
	StatusCharacter_Failure   = "✘"
	StatusCharacter_Ambiguous = "?"
	StatusCharacter_Unknown   = "!"
)

func (s HealthCheckStatus) String() string {
	switch s {
	case StatusNone:
		return StatusCharacter_None
	case StatusOkay:
		return StatusCharacter_Okay
	case StatusAmbiguous:
		return StatusCharacter_Ambiguous
	case StatusFail:
		return StatusCharacter_Failure
	default:
		return StatusCharacter_Unknown
	}
}

type Runner interface {
	// Run returns a serum error carrying a human readable message and one of
	// the run codes. It never returns nil.
	//
	// Errors:
	//
	//    - dandi-error-healthcheck-run-okay --
	//    - dandi-error-healthcheck-run-fail --
	//    - dandi-error-healthcheck-run-ambiguous --
	Run(context.Context) error
	// String is the label printed next to the result.
	String() string
}

type HealthCheck struct {
	Runners []Runner
	Results []serum.ErrorInterfaceWithMessage
}

// Run executes every runner in order and stores the results.
// Errors: none -- results are stored for Fprint and Failed
func (h *HealthCheck) Run(ctx context.Context) error {
	log := logging.Ctx(ctx)
	h.Results = make([]serum.ErrorInterfaceWithMessage, 0, len(h.Runners))
	for _, runner := range h.Runners {
		log.Debug(LOG_TAG, "running %s", runner)
		err := runner.Run(ctx)
		result, ok := err.(serum.ErrorInterfaceWithMessage)
		if !ok {
			result = serum.Errorf(CodeRunFailure, "runner returned an unexpected error: %v", err).(serum.ErrorInterfaceWithMessage)
		}
		h.Results = append(h.Results, result)
	}
	return nil
}

// Failed reports whether any result has failed.
func (h *HealthCheck) Failed() bool {
	for _, r := range h.Results {
		if Status(r) == StatusFail {
			return true
		}
	}
	return false
}

// Fprint writes one line per result.
//
// Errors:
//
//   - dandi-error-internal -- when the health check was not run before printing results
func (h *HealthCheck) Fprint(w io.Writer) error {
	if len(h.Runners) != len(h.Results) {
		return dpapi.ErrorInternal("printing health check", fmt.Errorf("Run must be called first"))
	}
	headers := make([]string, 0, len(h.Runners))
	maxHeaderLen := 0
	for _, runner := range h.Runners {
		header := runner.String()
		headers = append(headers, header)
		if len(header) > maxHeaderLen {
			maxHeaderLen = len(header)
		}
	}
	for i, result := range h.Results {
		status := Status(result)
		statusStr := h.TermColor(status).Sprint(status)
		fmt.Fprintf(w, " %s  %-*s\t%s\n", statusStr, maxHeaderLen, headers[i], result.Message())
	}
	return nil
}

func (h *HealthCheck) TermColor(s HealthCheckStatus) *color.Color {
	result := color.New()
	switch s {
	case StatusNone:
		return result.Add(color.Reset)
	case StatusOkay:
		return result.Add(color.FgHiGreen, color.Bold)
	case StatusAmbiguous:
		return result.Add(color.FgHiYellow, color.Bold)
	case StatusFail:
		return result.Add(color.FgHiRed, color.Bold)
	default:
		return result.Add(color.FgHiMagenta, color.Bold)
	}
}

// Status converts serum codes to status enumeration values
func Status(err error) HealthCheckStatus {
	if err == nil {
		return StatusNone
	}
	if _, ok := err.(serum.ErrorInterface); !ok {
		return StatusNone
	}
	switch serum.Code(err) {
	case CodeRunFailure:
		return StatusFail
	case CodeRunOkay:
		return StatusOkay
	case CodeRunAmbiguous:
		return StatusAmbiguous
	default:
		return StatusUnknown
	}
}
