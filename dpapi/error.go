package dpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/serum-errors/go-serum"
)

const (
	CodeSourceUnavailable    = "dandi-error-source-unavailable"
	CodeSchemaViolation      = "dandi-error-schema-violation"
	CodeCardinality          = "dandi-error-cardinality-violation"
	CodeTransferFailed       = "dandi-error-transfer-failed"
	CodeAllocationFailed     = "dandi-error-allocation-failed"
	CodeValidationFailed     = "dandi-error-validation-failed"
	CodeValidatorUnavailable = "dandi-error-validator-unavailable"
	CodeCatalog              = "dandi-error-catalog"
	CodeStore                = "dandi-error-store"
	CodeQueue                = "dandi-error-queue"
	CodeConfig               = "dandi-error-config"
	CodeUsage                = "dandi-error-usage"
	CodeIo                   = "dandi-error-io"
	CodeSerialization        = "dandi-error-serialization"
	CodeInternal             = "dandi-error-internal"
	CodeUnknown              = "dandi-error-unknown"
)

// Code returns the serum code of err, searching the wrap chain.
// An empty string is returned for errors that carry no code.
func Code(err error) string {
	var serr serum.ErrorInterface
	if errors.As(err, &serr) {
		return serr.Code()
	}
	return ""
}

// TerminalError emits an error on stdout as json, and halts immediately.
// Only for use during process initialization, before any other output protocol exists.
func TerminalError(err serum.ErrorInterface, exitCode int) {
	json.NewEncoder(os.Stdout).Encode(struct {
		Error serum.ErrorInterface `json:"error"`
	}{err})
	os.Exit(exitCode)
}

// ErrorUnknown is returned when an unknown error occurs
//
// Errors:
//
//   - dandi-error-unknown --
func ErrorUnknown(msgTmpl string, cause error) error {
	return serum.Errorf(CodeUnknown, "%s: %w", msgTmpl, cause)
}

// ErrorInternal is for miscellaneous errors that an operator is not expected to act on.
//
// Errors:
//
//   - dandi-error-internal --
func ErrorInternal(msgTmpl string, cause error) error {
	return serum.Errorf(CodeInternal, "%s: %w", msgTmpl, cause)
}

// ErrorSourceStatus is returned when girder answers with a non-success status.
//
// Errors:
//
//   - dandi-error-source-unavailable --
func ErrorSourceStatus(endpoint string, status int) error {
	return serum.Error(CodeSourceUnavailable,
		serum.WithMessageTemplate("girder returned status code {{status}} for {{endpoint|q}}"),
		serum.WithDetail("endpoint", endpoint),
		serum.WithDetail("status", strconv.Itoa(status)),
	)
}

// ErrorSourceBody is returned when girder answers with a body that is not JSON.
// The body is kept in the details for diagnostics.
//
// Errors:
//
//   - dandi-error-source-unavailable --
func ErrorSourceBody(endpoint string, body []byte) error {
	return serum.Error(CodeSourceUnavailable,
		serum.WithMessageTemplate("girder returned non-json response for {{endpoint|q}}: {{body|q}}"),
		serum.WithDetail("endpoint", endpoint),
		serum.WithDetail("body", string(body)),
	)
}

// ErrorSourceRequest wraps transport failures talking to girder.
//
// Errors:
//
//   - dandi-error-source-unavailable --
func ErrorSourceRequest(endpoint string, cause error) error {
	result := serum.Errorf(CodeSourceUnavailable, "request to girder failed: %s: %w", endpoint, cause)
	addDetails(result, [][2]string{{"endpoint", endpoint}})
	return result
}

// ErrorSchemaViolation is returned when draft metadata is missing or malformed.
//
// Errors:
//
//   - dandi-error-schema-violation --
func ErrorSchemaViolation(subject string, reason string) error {
	return serum.Error(CodeSchemaViolation,
		serum.WithMessageTemplate("invalid metadata for {{subject}}: {{reason}}"),
		serum.WithDetail("subject", subject),
		serum.WithDetail("reason", reason),
	)
}

// ErrorCardinality is returned when a girder item does not carry exactly one file.
//
// Errors:
//
//   - dandi-error-cardinality-violation --
func ErrorCardinality(itemID string, count int) error {
	return serum.Error(CodeCardinality,
		serum.WithMessageTemplate("expected exactly one file per item, item {{item|q}} has {{count}}"),
		serum.WithDetail("item", itemID),
		serum.WithDetail("count", strconv.Itoa(count)),
	)
}

// ErrorTransfer is returned when moving a file into the archive fails.
//
// Errors:
//
//   - dandi-error-transfer-failed --
func ErrorTransfer(name string, cause error) error {
	result := serum.Errorf(CodeTransferFailed, "transfer of %q failed: %w", name, cause)
	addDetails(result, [][2]string{{"file", name}})
	return result
}

// ErrorSizeMismatch is returned when a download does not match its declared size.
//
// Errors:
//
//   - dandi-error-transfer-failed --
func ErrorSizeMismatch(name string, declared, received int64) error {
	return serum.Error(CodeTransferFailed,
		serum.WithMessageTemplate("transfer of {{file|q}} received {{received}} bytes, expected {{declared}}"),
		serum.WithDetail("file", name),
		serum.WithDetail("declared", strconv.FormatInt(declared, 10)),
		serum.WithDetail("received", strconv.FormatInt(received, 10)),
	)
}

// ErrorAllocation is returned when probing for a free version fails.
//
// Errors:
//
//   - dandi-error-allocation-failed --
func ErrorAllocation(dandiset string, cause error) error {
	result := serum.Errorf(CodeAllocationFailed, "version allocation for dandiset %q failed: %w", dandiset, cause)
	addDetails(result, [][2]string{{"dandiset", dandiset}})
	return result
}

// ErrorValidationFailed is returned when the validator rejects a file.
//
// Errors:
//
//   - dandi-error-validation-failed --
func ErrorValidationFailed(path string, output string) error {
	return serum.Error(CodeValidationFailed,
		serum.WithMessageTemplate("file {{path|q}} failed validation"),
		serum.WithDetail("path", path),
		serum.WithDetail("output", output),
	)
}

// ErrorValidatorUnavailable is returned when the validator itself could not be run.
//
// Errors:
//
//   - dandi-error-validator-unavailable --
func ErrorValidatorUnavailable(bin string, cause error) error {
	result := serum.Errorf(CodeValidatorUnavailable, "validator %q could not be run: %w", bin, cause)
	addDetails(result, [][2]string{{"bin", bin}})
	return result
}

// ErrorCatalog wraps failures from the relational catalog.
//
// Errors:
//
//   - dandi-error-catalog --
func ErrorCatalog(context string, cause error) error {
	result := serum.Errorf(CodeCatalog, "catalog error: %s: %w", context, cause)
	addDetails(result, [][2]string{{"context", context}})
	return result
}

// ErrorCatalogMissing is returned when a catalog lookup finds nothing.
//
// Errors:
//
//   - dandi-error-catalog --
func ErrorCatalogMissing(what string) error {
	return serum.Error(CodeCatalog,
		serum.WithMessageTemplate("no catalog entry for {{what}}"),
		serum.WithDetail("what", what),
	)
}

// ErrorStore wraps failures from the object store.
//
// Errors:
//
//   - dandi-error-store --
func ErrorStore(op string, key string, cause error) error {
	result := serum.Errorf(CodeStore, "object store %s %q: %w", op, key, cause)
	addDetails(result, [][2]string{{"op", op}, {"key", key}})
	return result
}

// ErrorQueue wraps failures from the task queue.
//
// Errors:
//
//   - dandi-error-queue --
func ErrorQueue(context string, cause error) error {
	result := serum.Errorf(CodeQueue, "queue error: %s: %w", context, cause)
	addDetails(result, [][2]string{{"context", context}})
	return result
}

// ErrorConfig is returned when configuration is missing or invalid.
//
// Errors:
//
//   - dandi-error-config --
func ErrorConfig(key string, reason string) error {
	return serum.Error(CodeConfig,
		serum.WithMessageTemplate("invalid configuration {{key|q}}: {{reason}}"),
		serum.WithDetail("key", key),
		serum.WithDetail("reason", reason),
	)
}

// ErrorUsage is returned when a command is invoked with the wrong arguments.
//
// Errors:
//
//   - dandi-error-usage --
func ErrorUsage(command string, reason string) error {
	return serum.Error(CodeUsage,
		serum.WithMessageTemplate("{{command}}: {{reason}}"),
		serum.WithDetail("command", command),
		serum.WithDetail("reason", reason),
	)
}

// ErrorIo wraps generic I/O errors from the Go stdlib
//
// Errors:
//
//   - dandi-error-io --
func ErrorIo(context string, path string, cause error) error {
	result := serum.Errorf(CodeIo, "io error: %s: %w", context, cause)
	addDetails(result, [][2]string{{"context", context}, {"path", path}})
	return result
}

// ErrorSerialization is returned when a serialization or deserialization error occurs
//
// Errors:
//
//   - dandi-error-serialization --
func ErrorSerialization(context string, cause error) error {
	result := serum.Errorf(CodeSerialization, "serialization error: %s: %w", context, cause)
	addDetails(result, [][2]string{{"context", context}})
	return result
}

// addDetails is a helper to attach details to errors built with serum.Errorf,
// which has no option for them.
func addDetails(err error, details [][2]string) {
	s, ok := err.(*serum.ErrorValue)
	if !ok {
		panic(fmt.Sprintf("addDetails: unexpected error type %T", err))
	}
	s.Data.Details = append(s.Data.Details, details...)
}
