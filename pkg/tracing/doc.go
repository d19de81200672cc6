/*
Package tracing carries an OpenTelemetry tracer through context.Context.

Publish steps, transfers and validator runs open spans with Start; the CLI
installs the tracer (or a no-op one) before a command runs, so library code
never reaches for a global provider.
*/
package tracing
