package tracing

import "go.opentelemetry.io/otel/attribute"

// Span attribute keys used by dandipub
const (
	AttrKeyErrorCode     = "dandi.error.code"
	AttrKeyGirderID      = "dandi.girder.id"
	AttrKeyDandiset      = "dandi.dandiset"
	AttrKeyVersion       = "dandi.version"
	AttrKeySubject       = "dandi.subject"
	AttrKeyFileName      = "dandi.file.name"
	AttrKeyFileSize      = "dandi.file.size"
	AttrKeySHA256        = "dandi.file.sha256"
	AttrKeyObjectKey     = "dandi.object.key"
	AttrKeyPublishState  = "dandi.publish.state"
	AttrKeyExecName      = "dandi.exec.name"
	AttrKeyExecOperation = "dandi.exec.operation"
	AttrKeyExecExitCode  = "dandi.exec.exit_code"
)

// Attribute values
const (
	AttrValueExecNameValidator     = "validator"
	AttrValueExecOperationValidate = "validate"
)

// Enumerated attributes
var (
	AttrFullExecNameValidator     = attribute.String(AttrKeyExecName, AttrValueExecNameValidator)
	AttrFullExecOperationValidate = attribute.String(AttrKeyExecOperation, AttrValueExecOperationValidate)
)
