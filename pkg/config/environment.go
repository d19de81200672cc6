package config

const (
	EnvGirderAPIURL       = "DANDI_GIRDER_API_URL"
	EnvGirderToken        = "DANDI_GIRDER_TOKEN"
	EnvBucketName         = "DANDI_DANDISETS_BUCKET_NAME"
	EnvStoragePrefix      = "DANDI_STORAGE_PREFIX"
	EnvStagingPrefix      = "DANDI_STAGING_PREFIX"
	EnvS3EndpointURL      = "DANDI_S3_ENDPOINT_URL"
	EnvS3PathStyle        = "DANDI_S3_PATH_STYLE"
	EnvAWSRegion          = "AWS_DEFAULT_REGION"
	EnvDatabaseURL        = "DATABASE_URL"
	EnvRedisURL           = "DANDI_REDIS_URL"
	EnvQueueName          = "DANDI_QUEUE_NAME"
	EnvWorkerConcurrency  = "DANDI_WORKER_CONCURRENCY"
	EnvValidatorPath      = "DANDI_VALIDATOR_PATH"
	EnvValidationPolicy   = "DANDI_VALIDATION_POLICY"
	EnvVersionStrategy    = "DANDI_VERSION_STRATEGY"
	EnvSpoolDir           = "DANDI_SPOOL_DIR"
	EnvTransferChunkBytes = "DANDI_TRANSFER_CHUNK_BYTES"
	EnvMetricsAddr        = "DANDI_METRICS_ADDR"
)

// NOTE: keep this up to date or Load won't read them
var envKeys = []string{
	EnvGirderAPIURL,
	EnvGirderToken,
	EnvBucketName,
	EnvStoragePrefix,
	EnvStagingPrefix,
	EnvS3EndpointURL,
	EnvS3PathStyle,
	EnvAWSRegion,
	EnvDatabaseURL,
	EnvRedisURL,
	EnvQueueName,
	EnvWorkerConcurrency,
	EnvValidatorPath,
	EnvValidationPolicy,
	EnvVersionStrategy,
	EnvSpoolDir,
	EnvTransferChunkBytes,
	EnvMetricsAddr,
}
