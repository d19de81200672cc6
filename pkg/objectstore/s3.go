package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/dandiarchive/dandipub/dpapi"
)

type S3Config struct {
	Bucket string
	Region string
	// Endpoint overrides AWS endpoint resolution, e.g. for MinIO.
	Endpoint  string
	PathStyle bool
	// Extra is appended to the default config loaders (credentials, http client).
	Extra []func(*config.LoadOptions) error
	// CopyPartSize bounds a single server-side copy. Larger objects are
	// copied in parts of this size. Zero means MaxCopyPartSize.
	CopyPartSize int64
}

// MaxCopyPartSize is the largest object S3 copies in one request.
const MaxCopyPartSize = 5 << 30

type S3 struct {
	client *s3.Client
	cfg    S3Config
}

var _ Store = (*S3)(nil)

// NewS3 builds a client from the default AWS credential chain.
// It does not contact the bucket; use Ping for that.
//
// Errors:
//
//   - dandi-error-store -- when the AWS config cannot be loaded
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.Endpoint != "" {
		opts = append(opts, config.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL:               cfg.Endpoint,
					HostnameImmutable: true,
					SigningRegion:     cfg.Region,
				}, nil
			})))
	}
	opts = append(opts, cfg.Extra...)
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, dpapi.ErrorStore("load config", cfg.Bucket, err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
	})
	return &S3{client: client, cfg: cfg}, nil
}

func isNotFound(err error) bool {
	var responseError *awshttp.ResponseError
	return errors.As(err, &responseError) && responseError.ResponseError.HTTPStatusCode() == http.StatusNotFound
}

// Errors:
//
//   - dandi-error-store -- when the probe fails for any reason other than absence
func (s *S3) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, dpapi.ErrorStore("head", key, err)
}

// Errors:
//
//   - dandi-error-store -- when the upload fails
func (s *S3) Put(ctx context.Context, key string, r io.Reader, opts Options) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
		Body:   r,
	}
	if opts.PublicRead {
		input.ACL = types.ObjectCannedACLPublicRead
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	uploader := manager.NewUploader(s.client)
	if _, err := uploader.Upload(ctx, input); err != nil {
		return dpapi.ErrorStore("put", key, err)
	}
	return nil
}

// Copy copies src to dst inside the bucket. Objects above the copy part size
// are copied with a multipart upload, which is aborted if any part fails.
//
// Errors:
//
//   - dandi-error-store -- when the server-side copy fails
func (s *S3) Copy(ctx context.Context, src, dst string, opts Options) error {
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(src),
	})
	if err != nil {
		return dpapi.ErrorStore("head", src, err)
	}
	partSize := s.cfg.CopyPartSize
	if partSize <= 0 || partSize > MaxCopyPartSize {
		partSize = MaxCopyPartSize
	}
	if head.ContentLength > partSize {
		contentType := head.ContentType
		if opts.ContentType != "" {
			contentType = aws.String(opts.ContentType)
		}
		return s.copyParts(ctx, src, dst, head.ContentLength, partSize, contentType, opts)
	}

	input := &s3.CopyObjectInput{
		Bucket:     aws.String(s.cfg.Bucket),
		Key:        aws.String(dst),
		CopySource: aws.String(s.copySource(src)),
	}
	if opts.PublicRead {
		input.ACL = types.ObjectCannedACLPublicRead
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
		input.MetadataDirective = types.MetadataDirectiveReplace
	}
	if _, err := s.client.CopyObject(ctx, input); err != nil {
		return dpapi.ErrorStore("copy", src+" -> "+dst, err)
	}
	return nil
}

func (s *S3) copyParts(ctx context.Context, src, dst string, size, partSize int64, contentType *string, opts Options) (retErr error) {
	create := &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(dst),
		ContentType: contentType,
	}
	if opts.PublicRead {
		create.ACL = types.ObjectCannedACLPublicRead
	}
	upload, err := s.client.CreateMultipartUpload(ctx, create)
	if err != nil {
		return dpapi.ErrorStore("create multipart upload", dst, err)
	}
	defer func() {
		if retErr == nil {
			return
		}
		// The upload is abandoned either way; a failed abort leaves parts for the bucket lifecycle rules.
		s.client.AbortMultipartUpload(context.WithoutCancel(ctx), &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(s.cfg.Bucket),
			Key:      aws.String(dst),
			UploadId: upload.UploadId,
		})
	}()

	var parts []types.CompletedPart
	for n, start := int32(1), int64(0); start < size; n, start = n+1, start+partSize {
		end := start + partSize - 1
		if end >= size {
			end = size - 1
		}
		out, err := s.client.UploadPartCopy(ctx, &s3.UploadPartCopyInput{
			Bucket:          aws.String(s.cfg.Bucket),
			Key:             aws.String(dst),
			UploadId:        upload.UploadId,
			PartNumber:      n,
			CopySource:      aws.String(s.copySource(src)),
			CopySourceRange: aws.String(fmt.Sprintf("bytes=%d-%d", start, end)),
		})
		if err != nil {
			return dpapi.ErrorStore("copy part", src+" -> "+dst, err)
		}
		part := types.CompletedPart{PartNumber: n}
		if out.CopyPartResult != nil {
			part.ETag = out.CopyPartResult.ETag
		}
		parts = append(parts, part)
	}

	_, err = s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.cfg.Bucket),
		Key:             aws.String(dst),
		UploadId:        upload.UploadId,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		return dpapi.ErrorStore("complete multipart upload", dst, err)
	}
	return nil
}

func (s *S3) copySource(key string) string {
	return url.PathEscape(s.cfg.Bucket) + "/" + escapeKey(key)
}

// Errors:
//
//   - dandi-error-store -- when the delete fails
func (s *S3) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return dpapi.ErrorStore("delete", key, err)
	}
	return nil
}

// Errors:
//
//   - dandi-error-store -- when the bucket cannot be accessed
func (s *S3) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.cfg.Bucket),
	})
	if err != nil {
		return dpapi.ErrorStore("head bucket", s.cfg.Bucket, err)
	}
	return nil
}

func (s *S3) URI(key string) string {
	return "s3://" + s.cfg.Bucket + "/" + key
}

// escapeKey escapes each path segment of key for use in CopySource.
func escapeKey(key string) string {
	u := url.URL{Path: key}
	return u.EscapedPath()
}
