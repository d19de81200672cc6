// Package transfer moves one remote file into the archive: it spools the
// download to local disk while hashing it, runs the validation gate on the
// spool, and uploads the verified bytes to the object store.
package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dandiarchive/dandipub/dpapi"
	"github.com/dandiarchive/dandipub/pkg/logging"
	"github.com/dandiarchive/dandipub/pkg/metrics"
	"github.com/dandiarchive/dandipub/pkg/objectstore"
	"github.com/dandiarchive/dandipub/pkg/tracing"
	"github.com/dandiarchive/dandipub/pkg/validate"
)

const LOG_TAG = "transfer"

const DefaultChunkBytes = 1 << 20

// Source authorizes and performs downloads. *girder.Client satisfies it.
type Source interface {
	Authorize(req *http.Request)
	HTTPClient() *http.Client
}

// Putter receives the verified file. Both objectstore.Store and
// *objectstore.Staging satisfy it.
type Putter interface {
	Put(ctx context.Context, key string, r io.Reader, opts objectstore.Options) error
}

// Result describes a file that has been uploaded.
type Result struct {
	Key    string
	SHA256 string
	Size   int64
}

// Engine holds what every transfer of a publish run shares.
type Engine struct {
	Source     Source
	SpoolDir   string
	ChunkBytes int
	Gate       validate.Gate
	Metrics    *metrics.Metrics
}

// Transfer downloads file in full, checks it against its declared size and the
// validation gate, and uploads it to dst under key with public-read visibility.
// The spool file is removed on every return path.
// Nothing is written to dst unless the download and validation succeed.
//
// Errors:
//
//   - dandi-error-transfer-failed -- when the download fails or its size differs from the declared size
//   - dandi-error-validation-failed -- when the gate rejects the file
//   - dandi-error-validator-unavailable -- when the gate cannot run the validator
//   - dandi-error-store -- when the upload fails
//   - dandi-error-io -- when the spool file cannot be created or read
func (e *Engine) Transfer(ctx context.Context, file dpapi.RemoteFile, key string, dst Putter) (result Result, err error) {
	ctx, span := tracing.Start(ctx, "transfer", trace.WithAttributes(
		attribute.String(tracing.AttrKeyFileName, file.Name),
		attribute.String(tracing.AttrKeyObjectKey, key)))
	defer tracing.EndWithError(ctx, span, &err)
	log := logging.Ctx(ctx)

	spool, err := os.CreateTemp(e.SpoolDir, "dandipub-spool-*")
	if err != nil {
		return Result{}, dpapi.ErrorIo("creating spool file", e.SpoolDir, err)
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	digest := sha256.New()
	received, err := e.download(ctx, file, io.MultiWriter(spool, digest))
	if err != nil {
		return Result{}, err
	}
	if file.Size > 0 && received != file.Size {
		return Result{}, dpapi.ErrorSizeMismatch(file.Name, file.Size, received)
	}
	sum := hex.EncodeToString(digest.Sum(nil))
	span.SetAttributes(
		attribute.Int64(tracing.AttrKeyFileSize, received),
		attribute.String(tracing.AttrKeySHA256, sum))
	log.Debug(LOG_TAG, "spooled %s (%d bytes, sha256 %s)", file.Name, received, sum)

	if err := spool.Sync(); err != nil {
		return Result{}, dpapi.ErrorIo("flushing spool file", spool.Name(), err)
	}
	if err := e.Gate.Check(ctx, file.Name, spool.Name()); err != nil {
		return Result{}, err
	}

	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return Result{}, dpapi.ErrorIo("rewinding spool file", spool.Name(), err)
	}
	opts := objectstore.Options{PublicRead: true, ContentType: "application/octet-stream"}
	if err := dst.Put(ctx, key, spool, opts); err != nil {
		return Result{}, err
	}
	e.Metrics.RecordAsset(received, received)
	log.Info(LOG_TAG, "uploaded %s to %s", file.Name, key)
	return Result{Key: key, SHA256: sum, Size: received}, nil
}

// download streams the file body to w in chunks and returns the byte count.
func (e *Engine) download(ctx context.Context, file dpapi.RemoteFile, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.URL, nil)
	if err != nil {
		return 0, dpapi.ErrorTransfer(file.Name, err)
	}
	e.Source.Authorize(req)
	resp, err := e.Source.HTTPClient().Do(req)
	if err != nil {
		return 0, dpapi.ErrorTransfer(file.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, dpapi.ErrorTransfer(file.Name, fmt.Errorf("download returned status %d", resp.StatusCode))
	}

	chunk := e.ChunkBytes
	if chunk <= 0 {
		chunk = DefaultChunkBytes
	}
	n, err := copyChunks(w, resp.Body, make([]byte, chunk))
	if err != nil {
		return n, dpapi.ErrorTransfer(file.Name, err)
	}
	return n, nil
}

// copyChunks reads src one buffer at a time until EOF, writing each chunk to dst.
func copyChunks(dst io.Writer, src io.Reader, buf []byte) (int64, error) {
	var total int64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

// Digest returns the hex sha256 of everything read from r.
// It is how a published object is checked against its catalog row.
func Digest(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
