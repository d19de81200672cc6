// Package publish turns a girder draft into an immutable published version.
//
// A publish walks Dandiset → Subject → File. Every catalog row it creates is
// written inside one catalog transaction, and every object goes through a
// staging area that is finalized just before that transaction commits.
// A failed publish leaves neither rows nor objects behind.
package publish

import (
	"bytes"
	"context"
	"path"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"

	"github.com/dandiarchive/dandipub/dpapi"
	"github.com/dandiarchive/dandipub/pkg/catalog"
	"github.com/dandiarchive/dandipub/pkg/girder"
	"github.com/dandiarchive/dandipub/pkg/logging"
	"github.com/dandiarchive/dandipub/pkg/metrics"
	"github.com/dandiarchive/dandipub/pkg/objectstore"
	"github.com/dandiarchive/dandipub/pkg/tracing"
	"github.com/dandiarchive/dandipub/pkg/transfer"
	"github.com/dandiarchive/dandipub/pkg/validate"
	"github.com/dandiarchive/dandipub/pkg/version"
)

const LOG_TAG = "publish"

const manifestContentType = "application/x-yaml"

// State is a step of one publish run.
type State string

const (
	StateLoading            State = "loading"
	StateAllocating         State = "allocating"
	StateWritingCatalog     State = "writing-catalog"
	StateTransferringAssets State = "transferring-assets"
	StateWritingManifest    State = "writing-manifest"
	StateFinalizing         State = "finalizing"
	StateDone               State = "done"
	StateFailed             State = "failed"
)

// Publisher holds everything a publish needs. It is safe to share between
// goroutines; each Publish call keeps its own state.
type Publisher struct {
	Girder    *girder.Client
	Catalog   catalog.Catalog
	Store     objectstore.Store
	Allocator version.Allocator
	Gate      validate.Gate
	Metrics   *metrics.Metrics

	// Prefix is the key prefix of published versions.
	Prefix string
	// StagingPrefix is where objects wait until the catalog transaction is about to commit.
	StagingPrefix string
	SpoolDir      string
	ChunkBytes    int

	// OnState, when set, is called on every state change.
	OnState func(State)
}

// Outcome describes a completed publish.
type Outcome struct {
	Dandiset string          `json:"dandiset"`
	Version  dpapi.VersionID `json:"version"`
	// Location is the fully qualified object-store location of the version.
	Location string `json:"location"`
	Assets   int    `json:"assets"`
	Size     int64  `json:"size"`
}

// WithToken returns a copy of p that talks to girder with token.
func (p *Publisher) WithToken(token string) *Publisher {
	cp := *p
	cp.Girder = p.Girder.WithToken(token)
	return &cp
}

// run is the per-invocation state machine.
type run struct {
	span    trace.Span
	log     *logging.Logger
	onState func(State)
	state   State
}

func (r *run) enter(s State) {
	r.log.Debug(LOG_TAG, "%s -> %s", r.state, s)
	r.state = s
	r.span.AddEvent(string(s))
	r.span.SetAttributes(attribute.String(tracing.AttrKeyPublishState, string(s)))
	if r.onState != nil {
		r.onState(s)
	}
}

// Publish publishes the draft rooted at the girder folder girderID and
// returns where the new version lives.
//
// The draft's metadata is validated before anything is written.
// Redelivering the same publish after a crash is safe: nothing of the
// crashed attempt was committed, and allocation picks the next free version.
//
// Errors:
//
//   - dandi-error-source-unavailable -- when girder fails or returns garbage
//   - dandi-error-schema-violation -- when the draft metadata is missing or malformed
//   - dandi-error-cardinality-violation -- when an item does not carry exactly one file
//   - dandi-error-allocation-failed -- when no version can be allocated
//   - dandi-error-transfer-failed -- when a file cannot be downloaded in full
//   - dandi-error-validation-failed -- when a file fails validation under the enforce policy
//   - dandi-error-validator-unavailable -- when the validator cannot run under the enforce policy
//   - dandi-error-catalog -- when a catalog write or the commit fails
//   - dandi-error-store -- when an object cannot be written or finalized
//   - dandi-error-serialization -- when the manifest cannot be encoded
//   - dandi-error-io -- when a spool file cannot be created
func (p *Publisher) Publish(ctx context.Context, girderID string) (out Outcome, err error) {
	start := time.Now()
	ctx, span := tracing.Start(ctx, "publish", trace.WithAttributes(
		attribute.String(tracing.AttrKeyGirderID, girderID)))
	r := &run{span: span, log: logging.Ctx(ctx), onState: p.OnState}
	defer func() {
		if err != nil {
			r.enter(StateFailed)
			r.log.Warn(LOG_TAG, "publish of girder folder %s failed: %s", girderID, err)
		}
		p.Metrics.RecordPublish(err, time.Since(start))
		tracing.EndWithError(ctx, span, &err)
	}()

	r.enter(StateLoading)
	draft, err := p.Girder.LoadDraft(ctx, girderID)
	if err != nil {
		return Outcome{}, err
	}
	meta, err := dpapi.ExtractVersionMetadata(draft)
	if err != nil {
		return Outcome{}, err
	}
	span.SetAttributes(attribute.String(tracing.AttrKeyDandiset, draft.Identifier))
	r.log.Info(LOG_TAG, "publishing dandiset %s: %d subjects, %d files",
		draft.Identifier, len(draft.Subjects), draft.FileCount())

	staging := objectstore.NewStaging(p.Store, p.StagingPrefix, uuid.NewString())
	committed := false
	defer func() {
		if !committed {
			staging.Abort(context.WithoutCancel(ctx))
		}
	}()

	err = p.Catalog.WithTx(ctx, func(ctx context.Context, tx catalog.Tx) error {
		var err error
		out, err = p.write(ctx, r, tx, draft, meta, staging)
		return err
	})
	if err != nil {
		return Outcome{}, err
	}
	committed = true
	r.enter(StateDone)
	r.log.Info(LOG_TAG, "published %s version %s at %s", out.Dandiset, out.Version, out.Location)
	return out, nil
}

// write performs every step that must commit together.
func (p *Publisher) write(
	ctx context.Context,
	r *run,
	tx catalog.Tx,
	draft dpapi.Draft,
	meta dpapi.VersionMetadata,
	staging *objectstore.Staging,
) (Outcome, error) {
	r.enter(StateAllocating)
	dandiset, err := tx.LockOrCreateDandiset(ctx, draft.Identifier)
	if err != nil {
		return Outcome{}, err
	}
	probes := version.Probes{
		InCatalog: func(ctx context.Context, v dpapi.VersionID) (bool, error) {
			return tx.VersionExists(ctx, dandiset.ID, v)
		},
		InStore: func(ctx context.Context, v dpapi.VersionID) (bool, error) {
			return p.Store.Exists(ctx, objectstore.ManifestKey(p.Prefix, draft.Identifier, v))
		},
		Latest: func(ctx context.Context) (dpapi.VersionID, bool, error) {
			return tx.LatestVersion(ctx, dandiset.ID)
		},
	}
	v, err := p.Allocator.Allocate(ctx, draft.Identifier, probes)
	if err != nil {
		return Outcome{}, err
	}
	r.span.SetAttributes(attribute.String(tracing.AttrKeyVersion, string(v)))

	r.enter(StateWritingCatalog)
	row := &dpapi.Version{
		DandisetID:  dandiset.ID,
		Version:     v,
		Name:        meta.Name,
		Description: meta.Description,
		Metadata:    meta.Metadata,
	}
	if err := tx.InsertVersion(ctx, row); err != nil {
		return Outcome{}, err
	}
	for i, c := range meta.Contributors {
		saved, err := tx.GetOrCreateContributor(ctx, c)
		if err != nil {
			return Outcome{}, err
		}
		if err := tx.LinkContributor(ctx, row.ID, saved.ID, i); err != nil {
			return Outcome{}, err
		}
	}

	r.enter(StateTransferringAssets)
	engine := &transfer.Engine{
		Source:     p.Girder,
		SpoolDir:   p.SpoolDir,
		ChunkBytes: p.ChunkBytes,
		Gate:       p.Gate,
		Metrics:    p.Metrics,
	}
	out := Outcome{
		Dandiset: draft.Identifier,
		Version:  v,
		Location: p.Store.URI(objectstore.VersionPrefix(p.Prefix, draft.Identifier, v)),
	}
	for _, s := range draft.Subjects {
		subject := &dpapi.Subject{VersionID: row.ID, Name: s.Name}
		if err := tx.InsertSubject(ctx, subject); err != nil {
			return Outcome{}, err
		}
		for _, f := range s.Files {
			key, err := objectstore.AssetKey(p.Prefix, draft.Identifier, v, s.Name, f.Name)
			if err != nil {
				return Outcome{}, err
			}
			res, err := engine.Transfer(ctx, f, key, staging)
			if err != nil {
				return Outcome{}, err
			}
			asset := &dpapi.Asset{
				UUID:      uuid.New(),
				VersionID: row.ID,
				SubjectID: subject.ID,
				Path:      path.Join(s.Name, f.Name),
				Size:      res.Size,
				SHA256:    res.SHA256,
				Metadata:  f.Meta,
				ObjectKey: res.Key,
			}
			if err := tx.InsertAsset(ctx, asset); err != nil {
				return Outcome{}, err
			}
			out.Assets++
			out.Size += res.Size
		}
	}

	r.enter(StateWritingManifest)
	manifest, err := Manifest(meta)
	if err != nil {
		return Outcome{}, err
	}
	manifestKey := objectstore.ManifestKey(p.Prefix, draft.Identifier, v)
	opts := objectstore.Options{PublicRead: true, ContentType: manifestContentType}
	if err := staging.Put(ctx, manifestKey, bytes.NewReader(manifest), opts); err != nil {
		return Outcome{}, err
	}

	r.enter(StateFinalizing)
	if err := staging.Finalize(ctx); err != nil {
		return Outcome{}, err
	}
	return out, nil
}

// Manifest encodes the dandiset block of a version's metadata, without the
// fields promoted into the catalog row, as the YAML manifest document.
//
// Errors:
//
//   - dandi-error-serialization -- when the metadata cannot be encoded
func Manifest(meta dpapi.VersionMetadata) ([]byte, error) {
	doc := meta.Manifest
	if doc == nil {
		doc = dpapi.Metadata{}
	}
	body, err := yaml.Marshal(map[string]interface{}(doc))
	if err != nil {
		return nil, dpapi.ErrorSerialization("encoding manifest", err)
	}
	return body, nil
}
