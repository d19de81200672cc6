package util

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/dandiarchive/dandipub/dpapi"
	"github.com/dandiarchive/dandipub/pkg/catalog"
	"github.com/dandiarchive/dandipub/pkg/config"
	"github.com/dandiarchive/dandipub/pkg/girder"
	"github.com/dandiarchive/dandipub/pkg/logging"
	"github.com/dandiarchive/dandipub/pkg/metrics"
	"github.com/dandiarchive/dandipub/pkg/objectstore"
	"github.com/dandiarchive/dandipub/pkg/publish"
	"github.com/dandiarchive/dandipub/pkg/queue"
	"github.com/dandiarchive/dandipub/pkg/validate"
	"github.com/dandiarchive/dandipub/pkg/version"
)

// Overrides replaces the backends OpenStore, OpenCatalog and OpenQueue would
// otherwise build from configuration. Tests set it to share in-memory
// backends between command invocations.
var Overrides struct {
	Store   objectstore.Store
	Catalog catalog.Catalog
	Queue   queue.Queue
	HTTP    *http.Client
}

// OpenStore builds the object store named by cfg.Store.Kind.
//
// Errors:
//
//   - dandi-error-store -- when the S3 client cannot be configured
func OpenStore(ctx context.Context, cfg config.Config) (objectstore.Store, error) {
	if Overrides.Store != nil {
		return Overrides.Store, nil
	}
	if cfg.Store.Kind == config.StoreMemory {
		logging.Ctx(ctx).Warn("", "using an in-memory object store; published objects will not outlive this process")
		return objectstore.NewMemory(cfg.Store.Bucket), nil
	}
	store, err := objectstore.NewS3(ctx, objectstore.S3Config{
		Bucket:    cfg.Store.Bucket,
		Region:    cfg.Store.Region,
		Endpoint:  cfg.Store.Endpoint,
		PathStyle: cfg.Store.PathStyle,
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}

// OpenCatalog connects to postgres when a database URL is configured,
// and otherwise returns an in-process catalog.
// Callers must Close the result.
//
// Errors:
//
//   - dandi-error-catalog -- when the database cannot be reached
func OpenCatalog(ctx context.Context, cfg config.Config) (catalog.Catalog, error) {
	if Overrides.Catalog != nil {
		return nopClose{Overrides.Catalog}, nil
	}
	if cfg.Catalog.DatabaseURL == "" {
		logging.Ctx(ctx).Warn("", "no database configured; using an in-memory catalog")
		return catalog.NewMemory(), nil
	}
	pg, err := catalog.OpenPostgres(ctx, cfg.Catalog.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return pg, nil
}

// nopClose keeps shared catalogs open across commands.
type nopClose struct {
	catalog.Catalog
}

func (nopClose) Close() {}

// OpenQueue connects to the configured redis queue.
// Callers must Close the result.
//
// Errors:
//
//   - dandi-error-config -- when the redis URL does not parse
//   - dandi-error-queue -- when redis cannot be reached
func OpenQueue(ctx context.Context, cfg config.Config) (queue.Queue, error) {
	if Overrides.Queue != nil {
		return Overrides.Queue, nil
	}
	q, err := queue.NewRedis(ctx, cfg.Queue.RedisURL, cfg.Queue.Name)
	if err != nil {
		return nil, err
	}
	return q, nil
}

// NewPublisher assembles a publisher over already opened backends.
//
// Errors:
//
//   - dandi-error-config -- when the girder URL, version strategy or validation policy is invalid
func NewPublisher(cfg config.Config, cat catalog.Catalog, store objectstore.Store) (*publish.Publisher, error) {
	client, err := girder.NewClient(cfg.Girder.APIURL, cfg.Girder.Token, Overrides.HTTP)
	if err != nil {
		return nil, err
	}
	allocator, err := version.ForStrategy(cfg.Version.Strategy)
	if err != nil {
		return nil, err
	}
	policy, err := validate.ParsePolicy(cfg.Validator.Policy)
	if err != nil {
		return nil, err
	}
	m := metrics.Init()
	return &publish.Publisher{
		Girder:    client,
		Catalog:   cat,
		Store:     store,
		Allocator: allocator,
		Gate: validate.Gate{
			Validator: validate.Command{Path: cfg.Validator.Path, Args: cfg.Validator.Args},
			Policy:    policy,
			Metrics:   m,
		},
		Metrics:       m,
		Prefix:        cfg.Store.Prefix,
		StagingPrefix: cfg.Store.StagingPrefix,
		SpoolDir:      cfg.Transfer.SpoolDir,
		ChunkBytes:    cfg.Transfer.ChunkBytes,
	}, nil
}

// WriteJSON prints v as one line of JSON, the result format of every command.
//
// Errors:
//
//   - dandi-error-serialization -- when v cannot be encoded
func WriteJSON(w io.Writer, v interface{}) error {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return dpapi.ErrorSerialization("encoding command result", err)
	}
	return nil
}
