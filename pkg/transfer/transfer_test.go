package transfer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"testing"

	"github.com/fatih/color"
	qt "github.com/frankban/quicktest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dandiarchive/dandipub/dpapi"
	"github.com/dandiarchive/dandipub/pkg/girder"
	"github.com/dandiarchive/dandipub/pkg/logging"
	"github.com/dandiarchive/dandipub/pkg/metrics"
	"github.com/dandiarchive/dandipub/pkg/objectstore"
	"github.com/dandiarchive/dandipub/pkg/testutil/girdertest"
	"github.com/dandiarchive/dandipub/pkg/validate"
)

func init() {
	color.NoColor = true
}

type fixture struct {
	ctx     context.Context
	server  *girdertest.Server
	client  *girder.Client
	store   *objectstore.Memory
	metrics *metrics.Metrics
	spool   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	server := girdertest.NewServer(t)
	client, err := girder.NewClient(server.APIRoot(), "", server.Client())
	qt.Assert(t, err, qt.IsNil)
	reg := prometheus.NewRegistry()
	l := logging.NewLogger(&bytes.Buffer{}, &bytes.Buffer{}, false, false, false)
	return &fixture{
		ctx:     l.WithContext(context.Background()),
		server:  server,
		client:  client,
		store:   objectstore.NewMemory("dandi"),
		metrics: metrics.New(reg, reg),
		spool:   t.TempDir(),
	}
}

func (f *fixture) engine(v validate.Validator) *Engine {
	return &Engine{
		Source:     f.client,
		SpoolDir:   f.spool,
		ChunkBytes: 7,
		Gate:       validate.Gate{Validator: v, Policy: validate.PolicyEnforce, Metrics: f.metrics},
		Metrics:    f.metrics,
	}
}

// file registers a single-file dandiset and returns the loaded remote file.
func (f *fixture) file(t *testing.T, gf girdertest.File) dpapi.RemoteFile {
	t.Helper()
	id := f.server.Add(girdertest.Dandiset{
		Name:     "000001",
		Meta:     map[string]interface{}{},
		Subjects: []girdertest.Subject{{Name: "sub-1", Files: []girdertest.File{gf}}},
	})
	draft, err := f.client.LoadDraft(f.ctx, id)
	qt.Assert(t, err, qt.IsNil)
	return draft.Subjects[0].Files[0]
}

func (f *fixture) spoolEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.spool)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, entries, qt.HasLen, 0)
}

func TestTransferDigestRoundTrip(t *testing.T) {
	f := newFixture(t)
	content := []byte("a file long enough to span several seven byte chunks")
	remote := f.file(t, girdertest.File{Name: "sub-1_ecephys.nwb", Content: content})

	var validated []byte
	v := validate.Func(func(ctx context.Context, path string) (validate.Result, error) {
		var err error
		validated, err = os.ReadFile(path)
		return validate.Result{Passed: true}, err
	})
	res, err := f.engine(v).Transfer(f.ctx, remote, "dandisets/000001/0.1/sub-1/sub-1_ecephys.nwb", f.store)
	qt.Assert(t, err, qt.IsNil)

	want := sha256.Sum256(content)
	qt.Assert(t, res.SHA256, qt.Equals, hex.EncodeToString(want[:]))
	qt.Assert(t, res.Size, qt.Equals, int64(len(content)))
	qt.Assert(t, validated, qt.DeepEquals, content)

	obj, ok := f.store.Get(res.Key)
	qt.Assert(t, ok, qt.IsTrue)
	qt.Assert(t, obj.Options.PublicRead, qt.IsTrue)
	again, err := Digest(bytes.NewReader(obj.Data))
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, again, qt.Equals, res.SHA256)

	qt.Assert(t, testutil.ToFloat64(f.metrics.AssetsPublished), qt.Equals, 1.0)
	qt.Assert(t, testutil.ToFloat64(f.metrics.BytesUploaded), qt.Equals, float64(len(content)))
	f.spoolEmpty(t)
}

func TestTransferSizeMismatch(t *testing.T) {
	f := newFixture(t)
	remote := f.file(t, girdertest.File{Name: "short.nwb", Content: []byte("abc"), DeclaredSize: 10})

	_, err := f.engine(nil).Transfer(f.ctx, remote, "k", f.store)
	qt.Assert(t, dpapi.Code(err), qt.Equals, dpapi.CodeTransferFailed)
	qt.Assert(t, f.store.Keys(""), qt.HasLen, 0)
	f.spoolEmpty(t)
}

func TestTransferDownloadFailure(t *testing.T) {
	f := newFixture(t)
	remote := f.file(t, girdertest.File{Name: "a.nwb", Content: []byte("abc")})
	f.server.Fail = map[string]int{"file/": 503}

	_, err := f.engine(nil).Transfer(f.ctx, remote, "k", f.store)
	qt.Assert(t, dpapi.Code(err), qt.Equals, dpapi.CodeTransferFailed)
	qt.Assert(t, f.store.Keys(""), qt.HasLen, 0)
	f.spoolEmpty(t)
}

func TestTransferValidationFailureWritesNothing(t *testing.T) {
	f := newFixture(t)
	remote := f.file(t, girdertest.File{Name: "bad.nwb", Content: []byte("not hdf5")})
	v := validate.Func(func(ctx context.Context, path string) (validate.Result, error) {
		return validate.Result{Passed: false, Output: "not an NWB file"}, nil
	})

	_, err := f.engine(v).Transfer(f.ctx, remote, "k", f.store)
	qt.Assert(t, dpapi.Code(err), qt.Equals, dpapi.CodeValidationFailed)
	qt.Assert(t, f.store.Keys(""), qt.HasLen, 0)
	qt.Assert(t, testutil.ToFloat64(f.metrics.AssetsPublished), qt.Equals, 0.0)
	f.spoolEmpty(t)
}

func TestTransferStoreFailure(t *testing.T) {
	f := newFixture(t)
	remote := f.file(t, girdertest.File{Name: "a.nwb", Content: []byte("abc")})
	f.store.FailOn = func(op, key string) error {
		if op == "put" {
			return os.ErrPermission
		}
		return nil
	}

	_, err := f.engine(nil).Transfer(f.ctx, remote, "k", f.store)
	qt.Assert(t, dpapi.Code(err), qt.Equals, dpapi.CodeStore)
	f.spoolEmpty(t)
}

func TestTransferSendsToken(t *testing.T) {
	f := newFixture(t)
	remote := f.file(t, girdertest.File{Name: "a.nwb", Content: []byte("abc")})
	f.server.Token = "secret"

	_, err := f.engine(nil).Transfer(f.ctx, remote, "k", f.store)
	qt.Assert(t, dpapi.Code(err), qt.Equals, dpapi.CodeTransferFailed)

	client, err := girder.NewClient(f.server.APIRoot(), "secret", f.server.Client())
	qt.Assert(t, err, qt.IsNil)
	e := f.engine(nil)
	e.Source = client
	_, err = e.Transfer(f.ctx, remote, "k", f.store)
	qt.Assert(t, err, qt.IsNil)
}
