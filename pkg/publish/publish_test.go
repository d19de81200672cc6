package publish

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	qt "github.com/frankban/quicktest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gopkg.in/yaml.v3"

	"github.com/dandiarchive/dandipub/dpapi"
	"github.com/dandiarchive/dandipub/pkg/catalog"
	"github.com/dandiarchive/dandipub/pkg/girder"
	"github.com/dandiarchive/dandipub/pkg/logging"
	"github.com/dandiarchive/dandipub/pkg/metrics"
	"github.com/dandiarchive/dandipub/pkg/objectstore"
	"github.com/dandiarchive/dandipub/pkg/testutil/girdertest"
	"github.com/dandiarchive/dandipub/pkg/validate"
	"github.com/dandiarchive/dandipub/pkg/version"
)

func init() {
	color.NoColor = true
}

var clock = time.Date(2023, 1, 1, 12, 0, 30, 0, time.UTC)

type fixture struct {
	ctx       context.Context
	server    *girdertest.Server
	catalog   *catalog.Memory
	store     *objectstore.Memory
	metrics   *metrics.Metrics
	publisher *Publisher
	states    []State
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	server := girdertest.NewServer(t)
	client, err := girder.NewClient(server.APIRoot(), "", server.Client())
	qt.Assert(t, err, qt.IsNil)
	reg := prometheus.NewRegistry()
	f := &fixture{
		ctx:     logging.NewLogger(&bytes.Buffer{}, &bytes.Buffer{}, false, false, false).WithContext(context.Background()),
		server:  server,
		catalog: catalog.NewMemory(),
		store:   objectstore.NewMemory("dandi"),
		metrics: metrics.New(reg, reg),
	}
	f.publisher = &Publisher{
		Girder:        client,
		Catalog:       f.catalog,
		Store:         f.store,
		Allocator:     version.Timestamp{Now: func() time.Time { return clock }},
		Metrics:       f.metrics,
		Prefix:        "dandisets",
		StagingPrefix: "staging",
		SpoolDir:      t.TempDir(),
		ChunkBytes:    4,
		OnState:       func(s State) { f.states = append(f.states, s) },
	}
	return f
}

func dandisetMeta(contributors ...interface{}) map[string]interface{} {
	block := map[string]interface{}{
		"name":        "Mouse V1 recordings",
		"description": "Extracellular recordings from mouse visual cortex.",
		"license":     "CC-BY-4.0",
	}
	if contributors != nil {
		block["contributors"] = contributors
	}
	return map[string]interface{}{"dandiset": block}
}

func author(name string, roles ...interface{}) map[string]interface{} {
	return map[string]interface{}{
		"name":         name,
		"email":        name + "@example.org",
		"roles":        roles,
		"affiliations": []interface{}{"Example Lab"},
	}
}

// One subject with one file lands in catalog and store with matching bytes.
func TestPublishOneFile(t *testing.T) {
	f := newFixture(t)
	content := []byte("known bytes of an nwb file")
	id := f.server.Add(girdertest.Dandiset{
		Name: "000001",
		Meta: dandisetMeta(author("Ada", "Author", "ContactPerson")),
		Subjects: []girdertest.Subject{{
			Name:  "sub-mouse1",
			Files: []girdertest.File{{Name: "sub-mouse1_ecephys.nwb", Content: content, Meta: map[string]interface{}{"species": "Mus musculus"}}},
		}},
	})

	out, err := f.publisher.Publish(f.ctx, id)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, out, qt.DeepEquals, Outcome{
		Dandiset: "000001",
		Version:  "0.230101.1200",
		Location: "s3://dandi/dandisets/000001/0.230101.1200",
		Assets:   1,
		Size:     int64(len(content)),
	})
	qt.Assert(t, f.states, qt.DeepEquals, []State{
		StateLoading, StateAllocating, StateWritingCatalog, StateTransferringAssets,
		StateWritingManifest, StateFinalizing, StateDone,
	})

	sum := sha256.Sum256(content)
	assets, err := f.catalog.ListAssets(f.ctx, "000001", out.Version)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, assets, qt.HasLen, 1)
	qt.Assert(t, assets[0].SHA256, qt.Equals, hex.EncodeToString(sum[:]))
	qt.Assert(t, assets[0].Path, qt.Equals, "sub-mouse1/sub-mouse1_ecephys.nwb")
	qt.Assert(t, assets[0].Metadata["species"], qt.Equals, "Mus musculus")

	key := "dandisets/000001/0.230101.1200/sub-mouse1/sub-mouse1_ecephys.nwb"
	obj, ok := f.store.Get(key)
	qt.Assert(t, ok, qt.IsTrue)
	qt.Assert(t, obj.Data, qt.DeepEquals, content)
	qt.Assert(t, obj.PublicRead, qt.IsTrue)

	manifest, ok := f.store.Get("dandisets/000001/0.230101.1200/dandiset.yaml")
	qt.Assert(t, ok, qt.IsTrue)
	qt.Assert(t, manifest.PublicRead, qt.IsTrue)
	var doc map[string]interface{}
	qt.Assert(t, yaml.Unmarshal(manifest.Data, &doc), qt.IsNil)
	qt.Assert(t, doc, qt.DeepEquals, map[string]interface{}{"license": "CC-BY-4.0"})

	// nothing is left in staging
	qt.Assert(t, f.store.Keys("staging/"), qt.HasLen, 0)

	versions, err := f.catalog.ListVersions(f.ctx, "000001")
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, versions, qt.HasLen, 1)
	qt.Assert(t, versions[0].Name, qt.Equals, "Mouse V1 recordings")
	qt.Assert(t, versions[0].Count, qt.Equals, int64(1))
	qt.Assert(t, versions[0].Contributors, qt.HasLen, 1)
	qt.Assert(t, versions[0].Contributors[0].Roles, qt.DeepEquals, []dpapi.Role{dpapi.RoleAuthor, dpapi.RoleContactPerson})

	qt.Assert(t, testutil.ToFloat64(f.metrics.PublishesTotal.WithLabelValues(metrics.ResultSuccess)), qt.Equals, 1.0)
}

// A dandiset folder without meta fails before anything is written.
func TestPublishMissingMeta(t *testing.T) {
	f := newFixture(t)
	id := f.server.Add(girdertest.Dandiset{Name: "000002"})

	_, err := f.publisher.Publish(f.ctx, id)
	qt.Assert(t, dpapi.Code(err), qt.Equals, dpapi.CodeSchemaViolation)
	qt.Assert(t, f.catalog.Counts()["dandisets"], qt.Equals, 0)
	qt.Assert(t, f.states[len(f.states)-1], qt.Equals, StateFailed)
	qt.Assert(t, testutil.ToFloat64(f.metrics.PublishesTotal.WithLabelValues(metrics.ResultFailure)), qt.Equals, 1.0)
}

// A clock that lands on an existing version moves on to the next minute.
func TestPublishVersionCollision(t *testing.T) {
	f := newFixture(t)
	id := f.server.Add(girdertest.Dandiset{Name: "000003", Meta: dandisetMeta()})

	first, err := f.publisher.Publish(f.ctx, id)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, first.Version, qt.Equals, dpapi.VersionID("0.230101.1200"))

	second, err := f.publisher.Publish(f.ctx, id)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, second.Version, qt.Equals, dpapi.VersionID("0.230101.1201"))

	versions, err := f.catalog.ListVersions(f.ctx, "000003")
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, versions, qt.HasLen, 2)
	qt.Assert(t, versions[0].Version, qt.Equals, dpapi.VersionID("0.230101.1201"))
}

func TestPublishClockBehindLatestVersion(t *testing.T) {
	f := newFixture(t)
	id := f.server.Add(girdertest.Dandiset{Name: "000006", Meta: dandisetMeta()})

	first, err := f.publisher.Publish(f.ctx, id)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, first.Version, qt.Equals, dpapi.VersionID("0.230101.1200"))

	f.publisher.Allocator = version.Timestamp{Now: func() time.Time { return clock.Add(-time.Hour) }}
	second, err := f.publisher.Publish(f.ctx, id)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, second.Version, qt.Equals, dpapi.VersionID("0.230101.1201"))
}

func TestPublishManifestKeepsIntegers(t *testing.T) {
	f := newFixture(t)
	meta := dandisetMeta()
	block := meta["dandiset"].(map[string]interface{})
	block["numberOfSubjects"] = 1000000
	block["assetsSummary"] = map[string]interface{}{"size": int64(123456789012), "ratio": 0.5}
	id := f.server.Add(girdertest.Dandiset{Name: "000007", Meta: meta})

	out, err := f.publisher.Publish(f.ctx, id)
	qt.Assert(t, err, qt.IsNil)
	manifest, ok := f.store.Get("dandisets/000007/" + string(out.Version) + "/dandiset.yaml")
	qt.Assert(t, ok, qt.IsTrue)
	body := string(manifest.Data)
	qt.Assert(t, strings.Contains(body, "numberOfSubjects: 1000000\n"), qt.IsTrue, qt.Commentf("%s", body))
	qt.Assert(t, strings.Contains(body, "size: 123456789012\n"), qt.IsTrue, qt.Commentf("%s", body))
	qt.Assert(t, strings.Contains(body, "ratio: 0.5\n"), qt.IsTrue, qt.Commentf("%s", body))
}

func TestPublishRefusesNamesOutsideVersion(t *testing.T) {
	f := newFixture(t)
	victim := f.server.Add(girdertest.Dandiset{Name: "000001", Meta: dandisetMeta()})
	published, err := f.publisher.Publish(f.ctx, victim)
	qt.Assert(t, err, qt.IsNil)
	manifestKey := "dandisets/000001/" + string(published.Version) + "/dandiset.yaml"
	before, ok := f.store.Get(manifestKey)
	qt.Assert(t, ok, qt.IsTrue)

	for _, d := range []girdertest.Dandiset{{
		Name: "000008",
		Meta: dandisetMeta(),
		Subjects: []girdertest.Subject{{
			Name:  "sub-1",
			Files: []girdertest.File{{Name: "../../../000001/" + string(published.Version) + "/dandiset.yaml", Content: []byte("name: overwritten\n")}},
		}},
	}, {
		Name: "000008",
		Meta: dandisetMeta(),
		Subjects: []girdertest.Subject{{
			Name:  "../000001",
			Files: []girdertest.File{{Name: "a.nwb", Content: []byte("a")}},
		}},
	}, {
		Name: "..",
		Meta: dandisetMeta(),
	}} {
		id := f.server.Add(d)
		_, err := f.publisher.Publish(f.ctx, id)
		qt.Assert(t, dpapi.Code(err), qt.Equals, dpapi.CodeSchemaViolation)
	}

	after, ok := f.store.Get(manifestKey)
	qt.Assert(t, ok, qt.IsTrue)
	qt.Assert(t, after.Data, qt.DeepEquals, before.Data)
	qt.Assert(t, f.store.Keys("dandisets/000008/"), qt.HasLen, 0)
	qt.Assert(t, f.store.Keys("staging/"), qt.HasLen, 0)
	qt.Assert(t, f.catalog.Counts()["dandisets"], qt.Equals, 1)
}

// An unknown role fails before any contributor row exists.
func TestPublishUnknownRole(t *testing.T) {
	f := newFixture(t)
	id := f.server.Add(girdertest.Dandiset{
		Name: "000004",
		Meta: dandisetMeta(author("Ada", "Author"), author("Bob", "NotARole")),
	})

	_, err := f.publisher.Publish(f.ctx, id)
	qt.Assert(t, dpapi.Code(err), qt.Equals, dpapi.CodeSchemaViolation)
	qt.Assert(t, f.catalog.Counts(), qt.DeepEquals, map[string]int{
		"dandisets": 0, "versions": 0, "contributors": 0, "subjects": 0, "assets": 0,
	})
}

func TestPublishCardinalityRollsBack(t *testing.T) {
	f := newFixture(t)
	id := f.server.Add(girdertest.Dandiset{
		Name: "000005",
		Meta: dandisetMeta(author("Ada", "Author")),
		Subjects: []girdertest.Subject{{
			Name: "sub-1",
			Files: []girdertest.File{
				{Name: "ok.nwb", Content: []byte("ok")},
				{Name: "double.nwb", Content: []byte("x"), Files: []string{"a.nwb", "b.nwb"}},
			},
		}},
	})

	_, err := f.publisher.Publish(f.ctx, id)
	qt.Assert(t, dpapi.Code(err), qt.Equals, dpapi.CodeCardinality)
	qt.Assert(t, f.catalog.Counts()["dandisets"], qt.Equals, 0)
	qt.Assert(t, f.store.Keys(""), qt.HasLen, 0)
}

func TestPublishLateFailureLeavesNothing(t *testing.T) {
	f := newFixture(t)
	id := f.server.Add(girdertest.Dandiset{
		Name: "000006",
		Meta: dandisetMeta(author("Ada", "Author")),
		Subjects: []girdertest.Subject{
			{Name: "sub-1", Files: []girdertest.File{{Name: "a.nwb", Content: []byte("good")}}},
			{Name: "sub-2", Files: []girdertest.File{{Name: "b.nwb", Content: []byte("bad")}}},
		},
	})
	f.publisher.Gate = validate.Gate{
		Policy: validate.PolicyEnforce,
		Validator: validate.Func(func(ctx context.Context, path string) (validate.Result, error) {
			data, err := os.ReadFile(path)
			return validate.Result{Passed: string(data) == "good", Output: "corrupt"}, err
		}),
	}

	_, err := f.publisher.Publish(f.ctx, id)
	qt.Assert(t, dpapi.Code(err), qt.Equals, dpapi.CodeValidationFailed)
	qt.Assert(t, f.catalog.Counts()["assets"], qt.Equals, 0)
	qt.Assert(t, f.catalog.Counts()["contributors"], qt.Equals, 0)
	// the first file was staged, then removed by the abort
	qt.Assert(t, f.store.Keys(""), qt.HasLen, 0)
}

func TestPublishFinalizeFailureLeavesNothing(t *testing.T) {
	f := newFixture(t)
	id := f.server.Add(girdertest.Dandiset{
		Name: "000007",
		Meta: dandisetMeta(),
		Subjects: []girdertest.Subject{
			{Name: "sub-1", Files: []girdertest.File{{Name: "a.nwb", Content: []byte("a")}, {Name: "b.nwb", Content: []byte("b")}}},
		},
	})
	copies := 0
	f.store.FailOn = func(op, key string) error {
		if op == "copy" {
			copies++
			if copies == 2 {
				return errors.New("throttled")
			}
		}
		return nil
	}

	_, err := f.publisher.Publish(f.ctx, id)
	qt.Assert(t, dpapi.Code(err), qt.Equals, dpapi.CodeStore)
	qt.Assert(t, f.catalog.Counts()["versions"], qt.Equals, 0)
	qt.Assert(t, f.store.Keys(""), qt.HasLen, 0)
}

func TestPublishProbeStrategy(t *testing.T) {
	f := newFixture(t)
	f.publisher.Allocator = version.Probe{}
	id := f.server.Add(girdertest.Dandiset{Name: "000008", Meta: dandisetMeta()})

	for _, want := range []dpapi.VersionID{"1", "2"} {
		out, err := f.publisher.Publish(f.ctx, id)
		qt.Assert(t, err, qt.IsNil)
		qt.Assert(t, out.Version, qt.Equals, want)
		_, ok := f.store.Get(objectstore.ManifestKey("dandisets", "000008", want))
		qt.Assert(t, ok, qt.IsTrue)
	}
}

func TestPublishSharesContributors(t *testing.T) {
	f := newFixture(t)
	ada := author("Ada", "Author")
	one := f.server.Add(girdertest.Dandiset{Name: "000010", Meta: dandisetMeta(ada)})
	two := f.server.Add(girdertest.Dandiset{Name: "000011", Meta: dandisetMeta(ada, author("Bob", "Funder"))})

	_, err := f.publisher.Publish(f.ctx, one)
	qt.Assert(t, err, qt.IsNil)
	_, err = f.publisher.Publish(f.ctx, two)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, f.catalog.Counts()["contributors"], qt.Equals, 2)
}

func TestManifestEmpty(t *testing.T) {
	body, err := Manifest(dpapi.VersionMetadata{})
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, string(body), qt.Equals, "{}\n")
}
