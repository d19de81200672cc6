package dpapp_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	qt "github.com/frankban/quicktest"
	"github.com/google/uuid"
	"github.com/warpfork/go-testmark"

	dpapp "github.com/dandiarchive/dandipub/app"
	"github.com/dandiarchive/dandipub/app/base/util"
	"github.com/dandiarchive/dandipub/dpapi"
	"github.com/dandiarchive/dandipub/pkg/catalog"
	"github.com/dandiarchive/dandipub/pkg/objectstore"
	"github.com/dandiarchive/dandipub/pkg/publish"
	"github.com/dandiarchive/dandipub/pkg/queue"
	"github.com/dandiarchive/dandipub/pkg/testutil/girdertest"
)

func init() {
	color.NoColor = true
}

type env struct {
	server  *girdertest.Server
	store   *objectstore.Memory
	catalog *catalog.Memory
	queue   *queue.Memory
}

// newEnv points every backend the commands open at in-memory instances
// shared across invocations, and girder at a fake server.
func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		server:  girdertest.NewServer(t),
		store:   objectstore.NewMemory("dandi"),
		catalog: catalog.NewMemory(),
		queue:   queue.NewMemory(),
	}
	util.Overrides.Store = e.store
	util.Overrides.Catalog = e.catalog
	util.Overrides.Queue = e.queue
	util.Overrides.HTTP = e.server.Client()
	t.Cleanup(func() {
		util.Overrides.Store = nil
		util.Overrides.Catalog = nil
		util.Overrides.Queue = nil
		util.Overrides.HTTP = nil
	})
	return e
}

// run invokes the app with global flags that keep it off the network.
func (e *env) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	full := []string{"dandipub",
		"--girder.url=" + e.server.APIRoot(),
		"--store.kind=memory",
		"--validator.policy=off",
		"--version.strategy=probe",
		"--quiet",
	}
	return runApp(append(full, args...))
}

func runApp(args []string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	dpapp.App.Reader = strings.NewReader("")
	dpapp.App.Writer = &stdout
	dpapp.App.ErrWriter = &stderr
	err := dpapp.App.RunContext(context.Background(), args)
	return stdout.String(), stderr.String(), err
}

func (e *env) addDandiset(identifier string) string {
	return e.server.Add(girdertest.Dandiset{
		Name: identifier,
		Meta: map[string]interface{}{"dandiset": map[string]interface{}{
			"name":        "Mouse V1 recordings",
			"description": "Extracellular recordings from mouse visual cortex.",
			"contributors": []interface{}{map[string]interface{}{
				"name":  "Ada",
				"roles": []interface{}{"Author"},
			}},
		}},
		Subjects: []girdertest.Subject{{
			Name:  "sub-mouse1",
			Files: []girdertest.File{{Name: "sub-mouse1_ecephys.nwb", Content: []byte("nwb bytes")}},
		}},
	})
}

func TestUsageErrors(t *testing.T) {
	newEnv(t)
	doc, err := testmark.ReadFile("testdata/cli.md")
	if err != nil {
		t.Fatalf("fixture file parse failed: %s", err)
	}
	doc.BuildDirIndex()
	for _, dir := range doc.DirEnt.ChildrenList {
		dir := dir
		t.Run(dir.Name, func(t *testing.T) {
			args := strings.Fields(string(dir.Children["args"].Hunk.Body))
			_, stderr, err := runApp(append([]string{"dandipub"}, args...))
			qt.Assert(t, err, qt.Not(qt.IsNil))
			qt.Assert(t, stderr, qt.Equals, string(dir.Children["stderr"].Hunk.Body))
		})
	}
}

func TestPublishCommand(t *testing.T) {
	e := newEnv(t)
	id := e.addDandiset("000001")

	stdout, _, err := e.run(t, "publish", id)
	qt.Assert(t, err, qt.IsNil)
	var out publish.Outcome
	qt.Assert(t, json.Unmarshal([]byte(stdout), &out), qt.IsNil)
	qt.Assert(t, out, qt.DeepEquals, publish.Outcome{
		Dandiset: "000001",
		Version:  "1",
		Location: "s3://dandi/dandisets/000001/1",
		Assets:   1,
		Size:     int64(len("nwb bytes")),
	})
	_, ok := e.store.Get("dandisets/000001/1/sub-mouse1/sub-mouse1_ecephys.nwb")
	qt.Assert(t, ok, qt.IsTrue)

	stdout, _, err = e.run(t, "publish", id)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, strings.Contains(stdout, `"version":"2"`), qt.IsTrue)

	stdout, _, err = e.run(t, "catalog", "versions", "000001")
	qt.Assert(t, err, qt.IsNil)
	var versions []dpapi.VersionSummary
	qt.Assert(t, json.Unmarshal([]byte(stdout), &versions), qt.IsNil)
	qt.Assert(t, versions, qt.HasLen, 2)
	qt.Assert(t, versions[0].Version, qt.Equals, dpapi.VersionID("2"))
	qt.Assert(t, versions[0].Count, qt.Equals, int64(1))

	stdout, _, err = e.run(t, "catalog", "versions", "--format", "markdown", "000001")
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, strings.Contains(stdout, "Mouse V1 recordings"), qt.IsTrue)
	qt.Assert(t, strings.Contains(stdout, "Ada"), qt.IsTrue)

	stdout, _, err = e.run(t, "catalog", "assets", "000001", "1")
	qt.Assert(t, err, qt.IsNil)
	var assets []dpapi.Asset
	qt.Assert(t, json.Unmarshal([]byte(stdout), &assets), qt.IsNil)
	qt.Assert(t, assets, qt.HasLen, 1)
	qt.Assert(t, assets[0].Path, qt.Equals, "sub-mouse1/sub-mouse1_ecephys.nwb")
}

func TestPublishCommandTraced(t *testing.T) {
	e := newEnv(t)
	id := e.addDandiset("000005")
	traceFile := filepath.Join(t.TempDir(), "trace.json")

	_, _, err := e.run(t, "--trace.file="+traceFile, "publish", id)
	qt.Assert(t, err, qt.IsNil)
	spans, err := os.ReadFile(traceFile)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, strings.Contains(string(spans), `"Name": "publish"`), qt.IsTrue)
}

func TestPublishCommandFailure(t *testing.T) {
	e := newEnv(t)
	id := e.server.Add(girdertest.Dandiset{Name: "000002"})

	stdout, stderr, err := e.run(t, "--json", "publish", id)
	qt.Assert(t, err, qt.Not(qt.IsNil))
	qt.Assert(t, stdout, qt.Equals, "")
	var reported struct{ Code string }
	qt.Assert(t, json.Unmarshal([]byte(strings.TrimSpace(lastLine(stderr))), &reported), qt.IsNil)
	qt.Assert(t, reported.Code, qt.Equals, dpapi.CodeSchemaViolation)
	qt.Assert(t, e.store.Keys(""), qt.HasLen, 0)
}

func TestDeleteCommand(t *testing.T) {
	e := newEnv(t)
	id := e.addDandiset("000003")
	_, _, err := e.run(t, "publish", id)
	qt.Assert(t, err, qt.IsNil)

	_, _, err = e.run(t, "catalog", "delete", "--yes", "000003")
	qt.Assert(t, err, qt.IsNil)
	stdout, _, err := e.run(t, "catalog", "dandisets")
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, strings.TrimSpace(stdout), qt.Equals, "[]")
	qt.Assert(t, e.catalog.Counts()["contributors"], qt.Equals, 1)
}

func TestEnqueueAndStatus(t *testing.T) {
	e := newEnv(t)
	stdout, _, err := e.run(t, "enqueue", "--token", "secret", "folder-1")
	qt.Assert(t, err, qt.IsNil)
	var enqueued struct {
		TaskID uuid.UUID `json:"task_id"`
	}
	qt.Assert(t, json.Unmarshal([]byte(stdout), &enqueued), qt.IsNil)

	pending, processing := e.queue.Len()
	qt.Assert(t, pending, qt.Equals, 1)
	qt.Assert(t, processing, qt.Equals, 0)

	stdout, _, err = e.run(t, "status", enqueued.TaskID.String())
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, strings.Contains(stdout, `"state":"pending"`), qt.IsTrue)

	r, ok, err := e.queue.Reserve(context.Background(), 0)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, ok, qt.IsTrue)
	qt.Assert(t, r.Task.Token, qt.Equals, "secret")
	qt.Assert(t, r.Task.GirderID, qt.Equals, "folder-1")
}

func TestHealthcheckCommand(t *testing.T) {
	e := newEnv(t)
	stdout, _, err := e.run(t, "--catalog.database-url=", "--queue.redis-url=", "healthcheck")
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, strings.Contains(stdout, "Object store"), qt.IsTrue)
	qt.Assert(t, strings.Contains(stdout, "no database configured"), qt.IsTrue)
	qt.Assert(t, strings.Contains(stdout, "no redis configured"), qt.IsTrue)

	e.store.FailOn = func(op, key string) error {
		if op == "head bucket" {
			return errors.New("no such bucket")
		}
		return nil
	}
	_, _, err = e.run(t, "--catalog.database-url=", "--queue.redis-url=", "healthcheck")
	qt.Assert(t, err, qt.Not(qt.IsNil))
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return lines[len(lines)-1]
}
