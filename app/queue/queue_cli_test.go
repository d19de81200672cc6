package queuecli

import (
	"bytes"
	"context"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/dandiarchive/dandipub/app/base/util"
	"github.com/dandiarchive/dandipub/dpapi"
	"github.com/dandiarchive/dandipub/pkg/catalog"
	"github.com/dandiarchive/dandipub/pkg/config"
	"github.com/dandiarchive/dandipub/pkg/logging"
	"github.com/dandiarchive/dandipub/pkg/objectstore"
	"github.com/dandiarchive/dandipub/pkg/queue"
	"github.com/dandiarchive/dandipub/pkg/testutil/girdertest"
)

func TestHandler(t *testing.T) {
	ctx := logging.NewLogger(&bytes.Buffer{}, &bytes.Buffer{}, false, true, false).WithContext(context.Background())
	server := girdertest.NewServer(t)
	server.Token = "secret"
	id := server.Add(girdertest.Dandiset{
		Name: "000004",
		Meta: map[string]interface{}{"dandiset": map[string]interface{}{
			"name":        "Queued",
			"description": "A draft published through the queue.",
		}},
		Subjects: []girdertest.Subject{{
			Name:  "sub-1",
			Files: []girdertest.File{{Name: "a.nwb", Content: []byte("a")}},
		}},
	})

	util.Overrides.HTTP = server.Client()
	t.Cleanup(func() { util.Overrides.HTTP = nil })
	cfg := config.Default()
	cfg.Girder.APIURL = server.APIRoot()
	cfg.Validator.Policy = config.PolicyOff
	cfg.Version.Strategy = config.StrategyProbe
	cfg.Transfer.SpoolDir = t.TempDir()
	p, err := util.NewPublisher(cfg, catalog.NewMemory(), objectstore.NewMemory("dandi"))
	qt.Assert(t, err, qt.IsNil)
	h := handler(p)

	status, err := h(ctx, queue.NewTask(id, "secret"))
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, status.Version, qt.Equals, dpapi.VersionID("1"))
	qt.Assert(t, status.Location, qt.Equals, "s3://dandi/dandisets/000004/1")

	// Without the task's token girder refuses the draft.
	_, err = h(ctx, queue.NewTask(id, ""))
	qt.Assert(t, dpapi.Code(err), qt.Equals, dpapi.CodeSourceUnavailable)
}
