package publishcli

import (
	"github.com/MakeNowJust/heredoc"
	"github.com/urfave/cli/v2"

	appbase "github.com/dandiarchive/dandipub/app/base"
	"github.com/dandiarchive/dandipub/app/base/util"
	"github.com/dandiarchive/dandipub/dpapi"
	"github.com/dandiarchive/dandipub/pkg/logging"
	"github.com/dandiarchive/dandipub/pkg/publish"
)

func init() {
	appbase.App.Commands = append(appbase.App.Commands, publishCmdDef)
}

var publishCmdDef = &cli.Command{
	Name:      "publish",
	Usage:     "Publish one draft now, without going through the queue",
	ArgsUsage: "<girder-folder-id>",
	Description: heredoc.Doc(`
		Loads the draft rooted at the given girder folder, copies every file
		into the object store, and records the new version in the catalog.

		On success a JSON object describing the version is printed,
		including its location in the object store.
		On failure nothing is left behind in the store or the catalog.
	`),
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "token",
			Usage:   "Girder token of the user publishing; overrides the configured token",
			EnvVars: []string{"DANDI_PUBLISH_TOKEN"},
		},
	},
	Action: util.Standard(cmdPublish),
}

func cmdPublish(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return dpapi.ErrorUsage("publish", "exactly one girder folder id is required")
	}
	ctx := c.Context
	log := logging.Ctx(ctx)
	cfg := util.ConfigFromCtx(ctx)

	store, err := util.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	cat, err := util.OpenCatalog(ctx, cfg)
	if err != nil {
		return err
	}
	defer cat.Close()

	p, err := util.NewPublisher(cfg, cat, store)
	if err != nil {
		return err
	}
	p = p.WithToken(c.String("token"))
	p.OnState = func(s publish.State) {
		log.Debug(publish.LOG_TAG, "state: %s", s)
	}

	out, err := p.Publish(ctx, c.Args().First())
	if err != nil {
		return err
	}
	return util.WriteJSON(c.App.Writer, out)
}
