package catalogcli

import (
	"context"
	"fmt"
	"strings"

	"github.com/MakeNowJust/heredoc"
	"github.com/charmbracelet/glamour"
	"github.com/urfave/cli/v2"

	appbase "github.com/dandiarchive/dandipub/app/base"
	"github.com/dandiarchive/dandipub/app/base/util"
	"github.com/dandiarchive/dandipub/dpapi"
	"github.com/dandiarchive/dandipub/pkg/catalog"
	"github.com/dandiarchive/dandipub/pkg/logging"
)

func init() {
	appbase.App.Commands = append(appbase.App.Commands, catalogCmdDef)
}

const (
	formatJSON     = "json"
	formatMarkdown = "markdown"
)

var formatFlag = &cli.StringFlag{
	Name:  "format",
	Usage: "Output format: json or markdown",
	Value: formatJSON,
}

var catalogCmdDef = &cli.Command{
	Name:  "catalog",
	Usage: "Subcommands that read or maintain the catalog of published versions",
	Subcommands: []*cli.Command{
		{
			Name:   "dandisets",
			Usage:  "List every dandiset with at least one published version",
			Action: util.Standard(cmdDandisets),
		},
		{
			Name:      "versions",
			Usage:     "List the published versions of a dandiset, newest first",
			ArgsUsage: "<identifier>",
			Flags:     []cli.Flag{formatFlag},
			Action:    util.Standard(cmdVersions),
		},
		{
			Name:      "assets",
			Usage:     "List the assets of one published version",
			ArgsUsage: "<identifier> <version>",
			Action:    util.Standard(cmdAssets),
		},
		{
			Name:      "delete",
			Usage:     "Remove a dandiset and all of its versions from the catalog",
			ArgsUsage: "<identifier>",
			Description: heredoc.Doc(`
				Deletes the dandiset's versions, subjects and assets.
				Contributors are kept, since other dandisets may list them.
				Objects in the store are not touched.
			`),
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "yes",
					Usage: "Confirm the deletion",
				},
			},
			Action: util.Standard(cmdDelete),
		},
		{
			Name:   "migrate",
			Usage:  "Create the catalog tables in the configured database",
			Action: util.Standard(cmdMigrate),
		},
	},
}

func withCatalog(c *cli.Context, fn func(ctx context.Context, cat catalog.Catalog) error) error {
	ctx := c.Context
	cat, err := util.OpenCatalog(ctx, util.ConfigFromCtx(ctx))
	if err != nil {
		return err
	}
	defer cat.Close()
	return fn(ctx, cat)
}

func cmdDandisets(c *cli.Context) error {
	return withCatalog(c, func(ctx context.Context, cat catalog.Catalog) error {
		list, err := cat.ListDandisets(ctx)
		if err != nil {
			return err
		}
		return util.WriteJSON(c.App.Writer, list)
	})
}

func cmdVersions(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return dpapi.ErrorUsage("catalog versions", "exactly one dandiset identifier is required")
	}
	format := c.String("format")
	if format != formatJSON && format != formatMarkdown {
		return dpapi.ErrorUsage("catalog versions", "--format must be json or markdown")
	}
	return withCatalog(c, func(ctx context.Context, cat catalog.Catalog) error {
		versions, err := cat.ListVersions(ctx, c.Args().First())
		if err != nil {
			return err
		}
		if format == formatJSON {
			return util.WriteJSON(c.App.Writer, versions)
		}
		out, err := renderVersions(c.Args().First(), versions)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(c.App.Writer, out)
		return err
	})
}

// renderVersions formats versions as a markdown table and renders it for a plain terminal.
//
// Errors:
//
//   - dandi-error-internal -- when the markdown renderer fails
func renderVersions(identifier string, versions []dpapi.VersionSummary) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Dandiset %s\n\n", identifier)
	sb.WriteString("| Version | Name | Assets | Size | Contributors |\n")
	sb.WriteString("| ------- | ---- | ------ | ---- | ------------ |\n")
	for _, v := range versions {
		names := make([]string, len(v.Contributors))
		for i, contrib := range v.Contributors {
			names[i] = contrib.Name
		}
		fmt.Fprintf(&sb, "| %s | %s | %d | %d | %s |\n",
			v.Version, escapeCell(v.Name), v.Count, v.Size, escapeCell(strings.Join(names, ", ")))
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("notty"),
		glamour.WithWordWrap(120),
	)
	if err != nil {
		return "", dpapi.ErrorInternal("building markdown renderer", err)
	}
	out, err := r.Render(sb.String())
	if err != nil {
		return "", dpapi.ErrorInternal("rendering markdown", err)
	}
	return out, nil
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func cmdAssets(c *cli.Context) error {
	if c.Args().Len() != 2 {
		return dpapi.ErrorUsage("catalog assets", "a dandiset identifier and a version are required")
	}
	v, err := dpapi.ParseVersionID(c.Args().Get(1))
	if err != nil {
		return err
	}
	return withCatalog(c, func(ctx context.Context, cat catalog.Catalog) error {
		assets, err := cat.ListAssets(ctx, c.Args().First(), v)
		if err != nil {
			return err
		}
		return util.WriteJSON(c.App.Writer, assets)
	})
}

func cmdDelete(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return dpapi.ErrorUsage("catalog delete", "exactly one dandiset identifier is required")
	}
	if !c.Bool("yes") {
		return dpapi.ErrorUsage("catalog delete", "refusing to delete without --yes")
	}
	identifier := c.Args().First()
	return withCatalog(c, func(ctx context.Context, cat catalog.Catalog) error {
		if err := cat.DeleteDandiset(ctx, identifier); err != nil {
			return err
		}
		logging.Ctx(ctx).Info(catalog.LOG_TAG, "deleted dandiset %s", identifier)
		return nil
	})
}

func cmdMigrate(c *cli.Context) error {
	ctx := c.Context
	cfg := util.ConfigFromCtx(ctx)
	if cfg.Catalog.DatabaseURL == "" {
		return dpapi.ErrorConfig("catalog.database_url", "migrate needs a database")
	}
	pg, err := catalog.OpenPostgres(ctx, cfg.Catalog.DatabaseURL)
	if err != nil {
		return err
	}
	defer pg.Close()
	if err := pg.Migrate(ctx); err != nil {
		return err
	}
	logging.Ctx(ctx).Info(catalog.LOG_TAG, "catalog schema is up to date")
	return nil
}
