package healthcheckcli

import (
	"context"

	"github.com/MakeNowJust/heredoc"
	"github.com/serum-errors/go-serum"
	"github.com/urfave/cli/v2"

	appbase "github.com/dandiarchive/dandipub/app/base"
	"github.com/dandiarchive/dandipub/app/base/util"
	"github.com/dandiarchive/dandipub/pkg/config"
	"github.com/dandiarchive/dandipub/pkg/healthcheck"
	"github.com/dandiarchive/dandipub/pkg/logging"
	"github.com/dandiarchive/dandipub/pkg/objectstore"
	"github.com/dandiarchive/dandipub/pkg/validate"
)

func init() {
	appbase.App.Commands = append(appbase.App.Commands, healthcheckCmdDef)
}

var healthcheckCmdDef = &cli.Command{
	Name:  "healthcheck",
	Usage: "Check that the validator and every configured backend are usable",
	Description: heredoc.Doc(`
		Runs one check per dependency and prints a line for each.
		Exits with an error if any check failed.
	`),
	Action: util.Standard(cmdHealth),
}

func cmdHealth(c *cli.Context) error {
	ctx := c.Context
	log := logging.Ctx(ctx)
	cfg := util.ConfigFromCtx(ctx)

	policy, err := validate.ParsePolicy(cfg.Validator.Policy)
	if err != nil {
		return err
	}
	store, err := util.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}

	hc := &healthcheck.HealthCheck{
		Runners: []healthcheck.Runner{
			&healthcheck.KernelInfo{},
			&healthcheck.ValidatorCheck{Path: cfg.Validator.Path, Policy: policy},
			storeCheck(store, cfg),
			catalogCheck(cfg),
			queueCheck(cfg),
		},
	}
	if err := hc.Run(ctx); err != nil {
		log.Info("", "health check critical error: %s", err)
		return err
	}
	log.Debug("", "runners=%d, results=%d", len(hc.Runners), len(hc.Results))

	if err := hc.Fprint(c.App.Writer); err != nil {
		return err
	}
	if hc.Failed() {
		return serum.Errorf(healthcheck.CodeRunFailure, "one or more checks failed")
	}
	return nil
}

func storeCheck(store objectstore.Store, cfg config.Config) healthcheck.Runner {
	return &healthcheck.PingCheck{
		Name:   "Object store",
		Target: store.URI(cfg.Store.Prefix),
		Ping:   store.Ping,
	}
}

func catalogCheck(cfg config.Config) healthcheck.Runner {
	if cfg.Catalog.DatabaseURL == "" {
		return &healthcheck.SkipCheck{Name: "Catalog", Reason: "no database configured, catalog is in memory"}
	}
	return &healthcheck.PingCheck{
		Name: "Catalog",
		Ping: func(ctx context.Context) error {
			cat, err := util.OpenCatalog(ctx, cfg)
			if err != nil {
				return err
			}
			defer cat.Close()
			return cat.Ping(ctx)
		},
	}
}

func queueCheck(cfg config.Config) healthcheck.Runner {
	if cfg.Queue.RedisURL == "" {
		return &healthcheck.SkipCheck{Name: "Queue", Reason: "no redis configured"}
	}
	return &healthcheck.PingCheck{
		Name:   "Queue",
		Target: cfg.Queue.Name,
		Ping: func(ctx context.Context) error {
			q, err := util.OpenQueue(ctx, cfg)
			if err != nil {
				return err
			}
			defer q.Close()
			return q.Ping(ctx)
		},
	}
}
