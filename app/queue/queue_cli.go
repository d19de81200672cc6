package queuecli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	appbase "github.com/dandiarchive/dandipub/app/base"
	"github.com/dandiarchive/dandipub/app/base/util"
	"github.com/dandiarchive/dandipub/dpapi"
	"github.com/dandiarchive/dandipub/pkg/logging"
	"github.com/dandiarchive/dandipub/pkg/metrics"
	"github.com/dandiarchive/dandipub/pkg/publish"
	"github.com/dandiarchive/dandipub/pkg/queue"
)

func init() {
	appbase.App.Commands = append(appbase.App.Commands,
		enqueueCmdDef,
		statusCmdDef,
		workerCmdDef,
	)
}

var enqueueCmdDef = &cli.Command{
	Name:      "enqueue",
	Usage:     "Ask a worker to publish a draft",
	ArgsUsage: "<girder-folder-id>",
	Description: heredoc.Doc(`
		Puts a publish task on the queue and prints its id.
		Use "dandipub status <task-id>" to follow it.
	`),
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "token",
			Usage:   "Girder token the worker will publish with",
			EnvVars: []string{"DANDI_PUBLISH_TOKEN"},
		},
	},
	Action: util.Standard(cmdEnqueue),
}

var statusCmdDef = &cli.Command{
	Name:      "status",
	Usage:     "Show the outcome of an enqueued publish",
	ArgsUsage: "<task-id>",
	Description: heredoc.Doc(`
		Prints the recorded outcome of a task as JSON.
		A task that has not finished yet is reported as pending.
	`),
	Action: util.Standard(cmdStatus),
}

var workerCmdDef = &cli.Command{
	Name:  "worker",
	Usage: "Run publish tasks from the queue until interrupted",
	Description: heredoc.Doc(`
		Reserves tasks from the queue and publishes them.
		A task is acknowledged once its publish has finished, successfully or not.
		Tasks left unacknowledged by a previous worker are requeued at start.

		When metrics.addr is configured, prometheus metrics are served on /metrics.
	`),
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "concurrency",
			Usage: "Number of publishes run at once; overrides queue.concurrency",
		},
		&cli.DurationFlag{
			Name:  "poll",
			Usage: "Longest single wait for a task",
			Value: 5 * time.Second,
		},
	},
	Action: util.Standard(cmdWorker),
}

func cmdEnqueue(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return dpapi.ErrorUsage("enqueue", "exactly one girder folder id is required")
	}
	ctx := c.Context
	cfg := util.ConfigFromCtx(ctx)
	q, err := util.OpenQueue(ctx, cfg)
	if err != nil {
		return err
	}
	defer q.Close()

	task := queue.NewTask(c.Args().First(), c.String("token"))
	if err := q.Enqueue(ctx, task); err != nil {
		return err
	}
	logging.Ctx(ctx).Info(queue.LOG_TAG, "enqueued task %s", task.ID)
	return util.WriteJSON(c.App.Writer, struct {
		TaskID uuid.UUID `json:"task_id"`
	}{task.ID})
}

func cmdStatus(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return dpapi.ErrorUsage("status", "exactly one task id is required")
	}
	id, err := uuid.Parse(c.Args().First())
	if err != nil {
		return dpapi.ErrorUsage("status", "not a task id: "+c.Args().First())
	}
	ctx := c.Context
	q, err := util.OpenQueue(ctx, util.ConfigFromCtx(ctx))
	if err != nil {
		return err
	}
	defer q.Close()

	status, ok, err := q.Status(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		status = queue.Status{TaskID: id, State: "pending"}
	}
	return util.WriteJSON(c.App.Writer, status)
}

func cmdWorker(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	log := logging.Ctx(ctx)
	cfg := util.ConfigFromCtx(ctx)
	if c.IsSet("concurrency") {
		cfg.Queue.Concurrency = c.Int("concurrency")
	}

	q, err := util.OpenQueue(ctx, cfg)
	if err != nil {
		return err
	}
	defer q.Close()
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

	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(ctx, cfg.Metrics.Addr, p.Metrics)
		defer srv.Shutdown(context.WithoutCancel(ctx))
	}

	w := &queue.Worker{
		Queue:       q,
		Handler:     handler(p),
		Concurrency: cfg.Queue.Concurrency,
		Poll:        c.Duration("poll"),
	}
	err = w.Run(ctx)
	log.Info(queue.LOG_TAG, "worker stopped")
	return err
}

// handler publishes a task with the token it was enqueued with.
func handler(p *publish.Publisher) queue.Handler {
	return func(ctx context.Context, task queue.Task) (queue.Status, error) {
		out, err := p.WithToken(task.Token).Publish(ctx, task.GirderID)
		if err != nil {
			return queue.Status{}, err
		}
		return queue.Status{Location: out.Location, Version: out.Version}, nil
	}
}

func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logging.Ctx(ctx).Info(queue.LOG_TAG, "serving metrics on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Ctx(ctx).Warn(queue.LOG_TAG, "metrics server: %s", err)
		}
	}()
	return srv
}
