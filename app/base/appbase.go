package appbase

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/dandiarchive/dandipub/dpapi"
)

const VERSION = "v0.1.0"

var App = &cli.App{
	Name:    "dandipub",
	Version: VERSION,
	Usage:   "publish dandiset drafts from girder as immutable versions",

	Reader:    closedReader{}, // Replace with os.Stdin in real application; or other wiring, in tests.
	Writer:    panicWriter{},  // Replace with os.Stdout in real application; or other wiring, in tests.
	ErrWriter: panicWriter{},  // Replace with os.Stderr in real application; or other wiring, in tests.

	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			EnvVars: []string{"DANDI_DEBUG"},
		},
		&cli.BoolFlag{
			Name: "quiet",
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Emit logs and errors as JSON",
		},
		&cli.StringFlag{
			Name:      "config",
			Aliases:   []string{"c"},
			Usage:     "YAML configuration file, applied before the environment",
			EnvVars:   []string{"DANDI_CONFIG"},
			TakesFile: true,
		},
		&cli.StringFlag{
			Name:  "girder.url",
			Usage: "Girder API root, ending in a slash",
		},
		&cli.StringFlag{
			Name:  "store.kind",
			Usage: "Object store: s3 or memory",
		},
		&cli.StringFlag{
			Name:  "store.bucket",
			Usage: "Bucket receiving published versions",
		},
		&cli.StringFlag{
			Name:  "catalog.database-url",
			Usage: "Postgres URL of the catalog; empty keeps the catalog in memory",
		},
		&cli.StringFlag{
			Name:  "queue.redis-url",
			Usage: "Redis URL of the publish queue",
		},
		&cli.StringFlag{
			Name:  "validator.policy",
			Usage: "What a failed validation does: enforce, advisory or off",
		},
		&cli.StringFlag{
			Name:  "version.strategy",
			Usage: "How versions are allocated: timestamp or probe",
		},
		&cli.StringFlag{
			Name:      "trace.file",
			Usage:     "Enable tracing and emit output to file",
			TakesFile: true,
		},
		&cli.BoolFlag{
			Name:  "trace.http.enable",
			Usage: "Enable remote tracing over http",
		},
		&cli.BoolFlag{
			Name:  "trace.http.insecure",
			Usage: "Allows insecure http",
		},
		&cli.StringFlag{
			Name:  "trace.http.endpoint",
			Usage: "Sets an endpoint for remote open-telemetry tracing collection",
		},
	},

	// The commands slice is updated by each package that contains commands.
	// Import the parent of this package to get that all done for you!
	Commands: []*cli.Command{},

	ExitErrHandler: func(c *cli.Context, err error) {
		if err == nil {
			return
		}
		if c.Bool("json") {
			bytes, merr := json.Marshal(struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			}{dpapi.Code(err), err.Error()})
			if merr != nil {
				panic("error marshaling json")
			}
			fmt.Fprintf(c.App.ErrWriter, "%s\n", string(bytes))
		} else {
			fmt.Fprintf(c.App.ErrWriter, "error: %s\n", err)
		}
	},
}

func init() {
	cli.VersionFlag = &cli.BoolFlag{
		Name:               "version", // "-v" is for "verbose"
		Usage:              "print the version",
		DisableDefaultText: true,
	}
}

type closedReader struct{}

// Read is a dummy method that always returns EOF.
func (c closedReader) Read(p []byte) (int, error) {
	return 0, io.EOF
}

type panicWriter struct{}

// Write is a dummy method that always panics.  You're supposed to replace panicWriter values before use.
func (p panicWriter) Write(data []byte) (int, error) {
	panic("replace the Writer and ErrWriter on the App value in packages that use it!")
}
