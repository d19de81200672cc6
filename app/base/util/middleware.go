package util

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/dandiarchive/dandipub/pkg/config"
	"github.com/dandiarchive/dandipub/pkg/logging"
	"github.com/dandiarchive/dandipub/pkg/tracing"
)

// ChainCmdMiddleware returns a cli ActionFunc that is wrapped by the given middleware.
// Middleware is executed in order. E.G. `middleware[0](middleware[1](cmd))`
func ChainCmdMiddleware(cmd cli.ActionFunc, middlewares ...func(cli.ActionFunc) cli.ActionFunc) cli.ActionFunc {
	wrapped := cmd
	// loop in reverse to preserve middleware order
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

// Standard is the middleware stack shared by every command:
// logging, then configuration, then tracing setup, then a span named after the command.
func Standard(cmd cli.ActionFunc) cli.ActionFunc {
	return ChainCmdMiddleware(cmd,
		CmdMiddlewareLogging,
		CmdMiddlewareConfig,
		CmdMiddlewareTracingConfig,
		CmdMiddlewareTracingSpan,
	)
}

// CmdMiddlewareLogging configures the logging system before executing the CLI command
func CmdMiddlewareLogging(f cli.ActionFunc) cli.ActionFunc {
	return func(c *cli.Context) error {
		logger := logging.NewLogger(c.App.Writer, c.App.ErrWriter, c.Bool("json"), c.Bool("quiet"), c.Bool("verbose"))
		c.Context = logger.WithContext(c.Context)
		return f(c)
	}
}

type configCtxKey struct{}

// ConfigFromCtx returns the configuration loaded by CmdMiddlewareConfig.
// Outside of a command it returns the defaults.
func ConfigFromCtx(ctx context.Context) config.Config {
	if cfg, ok := ctx.Value(configCtxKey{}).(config.Config); ok {
		return cfg
	}
	return config.Default()
}

// CmdMiddlewareConfig loads the configuration (defaults, file, environment, then flags)
// and refuses to run the command if the result is invalid.
func CmdMiddlewareConfig(f cli.ActionFunc) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := config.Load(c.String("config"))
		if err != nil {
			return err
		}
		applyFlags(c, &cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}
		c.Context = context.WithValue(c.Context, configCtxKey{}, cfg)
		return f(c)
	}
}

func applyFlags(c *cli.Context, cfg *config.Config) {
	for flag, dst := range map[string]*string{
		"girder.url":           &cfg.Girder.APIURL,
		"store.kind":           &cfg.Store.Kind,
		"store.bucket":         &cfg.Store.Bucket,
		"catalog.database-url": &cfg.Catalog.DatabaseURL,
		"queue.redis-url":      &cfg.Queue.RedisURL,
		"validator.policy":     &cfg.Validator.Policy,
		"version.strategy":     &cfg.Version.Strategy,
	} {
		if c.IsSet(flag) {
			*dst = c.String(flag)
		}
	}
}

// CmdMiddlewareTracingSpan starts a span with the command name that ends when
// the middleware exits after returning from the command or next middleware
func CmdMiddlewareTracingSpan(f cli.ActionFunc) cli.ActionFunc {
	return func(c *cli.Context) error {
		ctx, span := tracing.Start(c.Context, c.Command.FullName())
		defer span.End()
		c.Context = ctx
		err := f(c)
		if err != nil {
			tracing.SetSpanError(ctx, err)
		}
		return err
	}
}

// CmdMiddlewareTracingConfig configures the tracing system before executing the CLI command
func CmdMiddlewareTracingConfig(f cli.ActionFunc) cli.ActionFunc {
	return func(c *cli.Context) error {
		tracerProvider, err := newTracingProvider(c)
		if err != nil {
			return fmt.Errorf("could not initialize tracing: %w", err)
		}
		if tracerProvider == nil {
			c.Context = tracing.SetTracer(c.Context, nil)
			return f(c)
		}
		ctx := c.Context
		defer func() {
			if err := tracerProvider.Shutdown(ctx); err != nil {
				logging.Ctx(ctx).Debug("", "tracing shutdown error: %s", err.Error())
			}
		}()

		c.Context = tracing.SetTracer(ctx, tracerProvider.Tracer(Module))
		return f(c)
	}
}
