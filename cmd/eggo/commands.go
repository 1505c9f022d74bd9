package main

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/andrej220/eggo/internal/catalog"
	"github.com/andrej220/eggo/internal/lg"
	"github.com/spf13/cobra"

	ex "github.com/andrej220/eggo/pkg/executor"
)

// defaultProxyPort is the Spark master web UI.
const defaultProxyPort = 8080

// run wraps a controller call with setup and teardown of the app.
func run(fn func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, ctx, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()
		if err := fn(ctx, a, args); err != nil {
			a.logger.Error("command failed", lg.Err(err))
			return err
		}
		a.logger.Info("command done")
		return nil
	}
}

// action runs a catalog entry and reports per-host results.
func action(name catalog.Name) func(ctx context.Context, a *app, args []string) error {
	return func(ctx context.Context, a *app, args []string) error {
		results, err := a.controller.Run(ctx, name, args...)
		report(a.logger, results)
		return err
	}
}

func report(logger lg.Logger, results ex.Results) {
	for _, r := range results {
		if r.Succeeded {
			logger.Info("host ok", lg.String("host", r.Host))
			continue
		}
		logger.Error("host failed",
			lg.String("host", r.Host),
			lg.Int("exit_status", r.ExitStatus),
			lg.String("output", r.Output))
	}
}

func newCommands() []*cobra.Command {
	return []*cobra.Command{
		{
			Use:   "provision",
			Short: "Launch the cluster with spark-ec2 and tag its instances",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, a *app, _ []string) error {
				return a.controller.Provision(ctx)
			}),
		},
		{
			Use:   string(catalog.DeployConfig),
			Short: "Copy the eggo config and a generated luigi config to every worker",
			Args:  cobra.NoArgs,
			RunE:  run(action(catalog.DeployConfig)),
		},
		{
			Use:   string(catalog.SetupMaster),
			Short: "Install the toolchain on the master and restart Hadoop (after deploy-config)",
			Args:  cobra.NoArgs,
			RunE:  run(action(catalog.SetupMaster)),
		},
		{
			Use:   string(catalog.SetupSlaves),
			Short: "Install eggo on every slave in parallel (after setup-master)",
			Args:  cobra.NoArgs,
			RunE:  run(action(catalog.SetupSlaves)),
		},
		{
			Use:   string(catalog.SubmitJob) + " <job-config>",
			Short: "Copy a job description to the master and launch its DAG",
			Args:  cobra.ExactArgs(1),
			RunE:  run(action(catalog.SubmitJob)),
		},
		{
			Use:   string(catalog.UpdateEggo),
			Short: "Reinstall eggo on every worker in parallel",
			Args:  cobra.NoArgs,
			RunE:  run(action(catalog.UpdateEggo)),
		},
		{
			Use:   "teardown",
			Short: "Destroy the cluster",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, a *app, _ []string) error {
				return a.controller.Teardown(ctx)
			}),
		},
		{
			Use:   "login",
			Short: "Open a shell on the master",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, a *app, _ []string) error {
				return a.controller.Login(ctx)
			}),
		},
		{
			Use:   "web-proxy [remote-port]",
			Short: "Forward a local port to a web UI on the master until interrupted",
			Args:  cobra.MaximumNArgs(1),
			RunE: run(func(ctx context.Context, a *app, args []string) error {
				port := defaultProxyPort
				if len(args) == 1 {
					p, err := strconv.Atoi(args[0])
					if err != nil || p <= 0 || p > 65535 {
						return fmt.Errorf("invalid port %q", args[0])
					}
					port = p
				}
				local := net.JoinHostPort("localhost", strconv.Itoa(port))
				return a.controller.WebProxy(ctx, local, port)
			}),
		},
	}
}
