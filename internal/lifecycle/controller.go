// Package lifecycle ties the resolver, the catalog and the runner together
// into the top-level cluster commands.
//
// The intended order is provision, deploy-config, setup-master,
// setup-slaves, toast (any number of times), teardown. The order is a
// usage contract: every entry point can be invoked on its own and none of
// them checks that the previous ones ran.
package lifecycle

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/andrej220/eggo/internal/catalog"
	"github.com/andrej220/eggo/internal/lg"
	"github.com/andrej220/eggo/internal/resolver"

	ex "github.com/andrej220/eggo/pkg/executor"
)

// Backend launches, describes and destroys the cluster.
type Backend interface {
	resolver.Backend
	Launch(ctx context.Context) error
	Destroy(ctx context.Context) error
}

// Terminal provides the interactive operations on a single host.
type Terminal interface {
	Shell(ctx context.Context, ec ex.ExecutionContext, host string) error
	Forward(ctx context.Context, ec ex.ExecutionContext, host, localAddr, remoteAddr string) error
}

type Controller struct {
	backend  Backend
	catalog  *catalog.Catalog
	runner   *ex.Runner
	resolver *resolver.Resolver
	terminal Terminal
	ec       ex.ExecutionContext
}

func New(backend Backend, cat *catalog.Catalog, dialer ex.Dialer, terminal Terminal, ec ex.ExecutionContext) *Controller {
	runner := ex.NewRunner(dialer)
	return &Controller{
		backend:  backend,
		catalog:  cat,
		runner:   runner,
		resolver: resolver.New(backend, runner),
		terminal: terminal,
		ec:       ec,
	}
}

// Provision launches the cluster and tags its instances.
func (c *Controller) Provision(ctx context.Context) error {
	return c.backend.Launch(ctx)
}

// Teardown destroys the cluster. It runs no remote steps.
func (c *Controller) Teardown(ctx context.Context) error {
	return c.backend.Destroy(ctx)
}

// DeployConfig pushes the eggo and luigi configs to every worker.
// Precondition: the cluster is provisioned.
func (c *Controller) DeployConfig(ctx context.Context) (ex.Results, error) {
	return c.Run(ctx, catalog.DeployConfig)
}

// SetupMaster installs the toolchain on the master and restarts Hadoop.
// Precondition: deploy-config has run.
func (c *Controller) SetupMaster(ctx context.Context) (ex.Results, error) {
	return c.Run(ctx, catalog.SetupMaster)
}

// SetupSlaves installs eggo on every slave in parallel.
// Precondition: the master environment is bootstrapped (setup-master).
func (c *Controller) SetupSlaves(ctx context.Context) (ex.Results, error) {
	return c.Run(ctx, catalog.SetupSlaves)
}

// SubmitJob copies the job description to the master and launches it.
// Precondition: setup-master and setup-slaves have run.
func (c *Controller) SubmitJob(ctx context.Context, jobFile string) (ex.Results, error) {
	return c.Run(ctx, catalog.SubmitJob, jobFile)
}

// UpdateEggo reinstalls eggo on every worker in parallel.
// Precondition: setup-master and setup-slaves have run.
func (c *Controller) UpdateEggo(ctx context.Context) (ex.Results, error) {
	return c.Run(ctx, catalog.UpdateEggo)
}

// Run builds the named action, resolves its hosts on a fresh topology and
// fans it out.
func (c *Controller) Run(ctx context.Context, name catalog.Name, args ...string) (ex.Results, error) {
	action, err := c.catalog.Build(name, args...)
	if err != nil {
		return nil, err
	}
	logger := lg.FromContext(ctx).With(lg.String("action", string(action.Name)))
	ctx = lg.Attach(ctx, logger)

	ec := c.ec.WithParallel(action.Parallel)
	hosts, err := c.resolver.NewTopology(ec).Hosts(ctx, action.Target)
	if err != nil {
		return nil, err
	}
	logger.Info("running action",
		lg.String("target", action.Target.String()),
		lg.Strings("hosts", hosts),
		lg.String("precondition", action.Precondition))

	results, err := c.runner.RunOn(ctx, ec, hosts, action.Steps)
	if err != nil {
		return results, fmt.Errorf("%s: %w", action.Name, err)
	}
	return results, nil
}

// Login opens an interactive shell on the master.
func (c *Controller) Login(ctx context.Context) error {
	master, err := c.resolver.ResolveMaster(ctx)
	if err != nil {
		return err
	}
	return c.terminal.Shell(ctx, c.ec, master)
}

// WebProxy forwards localAddr to remotePort on the master until ctx is
// done, e.g. to reach the Spark or HDFS web UI.
func (c *Controller) WebProxy(ctx context.Context, localAddr string, remotePort int) error {
	master, err := c.resolver.ResolveMaster(ctx)
	if err != nil {
		return err
	}
	return c.terminal.Forward(ctx, c.ec, master, localAddr, net.JoinHostPort("localhost", strconv.Itoa(remotePort)))
}
