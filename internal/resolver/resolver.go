// Package resolver discovers the hosts of the running cluster. The
// provisioning backend is the source of truth for membership, so every
// command resolves the topology again instead of caching it on disk.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/andrej220/eggo/internal/lg"
	"github.com/go-playground/validator/v10"

	ex "github.com/andrej220/eggo/pkg/executor"
)

const (
	// masterLine is the report line holding the master address.
	masterLine = 2

	// EnvScript is sourced on the master to read the slave list.
	EnvScript = "/root/spark-ec2/ec2-variables.sh"
	SlavesVar = "SLAVES"
)

// Backend is the provisioning backend's "describe cluster" call.
type Backend interface {
	GetMaster(ctx context.Context) (string, error)
}

// StepRunner runs steps on hosts; *executor.Runner implements it.
type StepRunner interface {
	RunOn(ctx context.Context, ec ex.ExecutionContext, hosts []string, steps []ex.Step) (ex.Results, error)
}

var validate = validator.New()

// ParseMasterReport extracts the master address from a get-master report.
// The address is line index 2, trimmed. Reports with fewer lines, a blank
// line 2 or something that is neither a hostname nor an IP are rejected.
func ParseMasterReport(report string) (string, error) {
	lines := strings.Split(strings.ReplaceAll(report, "\r\n", "\n"), "\n")
	if len(lines) <= masterLine {
		return "", &ex.ResolutionError{
			Op:     "master",
			Reason: fmt.Sprintf("report has %d line(s), want at least %d", len(lines), masterLine+1),
		}
	}
	host := strings.TrimSpace(lines[masterLine])
	if host == "" {
		return "", &ex.ResolutionError{Op: "master", Reason: fmt.Sprintf("report line %d is empty", masterLine)}
	}
	if strings.ContainsAny(host, " \t") {
		return "", &ex.ResolutionError{Op: "master", Reason: fmt.Sprintf("report line %d is not an address: %q", masterLine, host)}
	}
	if err := validate.Var(host, "hostname_rfc1123|ip"); err != nil {
		return "", &ex.ResolutionError{Op: "master", Reason: fmt.Sprintf("report line %d is not an address: %q", masterLine, host), Err: err}
	}
	return host, nil
}

type Resolver struct {
	backend Backend
	runner  StepRunner
}

func New(backend Backend, runner StepRunner) *Resolver {
	return &Resolver{backend: backend, runner: runner}
}

// ResolveMaster asks the backend for the master address.
func (r *Resolver) ResolveMaster(ctx context.Context) (string, error) {
	report, err := r.backend.GetMaster(ctx)
	if err != nil {
		return "", &ex.ResolutionError{Op: "master", Reason: "backend get-master failed", Err: err}
	}
	master, err := ParseMasterReport(report)
	if err != nil {
		return "", err
	}
	lg.FromContext(ctx).Debug("resolved master", lg.String("master", master))
	return master, nil
}

// ResolveSlaves reads the slave list from the environment script on
// master. An empty list is a single-node cluster, not an error.
func (r *Resolver) ResolveSlaves(ctx context.Context, ec ex.ExecutionContext, master string) ([]string, error) {
	steps := []ex.Step{
		ex.Prefix("source "+EnvScript, ex.Run("echo $"+SlavesVar)),
	}
	results, err := r.runner.RunOn(ctx, ec.WithParallel(false), []string{master}, steps)
	if err != nil {
		var fe *ex.FanOutError
		if errors.As(err, &fe) && fe.Err != nil {
			err = fe.Err
		}
		return nil, &ex.ResolutionError{Op: "slaves", Reason: "reading " + SlavesVar + " on " + master, Err: err}
	}
	res, ok := results.Get(master)
	if !ok {
		return nil, &ex.ResolutionError{Op: "slaves", Reason: "no result from " + master}
	}
	slaves := strings.Fields(res.Stdout)
	lg.FromContext(ctx).Debug("resolved slaves", lg.Strings("slaves", slaves))
	return slaves, nil
}

// ResolveWorkers returns the master followed by the slaves.
func (r *Resolver) ResolveWorkers(ctx context.Context, ec ex.ExecutionContext) ([]string, error) {
	master, err := r.ResolveMaster(ctx)
	if err != nil {
		return nil, err
	}
	slaves, err := r.ResolveSlaves(ctx, ec, master)
	if err != nil {
		return nil, err
	}
	return append([]string{master}, slaves...), nil
}
