package executor

import (
	"context"
	"time"

	"github.com/andrej220/eggo/internal/lg"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Results holds one Result per host that was started, in host order.
type Results []Result

// Get returns the result for host.
func (rs Results) Get(host string) (Result, bool) {
	for _, r := range rs {
		if r.Host == host {
			return r, true
		}
	}
	return Result{}, false
}

// ByHost returns the results keyed by host.
func (rs Results) ByHost() map[string]Result {
	m := make(map[string]Result, len(rs))
	for _, r := range rs {
		m[r.Host] = r
	}
	return m
}

// Runner fans a step sequence out over hosts.
type Runner struct {
	dialer Dialer
}

func NewRunner(dialer Dialer) *Runner {
	return &Runner{dialer: dialer}
}

// RunOn runs steps against every host, one connection per host.
//
// Sequential mode (ec.Parallel false) walks hosts in order and stops at
// the first failing host unless ec.ContinueOnError is set; later hosts
// are never contacted. Parallel mode starts every host stream and waits
// for all of them: a failing host never cancels its siblings.
//
// Any host failure is returned as a *FanOutError naming the failed hosts.
func (r *Runner) RunOn(ctx context.Context, ec ExecutionContext, hosts []string, steps []Step) (Results, error) {
	logger := lg.FromContext(ctx)
	if len(hosts) == 0 {
		logger.Warn("no hosts to run on")
		return nil, nil
	}
	logger.Info("fan-out",
		lg.Strings("hosts", hosts),
		lg.Bool("parallel", ec.Parallel),
		lg.Int("steps", len(steps)))

	var results Results
	if ec.Parallel {
		results = r.runParallel(ctx, ec, hosts, steps)
	} else {
		results = r.runSequential(ctx, ec, hosts, steps)
	}
	return results, aggregate(results, len(hosts))
}

func (r *Runner) runSequential(ctx context.Context, ec ExecutionContext, hosts []string, steps []Step) Results {
	results := make(Results, 0, len(hosts))
	for _, host := range hosts {
		res := r.runHost(ctx, ec, host, steps)
		results = append(results, res)
		if !res.Succeeded && !ec.ContinueOnError {
			break
		}
	}
	return results
}

func (r *Runner) runParallel(ctx context.Context, ec ExecutionContext, hosts []string, steps []Step) Results {
	results := make(Results, len(hosts))

	// errgroup.Group without a context: a failing host does not
	// cancel the others, each slot is written by exactly one goroutine.
	var g errgroup.Group
	if ec.MaxParallel > 0 {
		g.SetLimit(ec.MaxParallel)
	}
	for i, host := range hosts {
		i, host := i, host
		g.Go(func() error {
			results[i] = r.runHost(ctx, ec, host, steps)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (r *Runner) runHost(ctx context.Context, ec ExecutionContext, host string, steps []Step) Result {
	logger := lg.FromContext(ctx).With(lg.String("host", host))
	start := time.Now()

	conn, err := r.dialer.Dial(ctx, ec, host)
	if err != nil {
		err = dialError(host, steps, err)
		logger.Error("connect failed", lg.Err(err))
		return Result{Host: host, ExitStatus: -1, Err: err}
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			logger.Debug("close connection", lg.Err(cerr))
		}
	}()

	task := newHostTask(host, conn, logger)
	err = task.Execute(ctx, steps)
	res := task.result(err)

	if err != nil {
		logger.Error("host failed",
			lg.Err(err),
			lg.Int("exit_status", res.ExitStatus),
			lg.Duration("elapsed", time.Since(start)))
	} else {
		logger.Info("host done", lg.Duration("elapsed", time.Since(start)))
	}
	return res
}

func aggregate(results Results, total int) error {
	var (
		errs   error
		failed []string
	)
	for _, res := range results {
		if res.Succeeded {
			continue
		}
		failed = append(failed, res.Host)
		errs = multierr.Append(errs, res.Err)
	}
	if len(failed) == 0 {
		return nil
	}
	return &FanOutError{Failed: failed, Total: total, Err: errs}
}

// dialError reports a host that could not be reached. When the first step
// to run is a file transfer it fails as that transfer would, with the
// *ConnectionError underneath.
func dialError(host string, steps []Step, err error) error {
	cerr := &ConnectionError{Host: host, Err: err}
	var scopes scopeStack
	switch s := firstPrimitive(steps, &scopes).(type) {
	case PutFile:
		return &TransferError{Host: host, LocalPath: s.LocalPath, RemotePath: scopes.resolve(s.RemotePath), Err: cerr}
	case AppendToFile:
		return &TransferError{Host: host, RemotePath: scopes.resolve(s.RemotePath), Err: cerr}
	}
	return cerr
}

// firstPrimitive returns the first non-scope step in execution order and
// leaves the scopes enclosing it pushed on s.
func firstPrimitive(steps []Step, s *scopeStack) Step {
	for _, step := range steps {
		var (
			f      frame
			nested []Step
		)
		switch st := step.(type) {
		case ChangeDirectoryScope:
			f, nested = frame{dir: st.Dir}, st.Steps
		case SetEnvScope:
			f, nested = frame{env: st.Env}, st.Steps
		case PrefixShellScope:
			f, nested = frame{prefix: st.Prefix}, st.Steps
		default:
			return step
		}
		s.push(f)
		if first := firstPrimitive(nested, s); first != nil {
			return first
		}
		s.pop()
	}
	return nil
}
