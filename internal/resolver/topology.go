package resolver

import (
	"context"
	"fmt"

	ex "github.com/andrej220/eggo/pkg/executor"
)

// Target selects which cluster hosts an action runs on.
type Target int

const (
	MasterOnly Target = iota
	SlavesOnly
	AllWorkers
)

func (t Target) String() string {
	switch t {
	case MasterOnly:
		return "master"
	case SlavesOnly:
		return "slaves"
	case AllWorkers:
		return "workers"
	}
	return fmt.Sprintf("Target(%d)", int(t))
}

// Topology is the cluster membership seen by one command. The master is
// resolved on first use and the slaves are read from it once; neither is
// refreshed afterwards. Create a new Topology for every command.
type Topology struct {
	r  *Resolver
	ec ex.ExecutionContext

	master string
	slaves []string

	haveMaster bool
	haveSlaves bool
}

func (r *Resolver) NewTopology(ec ex.ExecutionContext) *Topology {
	return &Topology{r: r, ec: ec}
}

func (t *Topology) Master(ctx context.Context) (string, error) {
	if t.haveMaster {
		return t.master, nil
	}
	master, err := t.r.ResolveMaster(ctx)
	if err != nil {
		return "", err
	}
	t.master, t.haveMaster = master, true
	return master, nil
}

func (t *Topology) Slaves(ctx context.Context) ([]string, error) {
	if t.haveSlaves {
		return t.slaves, nil
	}
	master, err := t.Master(ctx)
	if err != nil {
		return nil, err
	}
	slaves, err := t.r.ResolveSlaves(ctx, t.ec, master)
	if err != nil {
		return nil, err
	}
	t.slaves, t.haveSlaves = slaves, true
	return slaves, nil
}

// Workers is the master followed by the slaves.
func (t *Topology) Workers(ctx context.Context) ([]string, error) {
	slaves, err := t.Slaves(ctx)
	if err != nil {
		return nil, err
	}
	return append([]string{t.master}, slaves...), nil
}

// Hosts returns the hosts for target.
func (t *Topology) Hosts(ctx context.Context, target Target) ([]string, error) {
	switch target {
	case MasterOnly:
		master, err := t.Master(ctx)
		if err != nil {
			return nil, err
		}
		return []string{master}, nil
	case SlavesOnly:
		return t.Slaves(ctx)
	case AllWorkers:
		return t.Workers(ctx)
	}
	return nil, fmt.Errorf("unknown target %v", target)
}
