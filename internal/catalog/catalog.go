// Package catalog holds the fixed set of remote actions. Each entry maps
// an action name to a builder producing the step tree from the loaded
// configuration; nothing is registered at runtime.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/andrej220/eggo/internal/resolver"
	"github.com/andrej220/eggo/pkg/config"

	ex "github.com/andrej220/eggo/pkg/executor"
)

type Name string

const (
	DeployConfig Name = "deploy-config"
	SetupMaster  Name = "setup-master"
	SetupSlaves  Name = "setup-slaves"
	SubmitJob    Name = "toast"
	UpdateEggo   Name = "update-eggo"
)

// Action is an immutable description of one remote action.
type Action struct {
	Name     Name
	Target   resolver.Target
	Parallel bool
	Steps    []ex.Step
	// Precondition documents what must have run before; it is not checked.
	Precondition string
}

type builder struct {
	nargs int
	usage string
	build func(c *config.Config, args []string) (Action, error)
}

var builders = map[Name]builder{
	DeployConfig: {build: deployConfig},
	SetupMaster:  {build: setupMaster},
	SetupSlaves:  {build: setupSlaves},
	SubmitJob:    {nargs: 1, usage: "<job-config>", build: submitJob},
	UpdateEggo:   {build: updateEggo},
}

// Catalog builds actions from one loaded configuration.
type Catalog struct {
	cfg *config.Config
}

func New(cfg *config.Config) *Catalog {
	return &Catalog{cfg: cfg}
}

// Names lists the catalog entries in sorted order.
func Names() []Name {
	names := make([]Name, 0, len(builders))
	for n := range builders {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Build returns the action called name with its arguments bound.
func (c *Catalog) Build(name Name, args ...string) (Action, error) {
	b, ok := builders[name]
	if !ok {
		return Action{}, fmt.Errorf("unknown action %q", name)
	}
	if len(args) != b.nargs {
		return Action{}, fmt.Errorf("%s: want %d argument(s) %s, got %d", name, b.nargs, b.usage, len(args))
	}
	return b.build(c.cfg, args)
}

func deployConfig(c *config.Config, _ []string) (Action, error) {
	luigi, err := config.GenerateLuigiConfig(c)
	if err != nil {
		return Action{}, err
	}
	return Action{
		Name:   DeployConfig,
		Target: resolver.AllWorkers,
		// config must land before later steps read it
		Parallel: false,
		Steps: []ex.Step{
			ex.Run("mkdir -p " + c.WorkerEnv.WorkPath),
			ex.PutFile{LocalPath: c.Path, RemotePath: c.WorkerEnv.EggoConfigPath},
			ex.PutFile{Content: luigi, RemotePath: c.WorkerEnv.LuigiConfigPath},
		},
		Precondition: "cluster provisioned",
	}, nil
}

func setupMaster(c *config.Config, _ []string) (Action, error) {
	v := c.Versions
	steps := []ex.Step{
		ex.Run("mkdir -p " + c.WorkerEnv.WorkPath),
		installPip(),
		installFabricLuigi(),
	}
	steps = append(steps, installMaven(v.Maven)...)
	steps = append(steps,
		installAdam(c.WorkerEnv.WorkPath, v.AdamFork, v.AdamBranch),
		installEggo(c.WorkerEnv.WorkPath, v.EggoFork, v.EggoBranch),
		// restart Hadoop
		ex.Run(path.Join(c.WorkerEnv.HadoopHome, "bin", "stop-all.sh")),
		ex.Run(path.Join(c.WorkerEnv.HadoopHome, "bin", "start-all.sh")),
	)
	return Action{
		Name:         SetupMaster,
		Target:       resolver.MasterOnly,
		Parallel:     false,
		Steps:        steps,
		Precondition: "config deployed",
	}, nil
}

func setupSlaves(c *config.Config, _ []string) (Action, error) {
	return Action{
		Name:     SetupSlaves,
		Target:   resolver.SlavesOnly,
		Parallel: true,
		Steps: []ex.Step{
			installPip(),
			installEggo(c.WorkerEnv.WorkPath, c.Versions.EggoFork, c.Versions.EggoBranch),
		},
		Precondition: "master environment bootstrapped (setup-master)",
	}, nil
}

func updateEggo(c *config.Config, _ []string) (Action, error) {
	return Action{
		Name:     UpdateEggo,
		Target:   resolver.AllWorkers,
		Parallel: true,
		Steps: []ex.Step{
			ex.Run("rm -rf " + c.WorkerEnv.EggoHome),
			installEggo(c.WorkerEnv.WorkPath, c.Versions.EggoFork, c.Versions.EggoBranch),
		},
		Precondition: "setup-master and setup-slaves done",
	}, nil
}

// Job is the part of a job description the launcher needs.
type Job struct {
	DAG string `json:"dag"`
}

// ReadJob parses the job description at p.
func ReadJob(p string) (Job, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return Job{}, fmt.Errorf("read job %s: %w", p, err)
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return Job{}, fmt.Errorf("parse job %s: %w", p, err)
	}
	if strings.TrimSpace(job.DAG) == "" {
		return Job{}, fmt.Errorf("job %s: missing \"dag\" class name", p)
	}
	return job, nil
}

// DestFilename is the remote file name for a local job description: the
// last path segment with any query string removed.
func DestFilename(p string) string {
	name := p[strings.LastIndex(p, "/")+1:]
	if i := strings.IndexByte(name, '?'); i >= 0 {
		name = name[:i]
	}
	return name
}

// LaunchCommand is the command that runs dag against the remote config.
func LaunchCommand(dag, remoteConfig string) string {
	return fmt.Sprintf("toaster.py --local-scheduler %s --ToastConfig-config %s", dag, remoteConfig)
}

func submitJob(c *config.Config, args []string) (Action, error) {
	jobPath := args[0]
	job, err := ReadJob(jobPath)
	if err != nil {
		return Action{}, err
	}
	remote := path.Join(c.WorkerEnv.WorkPath, DestFilename(jobPath))

	env := map[string]string{
		// toaster.py reads the eggo config on the worker
		"EGGO_CONFIG":           c.WorkerEnv.EggoConfigPath,
		"LUIGI_CONFIG_PATH":     c.WorkerEnv.LuigiConfigPath,
		"AWS_ACCESS_KEY_ID":     c.AWS.AccessKeyID,
		"AWS_SECRET_ACCESS_KEY": c.AWS.SecretAccessKey,
		"SPARK_HOME":            c.WorkerEnv.SparkHome,
	}
	hadoopBin := path.Join(c.WorkerEnv.HadoopHome, "bin")

	return Action{
		Name:     SubmitJob,
		Target:   resolver.MasterOnly,
		Parallel: false,
		Steps: []ex.Step{
			ex.PutFile{LocalPath: jobPath, RemotePath: remote},
			ex.Prefix(fmt.Sprintf(`export PATH="$PATH:%s"`, hadoopBin),
				ex.Env(env,
					ex.Run(LaunchCommand(job.DAG, remote)),
				),
			),
		},
		Precondition: "setup-master and setup-slaves done",
	}, nil
}
